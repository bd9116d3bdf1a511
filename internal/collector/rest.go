package collector

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/deceptionops/deception-backend/internal/api/rest"
)

// Routes registers the collector's REST endpoints.
func (c *Collector) Routes(r *mux.Router) {
	r.HandleFunc("/api/events/recent", c.handleRecentEvents).Methods(http.MethodGet)
	r.HandleFunc("/health", c.handleHealth).Methods(http.MethodGet)
}

func (c *Collector) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	events := c.RecentEvents()
	rest.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "event-collector",
		"count":   len(events),
		"events":  events,
	})
}

func (c *Collector) handleHealth(w http.ResponseWriter, r *http.Request) {
	rest.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"service":           "event-collector",
		"websocket_port":    c.opts.WebSocketPort,
		"rest_port":         c.opts.RESTPort,
		"connected_clients": c.hub.ClientCount(),
		"recent_events":     len(c.RecentEvents()),
	})
}
