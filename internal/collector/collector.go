// Package collector merges the Redis event bus and the cluster pod watch
// into one stream, fans it out over WebSocket, and rebuilds a topology
// snapshot on a fixed cadence. Every event passing through is also kept
// in a bounded recent-events ring for the REST surface.
package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deceptionops/deception-backend/internal/bus"
	"github.com/deceptionops/deception-backend/internal/k8s"
	"github.com/deceptionops/deception-backend/internal/models"
)

const (
	maxRecentEvents    = 200
	localEventIDWindow = 2000
)

// Broadcaster is the fan-out sink (the WebSocket hub in production).
type Broadcaster interface {
	BroadcastEvent(event models.Event) error
	ClientCount() int
}

// Publisher is the slice of the event bus the collector needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, event interface{})
	Ping(ctx context.Context) error
}

// Options configure the collector.
type Options struct {
	RedisURL            string
	MonitoredNamespaces []string
	GraphInterval       time.Duration
	WebSocketPort       int
	RESTPort            int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// route is one active attacker redirect, tracked from routing_update
// events for the attacker_route topology edges.
type route struct {
	TargetEndpoint string
	AttackID       string
	UpdatedAt      string
}

// Collector owns the merged stream state.
type Collector struct {
	log       *slog.Logger
	client    *k8s.Client
	hub       Broadcaster
	publisher Publisher
	opts      Options
	now       func() time.Time

	recentMu sync.Mutex
	recent   []models.Event // ring, newest last

	// localIDs remembers event ids this process published, so the bus
	// subscriber can drop the echo of its own pod_status events.
	localIDs *lru.Cache[string, struct{}]

	routesMu       sync.Mutex
	attackerRoutes map[string]route  // attacker ip -> route
	attackIDToIP   map[string]string // attack id -> attacker ip
}

func New(log *slog.Logger, client *k8s.Client, hub Broadcaster, pub Publisher, opts Options) *Collector {
	if opts.GraphInterval <= 0 {
		opts.GraphInterval = 5 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	localIDs, _ := lru.New[string, struct{}](localEventIDWindow)
	return &Collector{
		log:            log,
		client:         client,
		hub:            hub,
		publisher:      pub,
		opts:           opts,
		now:            now,
		localIDs:       localIDs,
		attackerRoutes: make(map[string]route),
		attackIDToIP:   make(map[string]string),
	}
}

// RunSubscriber consumes all bus channels until ctx is cancelled.
func (c *Collector) RunSubscriber(ctx context.Context) {
	bus.Subscribe(ctx, c.opts.RedisURL, c.log, c.HandleBusMessage,
		models.ChannelAttackDetected,
		models.ChannelDecoySpawned,
		models.ChannelDecoyInteraction,
		models.ChannelRoutingUpdate,
		models.ChannelPodStatus,
	)
}

// HandleBusMessage normalizes one bus delivery and dispatches it to the
// stream. Echoes of locally-published events are dropped.
func (c *Collector) HandleBusMessage(msg bus.Message) {
	event := c.normalize(msg)

	if msg.Channel == models.ChannelRoutingUpdate {
		c.updateAttackerRoutes(event)
	}

	if id, ok := event["event_id"].(string); ok && c.isLocalEventID(id) {
		return
	}

	c.Dispatch(event)
}

// normalize gives every bus payload the stream envelope: a timestamp,
// its channel, and an event_type. Non-JSON payloads are wrapped as
// {"message": <raw>}.
func (c *Collector) normalize(msg bus.Message) models.Event {
	var event models.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil || event == nil {
		event = models.Event{"message": string(msg.Payload)}
	}

	if _, ok := event["timestamp"]; !ok {
		event["timestamp"] = c.now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := event["channel"]; !ok {
		event["channel"] = msg.Channel
	}
	if _, ok := event["event_type"]; !ok {
		if t, ok := event["type"].(string); ok && t != "" {
			event["event_type"] = t
		} else {
			event["event_type"] = msg.Channel
		}
	}
	return event
}

// Dispatch appends an event to the recent ring and broadcasts it.
func (c *Collector) Dispatch(event models.Event) {
	c.recentMu.Lock()
	c.recent = append(c.recent, event)
	if len(c.recent) > maxRecentEvents {
		c.recent = c.recent[len(c.recent)-maxRecentEvents:]
	}
	c.recentMu.Unlock()

	if err := c.hub.BroadcastEvent(event); err != nil {
		c.log.Warn("event broadcast failed", "error", err)
	}
}

// RecentEvents returns a copy of the ring, oldest first.
func (c *Collector) RecentEvents() []models.Event {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	out := make([]models.Event, len(c.recent))
	copy(out, c.recent)
	return out
}

// markLocalEventID records an event id this process originated.
func (c *Collector) markLocalEventID(id string) {
	c.localIDs.Add(id, struct{}{})
}

func (c *Collector) isLocalEventID(id string) bool {
	return c.localIDs.Contains(id)
}

// updateAttackerRoutes maintains the forward and inverse route indexes
// from add_route/remove_route events. remove_route may identify the
// route by attacker_ip, attack_id, or both.
func (c *Collector) updateAttackerRoutes(event models.Event) {
	eventType, _ := event["type"].(string)
	if eventType == "" {
		eventType, _ = event["event_type"].(string)
	}
	attackID, _ := event["attack_id"].(string)
	attackerIP, _ := event["attacker_ip"].(string)

	switch eventType {
	case models.RouteAdd:
		frontend, _ := event["frontend_service"].(string)
		if attackerIP == "" || frontend == "" {
			return
		}
		updatedAt, _ := event["timestamp"].(string)
		if updatedAt == "" {
			updatedAt = c.now().UTC().Format(time.RFC3339Nano)
		}
		c.routesMu.Lock()
		c.attackerRoutes[attackerIP] = route{
			TargetEndpoint: frontend,
			AttackID:       attackID,
			UpdatedAt:      updatedAt,
		}
		if attackID != "" {
			c.attackIDToIP[attackID] = attackerIP
		}
		c.routesMu.Unlock()

	case models.RouteRemove:
		c.routesMu.Lock()
		if attackerIP != "" {
			delete(c.attackerRoutes, attackerIP)
		} else if attackID != "" {
			if mapped, ok := c.attackIDToIP[attackID]; ok {
				delete(c.attackerRoutes, mapped)
			}
		}
		if attackID != "" {
			delete(c.attackIDToIP, attackID)
		}
		c.routesMu.Unlock()
	}
}

// attackerRoutesSnapshot copies the forward route table.
func (c *Collector) attackerRoutesSnapshot() map[string]route {
	c.routesMu.Lock()
	defer c.routesMu.Unlock()
	out := make(map[string]route, len(c.attackerRoutes))
	for k, v := range c.attackerRoutes {
		out[k] = v
	}
	return out
}

// endpointToServiceID maps "svc.ns.svc.cluster.local:port" to the
// topology node id "service:ns:svc". Returns "" for unparseable hosts.
func endpointToServiceID(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	host := endpoint
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return ""
	}
	return serviceNodeID(parts[1], parts[0])
}

func serviceNodeID(namespace, name string) string {
	return "service:" + namespace + ":" + name
}

func podNodeID(namespace, name string) string {
	return "pod:" + namespace + ":" + name
}

// inferRole classifies a node for the dashboard: decoys by label or
// namespace, then by namespace function.
func inferRole(namespace string, labels map[string]string) string {
	if labels["role"] == "decoy" || namespace == "decoy-pool" {
		return models.RoleDecoy
	}
	switch namespace {
	case "deception-gateway":
		return models.RoleGateway
	case "monitoring":
		return models.RoleMonitoring
	}
	return models.RoleReal
}
