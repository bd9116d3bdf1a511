// Package analyzer implements the traffic-analysis HTTP service. It
// receives mirrored request metadata from the traffic-router, runs the
// detector, and publishes attack events to the bus when the top finding
// clears the confidence threshold.
package analyzer

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/deceptionops/deception-backend/internal/api/rest"
	"github.com/deceptionops/deception-backend/internal/detector"
	"github.com/deceptionops/deception-backend/internal/models"
	"github.com/deceptionops/deception-backend/internal/pkg/logger"
	"github.com/deceptionops/deception-backend/internal/pkg/metrics"
)

const (
	// maxRecentAttacks bounds the in-memory attack buffer.
	maxRecentAttacks = 100

	// Rate-tracking state older than staleStateMaxAge is purged by the
	// cleanup loop.
	cleanupInterval  = 60 * time.Second
	staleStateMaxAge = 120 * time.Second
)

// Publisher is the slice of the event bus the analyzer needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, event interface{})
	Ping(ctx context.Context) error
}

// Service holds the analyzer's detector, bus handle, and counters.
type Service struct {
	log       *slog.Logger
	detector  *detector.Detector
	publisher Publisher
	threshold float64
	startedAt time.Time

	statsMu         sync.Mutex
	totalAnalyzed   int64
	attacksDetected int64
	attacksByType   map[string]int64

	recentMu      sync.Mutex
	recentAttacks []models.AttackEvent // ring, newest last
}

func NewService(log *slog.Logger, det *detector.Detector, pub Publisher, threshold float64) *Service {
	return &Service{
		log:           log,
		detector:      det,
		publisher:     pub,
		threshold:     threshold,
		startedAt:     time.Now().UTC(),
		attacksByType: make(map[string]int64),
	}
}

// Routes registers the analyzer endpoints on the router.
func (s *Service) Routes(r *mux.Router) {
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/recent-attacks", s.handleRecentAttacks).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// RunCleanup periodically purges stale rate-tracking state. Blocks until
// ctx is cancelled.
func (s *Service) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.detector.CleanupStale(staleStateMaxAge)
		}
	}
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.RequestDescriptor
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.RespondError(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if req.Method == "" || req.Path == "" {
		rest.RespondError(w, http.StatusBadRequest, "Missing required fields: method, path")
		return
	}

	findings := s.detector.Analyze(req)

	s.statsMu.Lock()
	s.totalAnalyzed++
	s.statsMu.Unlock()

	// Only findings strictly above the threshold count as an attack.
	var high []models.Finding
	for _, f := range findings {
		if f.Confidence > s.threshold {
			high = append(high, f)
		}
	}

	if len(high) == 0 {
		metrics.RequestsAnalyzedTotal.WithLabelValues("clean").Inc()
		rest.RespondJSON(w, http.StatusOK, models.AnalyzeResponse{
			Attack: false,
			Action: "allow",
		})
		return
	}

	// The highest-confidence finding drives the verdict. Stable sort keeps
	// the detector's ordering for ties.
	sort.SliceStable(high, func(i, j int) bool {
		return high[i].Confidence > high[j].Confidence
	})
	top := high[0]

	event := models.AttackEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Type:          "attack_detected",
		AttackType:    top.AttackType,
		Confidence:    top.Confidence,
		SourceIP:      top.SourceIP,
		Evidence:      top.Evidence,
		FindingsCount: len(high),
		AllFindings:   high,
		Request: models.RequestSummary{
			Method:    req.Method,
			Path:      req.Path,
			SourceIP:  req.SourceIP,
			UserAgent: userAgent(req.Headers),
		},
	}

	s.publisher.Publish(r.Context(), models.ChannelAttackDetected, event)

	s.statsMu.Lock()
	s.attacksDetected++
	for _, f := range high {
		s.attacksByType[f.AttackType]++
	}
	s.statsMu.Unlock()

	s.recentMu.Lock()
	s.recentAttacks = append(s.recentAttacks, event)
	if len(s.recentAttacks) > maxRecentAttacks {
		s.recentAttacks = s.recentAttacks[len(s.recentAttacks)-maxRecentAttacks:]
	}
	s.recentMu.Unlock()

	metrics.RequestsAnalyzedTotal.WithLabelValues("attack").Inc()
	metrics.AttacksDetectedTotal.WithLabelValues(top.AttackType).Inc()

	s.log.Info("attack detected",
		"attack_type", top.AttackType,
		"confidence", top.Confidence,
		"source_ip", top.SourceIP,
		"findings", len(high),
		"request_id", logger.FromContext(r.Context()))

	rest.RespondJSON(w, http.StatusOK, models.AnalyzeResponse{
		Attack:        true,
		Type:          &top.AttackType,
		Confidence:    &top.Confidence,
		Action:        "redirect_to_decoy",
		FindingsCount: len(high),
		TopFinding:    &top,
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.statsMu.Lock()
	total := s.totalAnalyzed
	detected := s.attacksDetected
	byType := make(map[string]int64, len(s.attacksByType))
	for k, v := range s.attacksByType {
		byType[k] = v
	}
	s.statsMu.Unlock()

	rate := 0.0
	if total > 0 {
		rate = math.Round(float64(detected)/float64(total)*10000) / 10000
	}

	rest.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"total_analyzed":         total,
		"total_attacks_detected": detected,
		"attacks_by_type":        byType,
		"detection_rate":         rate,
		"confidence_threshold":   s.threshold,
		"started_at":             s.startedAt.Format(time.RFC3339Nano),
		"uptime_seconds":         int64(math.Round(time.Since(s.startedAt).Seconds())),
		"tracking_state":         s.detector.Stats(),
	})
}

func (s *Service) handleRecentAttacks(w http.ResponseWriter, r *http.Request) {
	s.recentMu.Lock()
	attacks := make([]models.AttackEvent, len(s.recentAttacks))
	// Newest first.
	for i, e := range s.recentAttacks {
		attacks[len(s.recentAttacks)-1-i] = e
	}
	s.recentMu.Unlock()

	rest.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(attacks),
		"max_stored": maxRecentAttacks,
		"attacks":    attacks,
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisOK := s.publisher.Ping(r.Context()) == nil

	s.statsMu.Lock()
	total := s.totalAnalyzed
	s.statsMu.Unlock()

	rest.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"service":         "traffic-analyzer",
		"redis_connected": redisOK,
		"total_analyzed":  total,
	})
}

func userAgent(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "User-Agent") {
			return v
		}
	}
	return ""
}
