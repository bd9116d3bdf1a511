// Package controller implements the deception controller: it consumes
// attack events from the bus, spawns decoy pod sets in the decoy
// namespace, enforces the pod cap by evicting the oldest set, and reaps
// expired sets on a TTL sweep.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/deceptionops/deception-backend/internal/api/rest"
	"github.com/deceptionops/deception-backend/internal/bus"
	"github.com/deceptionops/deception-backend/internal/config"
	"github.com/deceptionops/deception-backend/internal/decoy"
	"github.com/deceptionops/deception-backend/internal/k8s"
	"github.com/deceptionops/deception-backend/internal/models"
	"github.com/deceptionops/deception-backend/internal/pkg/metrics"
)

const decoySelector = decoy.LabelRole + "=" + decoy.RoleDecoy

// Publisher is the slice of the event bus the controller needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, event interface{})
	Ping(ctx context.Context) error
}

// Options tune lifecycle timing. Zero values take the contract defaults.
type Options struct {
	Namespace  string
	RedisURL   string // injected into decoy pod env
	TTLMinutes int

	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration

	// Now overrides the clock for TTL arithmetic in tests.
	Now func() time.Time
}

// ActiveSet is the controller's view of one spawned decoy set.
type ActiveSet struct {
	AttackID   string   `json:"attack_id"`
	AttackerIP string   `json:"attacker_ip"`
	AttackType string   `json:"attack_type"`
	CreatedAt  string   `json:"created_at"`
	Pods       []string `json:"pods"`
	Services   []string `json:"services"`
	PodsReady  bool     `json:"pods_ready"`
}

// Controller orchestrates decoy lifecycle. The mutex guards counters and
// the active-set map only; it is never held across cluster or bus I/O.
type Controller struct {
	log       *slog.Logger
	client    *k8s.Client
	publisher Publisher
	opts      Options
	now       func() time.Time
	startedAt time.Time

	mu                    sync.Mutex
	totalAttacksReceived  int64
	totalSpawnedSets      int64
	totalCleanedSets      int64
	totalDuplicateSkipped int64
	totalEvictions        int64
	activeSets            map[string]*ActiveSet // keyed by short attack-id
}

func New(log *slog.Logger, client *k8s.Client, pub Publisher, opts Options) *Controller {
	if opts.ReadyPollInterval <= 0 {
		opts.ReadyPollInterval = 2 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = config.PodReadyTimeout * time.Second
	}
	if opts.TTLMinutes <= 0 {
		opts.TTLMinutes = 10
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		log:        log,
		client:     client,
		publisher:  pub,
		opts:       opts,
		now:        now,
		startedAt:  time.Now().UTC(),
		activeSets: make(map[string]*ActiveSet),
	}
}

// Run consumes attack_detected events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	bus.Subscribe(ctx, c.opts.RedisURL, c.log, func(msg bus.Message) {
		c.HandleMessage(ctx, msg)
	}, models.ChannelAttackDetected)
}

// HandleMessage decodes one bus delivery and processes it. Malformed
// payloads are logged and dropped.
func (c *Controller) HandleMessage(ctx context.Context, msg bus.Message) {
	var event models.AttackEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.log.Warn("invalid attack event payload", "error", err)
		return
	}
	if err := c.HandleAttackEvent(ctx, event); err != nil {
		c.log.Error("attack event handling failed", "error", err)
	}
}

// HandleAttackEvent runs the spawn flow for one attack: dedupe by
// attacker IP, evict at capacity, create the set, gate routing on
// readiness.
func (c *Controller) HandleAttackEvent(ctx context.Context, event models.AttackEvent) error {
	sourceIP := event.SourceIP
	if sourceIP == "" {
		sourceIP = "unknown"
	}
	attackType := event.AttackType
	if attackType == "" {
		attackType = "unknown"
	}
	attackID := event.AttackID
	if attackID == "" {
		attackID = uuid.New().String()
	}
	shortID := decoy.ShortID(attackID)

	c.mu.Lock()
	c.totalAttacksReceived++
	c.mu.Unlock()

	c.log.Info("attack event received", "attack_type", attackType, "source_ip", sourceIP, "attack_id", shortID)

	// Dedupe: one decoy set per attacker IP.
	existingShort, err := c.existingShortForIP(ctx, sourceIP)
	if err != nil {
		return fmt.Errorf("duplicate check failed: %w", err)
	}
	if existingShort != "" {
		c.log.Info("decoys already exist for attacker, skipping", "source_ip", sourceIP, "attack_id", existingShort)
		if c.isSetReady(ctx, existingShort) {
			// Re-publish the route in case the router restarted or the
			// initial publish was skipped.
			c.publishAddRoute(ctx, sourceIP, existingShort, existingShort)
			c.log.Info("re-published route for existing decoys", "source_ip", sourceIP, "attack_id", existingShort)
		}
		c.mu.Lock()
		c.totalDuplicateSkipped++
		c.mu.Unlock()
		metrics.DecoySetsTotal.WithLabelValues("duplicate_skipped").Inc()
		return nil
	}

	// Capacity guard: a set needs 3 pods of headroom.
	count, err := c.decoyPodCount(ctx)
	if err != nil {
		c.log.Error("pod count failed", "error", err)
	} else if count >= config.MaxDecoyPods-2 {
		oldest, err := c.findOldestSet(ctx)
		if err != nil {
			c.log.Error("oldest-set lookup failed", "error", err)
		} else if oldest != "" {
			c.log.Info("at capacity, evicting oldest set", "pod_count", count, "attack_id", oldest)
			c.deleteSet(ctx, oldest)
			c.publisher.Publish(ctx, models.ChannelDecoySpawned, models.DecoyLifecycleEvent{
				Timestamp: c.now().UTC().Format(time.RFC3339Nano),
				Type:      models.DecoyEvicted,
				AttackID:  oldest,
				Reason:    "capacity_limit",
			})
			c.mu.Lock()
			c.totalEvictions++
			c.totalCleanedSets++
			c.mu.Unlock()
			metrics.DecoySetsTotal.WithLabelValues("evicted").Inc()
		}
	}

	// Create the set.
	set := decoy.NewSet(decoy.Config{
		Namespace:  c.opts.Namespace,
		RedisURL:   c.opts.RedisURL,
		TTLMinutes: c.opts.TTLMinutes,
		Now:        c.now,
	}, attackID, sourceIP, attackType)

	createdPods, createdServices, quotaFailure := c.createSet(ctx, set)

	if quotaFailure && len(createdPods) < 3 {
		c.log.Warn("partial creation due to quota, tearing down", "created_pods", len(createdPods), "attack_id", shortID)
		c.deleteSet(ctx, shortID)
		return nil
	}
	if len(createdPods) == 0 {
		return fmt.Errorf("no pods created for attack %s", shortID)
	}

	// Routing only goes live once every pod reports Ready; sending
	// traffic earlier produces 502s at the router.
	c.log.Info("waiting for decoy pods", "pods", createdPods)
	podsReady := c.waitForPodsReady(ctx, createdPods)
	if podsReady {
		c.log.Info("all decoy pods ready", "attack_id", shortID)
	} else {
		c.log.Warn("timeout waiting for decoy pods, skipping route update", "attack_id", shortID)
	}

	c.mu.Lock()
	c.totalSpawnedSets++
	c.activeSets[shortID] = &ActiveSet{
		AttackID:   attackID,
		AttackerIP: sourceIP,
		AttackType: attackType,
		CreatedAt:  c.now().UTC().Format(time.RFC3339Nano),
		Pods:       createdPods,
		Services:   createdServices,
		PodsReady:  podsReady,
	}
	c.mu.Unlock()
	metrics.DecoySetsTotal.WithLabelValues("spawned").Inc()

	c.publisher.Publish(ctx, models.ChannelDecoySpawned, models.DecoyLifecycleEvent{
		Timestamp:     c.now().UTC().Format(time.RFC3339Nano),
		Type:          models.DecoySpawned,
		AttackID:      attackID,
		AttackerIP:    sourceIP,
		AttackType:    attackType,
		DecoyPods:     createdPods,
		DecoyServices: createdServices,
		PodsReady:     &podsReady,
	})

	if podsReady {
		c.publishAddRoute(ctx, sourceIP, attackID, shortID)
	}

	c.log.Info("decoy set complete", "attack_id", shortID, "source_ip", sourceIP, "pods", createdPods)
	return nil
}

// createSet applies the generated resources, recording quota failures.
func (c *Controller) createSet(ctx context.Context, set decoy.Set) (pods, services []string, quotaFailure bool) {
	podsAPI := c.client.Clientset.CoreV1().Pods(c.opts.Namespace)
	svcAPI := c.client.Clientset.CoreV1().Services(c.opts.Namespace)

	for _, pod := range set.Pods {
		pod := pod
		err := c.client.CallWithRetry(ctx, k8s.DefaultRetryAttempts, func(callCtx context.Context) error {
			_, err := podsAPI.Create(callCtx, pod, metav1.CreateOptions{})
			return err
		})
		if err != nil {
			c.log.Error("pod create failed", "pod", pod.Name, "error", err)
			if k8s.IsQuotaExceeded(err) {
				quotaFailure = true
			}
			continue
		}
		c.log.Info("created pod", "pod", pod.Name)
		pods = append(pods, pod.Name)
	}

	for _, svc := range set.Services {
		svc := svc
		err := c.client.CallWithRetry(ctx, k8s.DefaultRetryAttempts, func(callCtx context.Context) error {
			_, err := svcAPI.Create(callCtx, svc, metav1.CreateOptions{})
			return err
		})
		if err != nil {
			c.log.Error("service create failed", "service", svc.Name, "error", err)
			if k8s.IsQuotaExceeded(err) {
				quotaFailure = true
			}
			continue
		}
		c.log.Info("created service", "service", svc.Name)
		services = append(services, svc.Name)
	}

	return pods, services, quotaFailure
}

// listPods runs a rate-limited, timeout-bounded pod list in the decoy
// namespace.
func (c *Controller) listPods(ctx context.Context, selector string) (*corev1.PodList, error) {
	var pods *corev1.PodList
	err := c.client.Call(ctx, func(callCtx context.Context) error {
		var err error
		pods, err = c.client.Clientset.CoreV1().Pods(c.opts.Namespace).List(callCtx, metav1.ListOptions{LabelSelector: selector})
		return err
	})
	return pods, err
}

func (c *Controller) listServices(ctx context.Context, selector string) (*corev1.ServiceList, error) {
	var services *corev1.ServiceList
	err := c.client.Call(ctx, func(callCtx context.Context) error {
		var err error
		services, err = c.client.Clientset.CoreV1().Services(c.opts.Namespace).List(callCtx, metav1.ListOptions{LabelSelector: selector})
		return err
	})
	return services, err
}

func (c *Controller) publishAddRoute(ctx context.Context, attackerIP, attackID, shortID string) {
	ns := c.opts.Namespace
	c.publisher.Publish(ctx, models.ChannelRoutingUpdate, models.RoutingUpdateEvent{
		Timestamp:       c.now().UTC().Format(time.RFC3339Nano),
		Type:            models.RouteAdd,
		AttackerIP:      attackerIP,
		AttackID:        attackID,
		FrontendService: fmt.Sprintf("decoy-fe-%s.%s.svc.cluster.local:%d", shortID, ns, decoy.FrontendPort),
		APIService:      fmt.Sprintf("decoy-api-%s.%s.svc.cluster.local:%d", shortID, ns, decoy.APIPort),
		DBService:       fmt.Sprintf("decoy-db-%s.%s.svc.cluster.local:%d", shortID, ns, decoy.DBPort),
	})
}

// existingShortForIP returns the short attack-id of decoys already
// serving this attacker, or "".
func (c *Controller) existingShortForIP(ctx context.Context, attackerIP string) (string, error) {
	selector := fmt.Sprintf("%s,%s=%s", decoySelector, decoy.LabelAttackerIP, decoy.SanitizeIP(attackerIP))
	pods, err := c.listPods(ctx, selector)
	if err != nil {
		return "", err
	}
	for _, pod := range pods.Items {
		if short := pod.Labels[decoy.LabelAttackID]; short != "" {
			return short, nil
		}
	}
	return "", nil
}

func (c *Controller) decoyPodCount(ctx context.Context) (int, error) {
	pods, err := c.listPods(ctx, decoySelector)
	if err != nil {
		return 0, err
	}
	return len(pods.Items), nil
}

// isSetReady reports whether every pod of a set is Running with
// Ready=True. An empty set is not ready.
func (c *Controller) isSetReady(ctx context.Context, shortID string) bool {
	selector := fmt.Sprintf("%s,%s=%s", decoySelector, decoy.LabelAttackID, shortID)
	pods, err := c.listPods(ctx, selector)
	if err != nil || len(pods.Items) == 0 {
		return false
	}
	for i := range pods.Items {
		if !podIsReady(&pods.Items[i]) {
			return false
		}
	}
	return true
}

func podIsReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// findOldestSet returns the short attack-id of the set with the earliest
// created-at annotation, or "". Timestamps are compared as instants;
// RFC3339Nano drops trailing zeros, so string order is not time order.
func (c *Controller) findOldestSet(ctx context.Context) (string, error) {
	pods, err := c.listPods(ctx, decoySelector)
	if err != nil {
		return "", err
	}

	oldestBySet := make(map[string]time.Time) // short id -> earliest created-at
	for _, pod := range pods.Items {
		short := pod.Labels[decoy.LabelAttackID]
		created := pod.Annotations[decoy.AnnCreatedAt]
		if short == "" || created == "" {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			continue
		}
		if prev, ok := oldestBySet[short]; !ok || createdAt.Before(prev) {
			oldestBySet[short] = createdAt
		}
	}

	var oldest string
	var oldestAt time.Time
	for short, at := range oldestBySet {
		if oldest == "" || at.Before(oldestAt) {
			oldest, oldestAt = short, at
		}
	}
	return oldest, nil
}

// deleteSet removes all pods and services of a set and returns the count
// of resources deleted. Individual delete failures are logged and
// skipped.
func (c *Controller) deleteSet(ctx context.Context, shortID string) int {
	selector := fmt.Sprintf("%s,%s=%s", decoySelector, decoy.LabelAttackID, shortID)
	podsAPI := c.client.Clientset.CoreV1().Pods(c.opts.Namespace)
	svcAPI := c.client.Clientset.CoreV1().Services(c.opts.Namespace)
	deleted := 0

	pods, err := c.listPods(ctx, selector)
	if err != nil {
		c.log.Error("pod list for deletion failed", "attack_id", shortID, "error", err)
	} else {
		for _, pod := range pods.Items {
			name := pod.Name
			err := c.client.Call(ctx, func(callCtx context.Context) error {
				return podsAPI.Delete(callCtx, name, metav1.DeleteOptions{})
			})
			if err != nil {
				c.log.Warn("pod delete failed", "pod", name, "error", err)
				continue
			}
			c.log.Info("deleted pod", "pod", name, "attack_id", shortID)
			deleted++
		}
	}

	services, err := c.listServices(ctx, selector)
	if err != nil {
		c.log.Error("service list for deletion failed", "attack_id", shortID, "error", err)
	} else {
		for _, svc := range services.Items {
			name := svc.Name
			err := c.client.Call(ctx, func(callCtx context.Context) error {
				return svcAPI.Delete(callCtx, name, metav1.DeleteOptions{})
			})
			if err != nil {
				c.log.Warn("service delete failed", "service", name, "error", err)
				continue
			}
			c.log.Info("deleted service", "service", name, "attack_id", shortID)
			deleted++
		}
	}

	c.mu.Lock()
	delete(c.activeSets, shortID)
	c.mu.Unlock()

	return deleted
}

// waitForPodsReady polls the named pods until all are Ready or the
// timeout elapses.
func (c *Controller) waitForPodsReady(ctx context.Context, podNames []string) bool {
	podsAPI := c.client.Clientset.CoreV1().Pods(c.opts.Namespace)
	deadline := time.Now().Add(c.opts.ReadyTimeout)

	for {
		allReady := true
		for _, name := range podNames {
			var pod *corev1.Pod
			err := c.client.Call(ctx, func(callCtx context.Context) error {
				var err error
				pod, err = podsAPI.Get(callCtx, name, metav1.GetOptions{})
				return err
			})
			if err != nil || !podIsReady(pod) {
				allReady = false
				break
			}
		}
		if allReady {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.opts.ReadyPollInterval):
		}
	}
}

// RunTTLSweeper reaps expired decoy sets every sweep interval until ctx
// is cancelled.
func (c *Controller) RunTTLSweeper(ctx context.Context) {
	ticker := time.NewTicker(config.TTLCheckSec * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SweepExpired(ctx); err != nil {
				c.log.Error("ttl sweep failed", "error", err)
			}
		}
	}
}

// SweepExpired deletes every set whose age exceeds its ttl-minutes
// annotation and publishes the expiry and route-removal events.
func (c *Controller) SweepExpired(ctx context.Context) error {
	pods, err := c.listPods(ctx, decoySelector)
	if err != nil {
		return err
	}

	now := c.now().UTC()
	expired := make(map[string]bool)
	for _, pod := range pods.Items {
		short := pod.Labels[decoy.LabelAttackID]
		created := pod.Annotations[decoy.AnnCreatedAt]
		if short == "" || created == "" {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			continue
		}
		ttlMinutes := float64(c.opts.TTLMinutes)
		if raw := pod.Annotations[decoy.AnnTTLMinutes]; raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				ttlMinutes = float64(n)
			}
		}
		if now.Sub(createdAt).Minutes() > ttlMinutes {
			expired[short] = true
		}
	}

	for short := range expired {
		c.log.Info("ttl expired, cleaning up set", "attack_id", short)
		deleted := c.deleteSet(ctx, short)

		ts := c.now().UTC().Format(time.RFC3339Nano)
		c.publisher.Publish(ctx, models.ChannelDecoySpawned, models.DecoyLifecycleEvent{
			Timestamp:        ts,
			Type:             models.DecoyExpired,
			AttackID:         short,
			ResourcesDeleted: deleted,
			Reason:           "ttl_expired",
		})
		c.publisher.Publish(ctx, models.ChannelRoutingUpdate, models.RoutingUpdateEvent{
			Timestamp: ts,
			Type:      models.RouteRemove,
			AttackID:  short,
			Reason:    "ttl_expired",
		})

		c.mu.Lock()
		c.totalCleanedSets++
		c.mu.Unlock()
		metrics.DecoySetsTotal.WithLabelValues("expired").Inc()
	}

	return nil
}

// Routes registers the controller endpoints.
func (c *Controller) Routes(r *mux.Router) {
	r.HandleFunc("/status", c.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", c.handleHealth).Methods(http.MethodGet)
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	podCount, err := c.decoyPodCount(r.Context())
	if err != nil {
		c.log.Error("pod count failed", "error", err)
	}

	c.mu.Lock()
	active := make(map[string]*ActiveSet, len(c.activeSets))
	for k, v := range c.activeSets {
		copied := *v
		active[k] = &copied
	}
	body := map[string]interface{}{
		"total_attacks_received":  c.totalAttacksReceived,
		"total_spawned_sets":      c.totalSpawnedSets,
		"total_cleaned_sets":      c.totalCleanedSets,
		"total_duplicate_skipped": c.totalDuplicateSkipped,
		"total_evictions":         c.totalEvictions,
		"active_decoy_sets":       active,
		"active_set_count":        len(active),
		"current_pod_count":       podCount,
		"max_pods":                config.MaxDecoyPods,
		"max_sets":                config.MaxDecoySets,
		"decoy_namespace":         c.opts.Namespace,
		"started_at":              c.startedAt.Format(time.RFC3339Nano),
		"uptime_seconds":          int64(math.Round(time.Since(c.startedAt).Seconds())),
	}
	c.mu.Unlock()

	rest.RespondJSON(w, http.StatusOK, body)
}

func (c *Controller) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisOK := c.publisher.Ping(r.Context()) == nil
	k8sOK := c.client != nil && c.client.Clientset != nil

	rest.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"service":              "deception-controller",
		"kubernetes_connected": k8sOK,
		"redis_connected":      redisOK,
	})
}
