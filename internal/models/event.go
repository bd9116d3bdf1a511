package models

// Bus channel names. The collector subscribes to all of them.
const (
	ChannelAttackDetected   = "attack_detected"
	ChannelDecoySpawned     = "decoy_spawned"
	ChannelDecoyInteraction = "decoy_interaction"
	ChannelRoutingUpdate    = "routing_update"
	ChannelPodStatus        = "pod_status"
)

// AttackEvent is published on attack_detected when the analyzer's
// highest-confidence finding clears the threshold.
type AttackEvent struct {
	Timestamp     string         `json:"timestamp"`
	Type          string         `json:"type"` // always "attack_detected"
	AttackType    string         `json:"attack_type"`
	Confidence    float64        `json:"confidence"`
	SourceIP      string         `json:"source_ip"`
	Evidence      string         `json:"evidence"`
	FindingsCount int            `json:"findings_count"`
	AllFindings   []Finding      `json:"all_findings"`
	Request       RequestSummary `json:"request"`
	AttackID      string         `json:"attack_id,omitempty"`
}

// DecoyLifecycleEvent is published on decoy_spawned for spawn, eviction,
// and TTL expiry (distinguished by Type).
type DecoyLifecycleEvent struct {
	Timestamp        string   `json:"timestamp"`
	Type             string   `json:"type"` // decoy_spawned | decoy_evicted | decoy_expired
	AttackID         string   `json:"attack_id"`
	AttackerIP       string   `json:"attacker_ip,omitempty"`
	AttackType       string   `json:"attack_type,omitempty"`
	DecoyPods        []string `json:"decoy_pods,omitempty"`
	DecoyServices    []string `json:"decoy_services,omitempty"`
	PodsReady        *bool    `json:"pods_ready,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	ResourcesDeleted int      `json:"resources_deleted,omitempty"`
}

const (
	DecoySpawned = "decoy_spawned"
	DecoyEvicted = "decoy_evicted"
	DecoyExpired = "decoy_expired"
)

// RoutingUpdateEvent instructs the traffic-router to add or remove an
// attacker redirect. remove_route identifies the route by attack_id,
// attacker_ip, or both.
type RoutingUpdateEvent struct {
	Timestamp       string `json:"timestamp"`
	Type            string `json:"type"` // add_route | remove_route
	AttackerIP      string `json:"attacker_ip,omitempty"`
	AttackID        string `json:"attack_id,omitempty"`
	FrontendService string `json:"frontend_service,omitempty"`
	APIService      string `json:"api_service,omitempty"`
	DBService       string `json:"db_service,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

const (
	RouteAdd    = "add_route"
	RouteRemove = "remove_route"
)

// PodUpdateEvent is synthesized by the collector from the cluster pod
// watch and re-published on pod_status. EventID marks it as locally
// originated so the collector's own subscriber can drop the echo.
type PodUpdateEvent struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"` // always "pod_update"
	WatchType string            `json:"watch_type"` // ADDED | MODIFIED | DELETED
	PodName   string            `json:"pod_name"`
	Namespace string            `json:"namespace"`
	Status    string            `json:"status"`
	Labels    map[string]string `json:"labels"`
	IP        string            `json:"ip,omitempty"`
	Node      string            `json:"node,omitempty"`
	Timestamp string            `json:"timestamp"`
	Source    string            `json:"source"`
}

// Event is the collector's unified stream element. Incoming bus payloads
// arrive with arbitrary shape, so the merged stream stays schemaless.
type Event map[string]interface{}
