package models

// TopologyNode is a pod or service in the monitored namespaces.
// Node IDs are "pod:<ns>:<name>" and "service:<ns>:<name>".
type TopologyNode struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Type      string            `json:"type"` // pod | service
	Role      string            `json:"role"` // real | gateway | monitoring | decoy
	Status    string            `json:"status"`
	Labels    map[string]string `json:"labels"`
}

// TopologyEdge is a relationship between nodes. Extra fields (e.g. the
// attacker IP on attacker_route edges) are flattened into the JSON object.
type TopologyEdge struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	Type       string `json:"type"` // service_selector | service_dependency | attacker_route
	AttackerIP string `json:"attacker_ip,omitempty"`
}

// Edge types.
const (
	EdgeServiceSelector   = "service_selector"
	EdgeServiceDependency = "service_dependency"
	EdgeAttackerRoute     = "attacker_route"
)

// Node roles.
const (
	RoleReal       = "real"
	RoleGateway    = "gateway"
	RoleMonitoring = "monitoring"
	RoleDecoy      = "decoy"
)

// GraphSummary carries snapshot counts alongside the graph.
type GraphSummary struct {
	Namespaces   []string `json:"namespaces"`
	PodCount     int      `json:"pod_count"`
	ServiceCount int      `json:"service_count"`
}

// GraphSnapshotEvent is the full-rebuild topology event emitted on the
// collector's snapshot cadence. Not an incremental diff.
type GraphSnapshotEvent struct {
	EventType string         `json:"event_type"` // always "graph_snapshot"
	Timestamp string         `json:"timestamp"`
	Nodes     []TopologyNode `json:"nodes"`
	Edges     []TopologyEdge `json:"edges"`
	Summary   *GraphSummary  `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}
