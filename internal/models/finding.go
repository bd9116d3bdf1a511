package models

// RequestDescriptor is the mirrored request metadata posted to /analyze.
// Headers are matched case-insensitively; Body and QueryParams accept
// either strings or structured values, matching what the traffic-router
// forwards.
type RequestDescriptor struct {
	Method      string                 `json:"method"`
	Path        string                 `json:"path"`
	SourceIP    string                 `json:"source_ip"`
	Headers     map[string]string      `json:"headers,omitempty"`
	Body        interface{}            `json:"body,omitempty"`
	QueryParams map[string]interface{} `json:"query_params,omitempty"`
	Timestamp   string                 `json:"timestamp,omitempty"`
}

// RequestSummary is the condensed request echoed inside findings and
// attack events.
type RequestSummary struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	SourceIP  string `json:"source_ip"`
	UserAgent string `json:"user_agent"`
}

// Finding is one attack classification produced by the detector.
// Confidence is rounded to two decimals.
type Finding struct {
	AttackType        string         `json:"attack_type"`
	Confidence        float64        `json:"confidence"`
	SourceIP          string         `json:"source_ip"`
	Evidence          string         `json:"evidence"`
	Timestamp         string         `json:"timestamp"`
	RawRequestSummary RequestSummary `json:"raw_request_summary"`
}

// Attack type values used across the plane.
const (
	AttackSQLi          = "sqli"
	AttackXSS           = "xss"
	AttackPathTraversal = "path_traversal"
	AttackBruteForce    = "brute_force"
	AttackReconScanner  = "recon_scanner"
	AttackReconScanning = "recon_scanning"
	AttackDirEnum       = "dir_enum"
)

// AnalyzeResponse is the verdict returned by POST /analyze.
type AnalyzeResponse struct {
	Attack        bool     `json:"attack"`
	Type          *string  `json:"type"`
	Confidence    *float64 `json:"confidence"`
	Action        string   `json:"action"`
	FindingsCount int      `json:"findings_count"`
	TopFinding    *Finding `json:"top_finding"`
}
