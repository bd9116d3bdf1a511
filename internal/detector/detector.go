// Package detector classifies mirrored HTTP requests into attack findings.
// Signature detectors are stateless; brute-force and recon detection keep
// per-IP sliding windows in memory. State is lost on restart, which is
// acceptable for real-time detection.
package detector

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/deceptionops/deception-backend/internal/models"
	"github.com/deceptionops/deception-backend/internal/patterns"
)

// Options tune the rate-based detectors.
type Options struct {
	BruteForceThreshold int
	BruteForceWindow    time.Duration
	ScanThreshold       int
	ScanWindow          time.Duration

	// Now overrides the clock; nil means time.Now. Tests use it to pin
	// window arithmetic.
	Now func() time.Time
}

// DefaultOptions returns the contract thresholds.
func DefaultOptions() Options {
	return Options{
		BruteForceThreshold: 5,
		BruteForceWindow:    30 * time.Second,
		ScanThreshold:       10,
		ScanWindow:          15 * time.Second,
	}
}

type pathEntry struct {
	at   time.Time
	path string
}

// Detector runs all detection methods against request descriptors.
type Detector struct {
	opts Options
	now  func() time.Time

	authMu       sync.Mutex
	authAttempts map[string][]time.Time

	pathMu      sync.Mutex
	pathHistory map[string][]pathEntry
}

func New(opts Options) *Detector {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Detector{
		opts:         opts,
		now:          now,
		authAttempts: make(map[string][]time.Time),
		pathHistory:  make(map[string][]pathEntry),
	}
}

// Analyze runs every detection method and returns the findings. An empty
// slice means no attack was detected.
func (d *Detector) Analyze(req models.RequestDescriptor) []models.Finding {
	sourceIP := req.SourceIP
	if sourceIP == "" {
		sourceIP = "unknown"
	}
	ts := d.now().UTC().Format(time.RFC3339Nano)
	summary := models.RequestSummary{
		Method:    req.Method,
		Path:      req.Path,
		SourceIP:  sourceIP,
		UserAgent: userAgent(req.Headers),
	}

	fields := collectScanFields(req)

	var findings []models.Finding
	findings = append(findings, scanSignatures(patterns.SQLi, models.AttackSQLi, fields, sourceIP, ts, summary)...)
	findings = append(findings, scanSignatures(patterns.XSS, models.AttackXSS, fields, sourceIP, ts, summary)...)
	findings = append(findings, scanSignatures(patterns.PathTraversal, models.AttackPathTraversal, fields, sourceIP, ts, summary)...)

	if f := d.detectBruteForce(req, sourceIP, ts, summary); f != nil {
		findings = append(findings, *f)
	}
	findings = append(findings, d.detectRecon(req, sourceIP, ts, summary)...)
	findings = append(findings, detectDirEnum(req.Path, sourceIP, ts, summary)...)

	return findings
}

// scanSignatures checks every field against a signature table,
// deduplicating by evidence label: one match of the same evidence
// suffices per request.
func scanSignatures(table []patterns.Signature, attackType string, fields []string, sourceIP, ts string, summary models.RequestSummary) []models.Finding {
	var findings []models.Finding
	seen := make(map[string]bool)
	for _, text := range fields {
		for _, s := range table {
			if seen[s.Evidence] {
				continue
			}
			if s.Pattern.MatchString(text) {
				seen[s.Evidence] = true
				findings = append(findings, makeFinding(attackType, s.Confidence, sourceIP, s.Evidence, ts, summary))
			}
		}
	}
	return findings
}

// detectBruteForce tracks POSTs to auth-like endpoints per source IP and
// fires once the window count reaches the threshold.
func (d *Detector) detectBruteForce(req models.RequestDescriptor, sourceIP, ts string, summary models.RequestSummary) *models.Finding {
	if strings.ToUpper(req.Method) != "POST" || !patterns.IsAuthEndpoint(req.Path) {
		return nil
	}

	now := d.now()
	cutoff := now.Add(-d.opts.BruteForceWindow)

	d.authMu.Lock()
	attempts := append(d.authAttempts[sourceIP], now)
	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.authAttempts[sourceIP] = kept
	count := len(kept)
	d.authMu.Unlock()

	if count < d.opts.BruteForceThreshold {
		return nil
	}

	// Confidence scales with how far above the threshold we are.
	confidence := math.Min(0.60+float64(count-d.opts.BruteForceThreshold)*0.08, 0.98)
	evidence := fmt.Sprintf("%d auth attempts in %.0fs to %s", count, d.opts.BruteForceWindow.Seconds(), req.Path)
	f := makeFinding(models.AttackBruteForce, confidence, sourceIP, evidence, ts, summary)
	return &f
}

// detectRecon covers scanner user-agents (immediate, first match only)
// and rapid unique-path enumeration within the scan window.
func (d *Detector) detectRecon(req models.RequestDescriptor, sourceIP, ts string, summary models.RequestSummary) []models.Finding {
	var findings []models.Finding

	ua := userAgent(req.Headers)
	for _, s := range patterns.ScannerUA {
		if s.Pattern.MatchString(ua) {
			evidence := "Scanner UA detected: " + s.Evidence
			findings = append(findings, makeFinding(models.AttackReconScanner, s.Confidence, sourceIP, evidence, ts, summary))
			break // one scanner match is enough
		}
	}

	now := d.now()
	cutoff := now.Add(-d.opts.ScanWindow)

	d.pathMu.Lock()
	history := append(d.pathHistory[sourceIP], pathEntry{at: now, path: req.Path})
	kept := history[:0]
	for _, e := range history {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	d.pathHistory[sourceIP] = kept
	unique := make(map[string]bool, len(kept))
	for _, e := range kept {
		unique[e.path] = true
	}
	uniqueCount := len(unique)
	d.pathMu.Unlock()

	if uniqueCount >= d.opts.ScanThreshold {
		confidence := math.Min(0.65+float64(uniqueCount-d.opts.ScanThreshold)*0.05, 0.98)
		evidence := fmt.Sprintf("%d unique paths in %.0fs", uniqueCount, d.opts.ScanWindow.Seconds())
		findings = append(findings, makeFinding(models.AttackReconScanning, confidence, sourceIP, evidence, ts, summary))
	}

	return findings
}

// detectDirEnum checks the path against well-known sensitive endpoints;
// one match per request is sufficient.
func detectDirEnum(path, sourceIP, ts string, summary models.RequestSummary) []models.Finding {
	for _, s := range patterns.DirEnum {
		if s.Pattern.MatchString(path) {
			return []models.Finding{makeFinding(models.AttackDirEnum, s.Confidence, sourceIP, s.Evidence, ts, summary)}
		}
	}
	return nil
}

// CleanupStale removes tracking entries older than maxAge and drops
// now-empty per-IP sequences. Called periodically to bound memory under
// long-running deployments with many unique IPs.
func (d *Detector) CleanupStale(maxAge time.Duration) {
	cutoff := d.now().Add(-maxAge)

	d.authMu.Lock()
	for ip, attempts := range d.authAttempts {
		kept := attempts[:0]
		for _, t := range attempts {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(d.authAttempts, ip)
		} else {
			d.authAttempts[ip] = kept
		}
	}
	d.authMu.Unlock()

	d.pathMu.Lock()
	for ip, history := range d.pathHistory {
		kept := history[:0]
		for _, e := range history {
			if e.at.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(d.pathHistory, ip)
		} else {
			d.pathHistory[ip] = kept
		}
	}
	d.pathMu.Unlock()
}

// TrackingStats reports current state sizes for diagnostics.
type TrackingStats struct {
	TrackedIPsAuth   int `json:"tracked_ips_auth"`
	TrackedIPsPaths  int `json:"tracked_ips_paths"`
	TotalAuthEntries int `json:"total_auth_entries"`
	TotalPathEntries int `json:"total_path_entries"`
}

func (d *Detector) Stats() TrackingStats {
	var s TrackingStats

	d.authMu.Lock()
	s.TrackedIPsAuth = len(d.authAttempts)
	for _, v := range d.authAttempts {
		s.TotalAuthEntries += len(v)
	}
	d.authMu.Unlock()

	d.pathMu.Lock()
	s.TrackedIPsPaths = len(d.pathHistory)
	for _, v := range d.pathHistory {
		s.TotalPathEntries += len(v)
	}
	d.pathMu.Unlock()

	return s
}

func makeFinding(attackType string, confidence float64, sourceIP, evidence, ts string, summary models.RequestSummary) models.Finding {
	return models.Finding{
		AttackType:        attackType,
		Confidence:        math.Round(confidence*100) / 100,
		SourceIP:          sourceIP,
		Evidence:          evidence,
		Timestamp:         ts,
		RawRequestSummary: summary,
	}
}

// userAgent extracts User-Agent from the headers map, any casing.
func userAgent(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "User-Agent") {
			return v
		}
	}
	return ""
}

// collectScanFields gathers every text field worth scanning for
// pattern-based attacks: the path, flattened query values, flattened body
// values, and all header values, coerced to strings.
func collectScanFields(req models.RequestDescriptor) []string {
	var fields []string

	if req.Path != "" {
		fields = append(fields, req.Path)
	}

	for _, v := range req.QueryParams {
		switch val := v.(type) {
		case []interface{}:
			for _, item := range val {
				fields = append(fields, toString(item))
			}
		case []string:
			fields = append(fields, val...)
		default:
			fields = append(fields, toString(val))
		}
	}

	switch body := req.Body.(type) {
	case string:
		if body != "" {
			fields = append(fields, body)
		}
	case map[string]interface{}:
		for _, v := range body {
			fields = append(fields, toString(v))
		}
	}

	for _, v := range req.Headers {
		fields = append(fields, v)
	}

	return fields
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
