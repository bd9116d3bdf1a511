package detector

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deceptionops/deception-backend/internal/models"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDetector() (*Detector, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := DefaultOptions()
	opts.Now = clock.now
	return New(opts), clock
}

func findingsOfType(findings []models.Finding, attackType string) []models.Finding {
	var out []models.Finding
	for _, f := range findings {
		if f.AttackType == attackType {
			out = append(out, f)
		}
	}
	return out
}

func TestAnalyzeBenignRequest(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "GET",
		Path:     "/api/products",
		SourceIP: "10.0.0.1",
		Headers:  map[string]string{"User-Agent": "Mozilla/5.0"},
	})

	assert.Empty(t, findings)
}

func TestAnalyzeSQLiInQueryParam(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:      "GET",
		Path:        "/api/products",
		SourceIP:    "10.0.0.2",
		QueryParams: map[string]interface{}{"id": "1 OR 1=1"},
	})

	sqli := findingsOfType(findings, models.AttackSQLi)
	require.NotEmpty(t, sqli)
	assert.Equal(t, 0.95, sqli[0].Confidence)
	assert.Equal(t, "10.0.0.2", sqli[0].SourceIP)
	assert.Equal(t, "/api/products", sqli[0].RawRequestSummary.Path)
}

func TestAnalyzeSQLiUnionSelectInBody(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "POST",
		Path:     "/api/search",
		SourceIP: "10.0.0.3",
		Body:     map[string]interface{}{"q": "x' UNION SELECT username, password FROM users--"},
	})

	sqli := findingsOfType(findings, models.AttackSQLi)
	require.NotEmpty(t, sqli)

	evidences := make(map[string]bool)
	for _, f := range sqli {
		evidences[f.Evidence] = true
	}
	assert.True(t, evidences["UNION SELECT"])
}

func TestAnalyzeXSSInBodyValue(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "POST",
		Path:     "/api/comments",
		SourceIP: "10.0.0.4",
		Body:     map[string]interface{}{"comment": "<script>alert(document.cookie)</script>"},
	})

	xss := findingsOfType(findings, models.AttackXSS)
	require.NotEmpty(t, xss)
	for _, f := range xss {
		assert.GreaterOrEqual(t, f.Confidence, 0.70)
	}
}

func TestAnalyzePathTraversal(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "GET",
		Path:     "/download?file=../../../etc/passwd",
		SourceIP: "10.0.0.5",
	})

	trav := findingsOfType(findings, models.AttackPathTraversal)
	require.NotEmpty(t, trav)

	evidences := make(map[string]bool)
	for _, f := range trav {
		evidences[f.Evidence] = true
	}
	assert.True(t, evidences["../ traversal"])
	assert.True(t, evidences["/etc/passwd access"])
}

func TestSignatureEvidenceDedupedAcrossFields(t *testing.T) {
	d, _ := newTestDetector()

	// Same payload in two fields must yield one finding per evidence.
	findings := d.Analyze(models.RequestDescriptor{
		Method:      "GET",
		Path:        "/api/items",
		SourceIP:    "10.0.0.6",
		QueryParams: map[string]interface{}{"a": "1 OR 1=1", "b": "2 OR 1=1"},
	})

	count := 0
	for _, f := range findingsOfType(findings, models.AttackSQLi) {
		if f.Evidence == "OR 1=1 tautology" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBruteForceBelowThresholdSilent(t *testing.T) {
	d, clock := newTestDetector()

	req := models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.0.0.7"}
	for i := 0; i < 4; i++ {
		findings := d.Analyze(req)
		assert.Empty(t, findingsOfType(findings, models.AttackBruteForce))
		clock.advance(time.Second)
	}
}

func TestBruteForceFifthAttemptFires(t *testing.T) {
	d, clock := newTestDetector()

	req := models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.0.0.8"}
	var last []models.Finding
	for i := 0; i < 5; i++ {
		last = d.Analyze(req)
		clock.advance(time.Second)
	}

	bf := findingsOfType(last, models.AttackBruteForce)
	require.Len(t, bf, 1)
	assert.Equal(t, 0.60, bf[0].Confidence)
	assert.Contains(t, bf[0].Evidence, "5 auth attempts")
	assert.Contains(t, bf[0].Evidence, "/login")

	// Sixth attempt raises confidence by the per-attempt step.
	last = d.Analyze(req)
	bf = findingsOfType(last, models.AttackBruteForce)
	require.Len(t, bf, 1)
	assert.Equal(t, 0.68, bf[0].Confidence)
}

func TestBruteForceConfidenceCapped(t *testing.T) {
	d, _ := newTestDetector()

	req := models.RequestDescriptor{Method: "POST", Path: "/signin", SourceIP: "10.0.0.9"}
	var last []models.Finding
	for i := 0; i < 20; i++ {
		last = d.Analyze(req)
	}

	bf := findingsOfType(last, models.AttackBruteForce)
	require.Len(t, bf, 1)
	assert.Equal(t, 0.98, bf[0].Confidence)
}

func TestBruteForceWindowSlides(t *testing.T) {
	d, clock := newTestDetector()

	req := models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.0.0.10"}
	for i := 0; i < 4; i++ {
		d.Analyze(req)
	}

	// Outside the window the old attempts no longer count.
	clock.advance(31 * time.Second)
	findings := d.Analyze(req)
	assert.Empty(t, findingsOfType(findings, models.AttackBruteForce))
}

func TestBruteForceIgnoresGETAndNonAuthPaths(t *testing.T) {
	d, _ := newTestDetector()

	for i := 0; i < 10; i++ {
		findings := d.Analyze(models.RequestDescriptor{Method: "GET", Path: "/login", SourceIP: "10.0.0.11"})
		assert.Empty(t, findingsOfType(findings, models.AttackBruteForce))

		findings = d.Analyze(models.RequestDescriptor{Method: "POST", Path: "/api/products", SourceIP: "10.0.0.11"})
		assert.Empty(t, findingsOfType(findings, models.AttackBruteForce))
	}
}

func TestBruteForceTracksPerIP(t *testing.T) {
	d, _ := newTestDetector()

	for i := 0; i < 4; i++ {
		d.Analyze(models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.1.0.1"})
	}
	// A different IP starts from zero.
	findings := d.Analyze(models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.1.0.2"})
	assert.Empty(t, findingsOfType(findings, models.AttackBruteForce))
}

func TestScannerUserAgentDetected(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "GET",
		Path:     "/",
		SourceIP: "10.0.0.12",
		Headers:  map[string]string{"user-agent": "sqlmap/1.7#stable"},
	})

	recon := findingsOfType(findings, models.AttackReconScanner)
	require.Len(t, recon, 1)
	assert.Equal(t, 0.95, recon[0].Confidence)
	assert.Contains(t, recon[0].Evidence, "Scanner UA detected:")
}

func TestScannerUserAgentSingleMatch(t *testing.T) {
	d, _ := newTestDetector()

	// UA naming two tools still yields exactly one scanner finding.
	findings := d.Analyze(models.RequestDescriptor{
		Method:   "GET",
		Path:     "/",
		SourceIP: "10.0.0.13",
		Headers:  map[string]string{"User-Agent": "sqlmap nikto combo"},
	})

	assert.Len(t, findingsOfType(findings, models.AttackReconScanner), 1)
}

func TestReconRapidUniquePathScanning(t *testing.T) {
	d, _ := newTestDetector()

	var last []models.Finding
	for i := 0; i < 10; i++ {
		last = d.Analyze(models.RequestDescriptor{
			Method:   "GET",
			Path:     fmt.Sprintf("/page-%d", i),
			SourceIP: "10.0.0.14",
		})
	}

	recon := findingsOfType(last, models.AttackReconScanning)
	require.Len(t, recon, 1)
	assert.Equal(t, 0.65, recon[0].Confidence)
	assert.Contains(t, recon[0].Evidence, "10 unique paths")
}

func TestReconRepeatedPathDoesNotTrigger(t *testing.T) {
	d, _ := newTestDetector()

	var last []models.Finding
	for i := 0; i < 20; i++ {
		last = d.Analyze(models.RequestDescriptor{
			Method:   "GET",
			Path:     "/api/products",
			SourceIP: "10.0.0.15",
		})
	}

	assert.Empty(t, findingsOfType(last, models.AttackReconScanning))
}

func TestReconWindowSlides(t *testing.T) {
	d, clock := newTestDetector()

	for i := 0; i < 9; i++ {
		d.Analyze(models.RequestDescriptor{
			Method:   "GET",
			Path:     fmt.Sprintf("/old-%d", i),
			SourceIP: "10.0.0.16",
		})
	}
	clock.advance(16 * time.Second)

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "GET",
		Path:     "/new-path",
		SourceIP: "10.0.0.16",
	})
	assert.Empty(t, findingsOfType(findings, models.AttackReconScanning))
}

func TestDirEnumFirstMatchOnly(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "GET",
		Path:     "/admin/config.php",
		SourceIP: "10.0.0.17",
	})

	de := findingsOfType(findings, models.AttackDirEnum)
	require.Len(t, de, 1)
	assert.Equal(t, "/admin probe", de[0].Evidence)
	assert.Equal(t, 0.80, de[0].Confidence)
}

func TestDirEnumLowConfidenceBenignPaths(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:   "GET",
		Path:     "/robots.txt",
		SourceIP: "10.0.0.18",
	})

	de := findingsOfType(findings, models.AttackDirEnum)
	require.Len(t, de, 1)
	assert.Equal(t, 0.40, de[0].Confidence)
}

func TestMissingSourceIPBecomesUnknown(t *testing.T) {
	d, _ := newTestDetector()

	findings := d.Analyze(models.RequestDescriptor{
		Method:      "GET",
		Path:        "/api/items",
		QueryParams: map[string]interface{}{"id": "1 OR 1=1"},
	})

	require.NotEmpty(t, findings)
	assert.Equal(t, "unknown", findings[0].SourceIP)
}

func TestCleanupStaleDropsOldEntries(t *testing.T) {
	d, clock := newTestDetector()

	d.Analyze(models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.0.0.19"})
	d.Analyze(models.RequestDescriptor{Method: "GET", Path: "/a", SourceIP: "10.0.0.19"})

	stats := d.Stats()
	assert.Equal(t, 1, stats.TrackedIPsAuth)
	assert.Equal(t, 1, stats.TrackedIPsPaths)

	clock.advance(3 * time.Minute)
	d.CleanupStale(2 * time.Minute)

	stats = d.Stats()
	assert.Zero(t, stats.TrackedIPsAuth)
	assert.Zero(t, stats.TrackedIPsPaths)
	assert.Zero(t, stats.TotalAuthEntries)
	assert.Zero(t, stats.TotalPathEntries)
}

func TestCleanupStaleKeepsRecentEntries(t *testing.T) {
	d, clock := newTestDetector()

	d.Analyze(models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.0.0.20"})
	clock.advance(3 * time.Minute)
	d.Analyze(models.RequestDescriptor{Method: "POST", Path: "/login", SourceIP: "10.0.0.21"})

	d.CleanupStale(2 * time.Minute)

	stats := d.Stats()
	assert.Equal(t, 1, stats.TrackedIPsAuth)
	assert.Equal(t, 1, stats.TotalAuthEntries)
}

func TestConfidenceRoundedToTwoDecimals(t *testing.T) {
	d, _ := newTestDetector()

	req := models.RequestDescriptor{Method: "POST", Path: "/auth", SourceIP: "10.0.0.22"}
	var last []models.Finding
	for i := 0; i < 7; i++ {
		last = d.Analyze(req)
	}

	bf := findingsOfType(last, models.AttackBruteForce)
	require.Len(t, bf, 1)
	// 0.60 + 2*0.08 must come out exactly 0.76, not a float artifact.
	assert.Equal(t, 0.76, bf[0].Confidence)
}
