// Package patterns holds the compiled attack signature tables used by the
// detector. Each entry pairs a regular expression with an evidence label
// and an authored confidence in [0.30, 0.98]. Tables are compiled once at
// init; a bad expression is a programming error and panics at startup.
package patterns

import "regexp"

// Signature is one detection entry: pattern, evidence label, confidence.
type Signature struct {
	Pattern    *regexp.Regexp
	Evidence   string
	Confidence float64
}

func sig(expr, evidence string, confidence float64) Signature {
	return Signature{
		Pattern:    regexp.MustCompile(expr),
		Evidence:   evidence,
		Confidence: confidence,
	}
}

// SQLi signatures, ordered roughly by severity.
var SQLi = []Signature{
	// Tautologies and boolean-based blind
	sig(`(?i)\bOR\s+1\s*=\s*1\b`, "OR 1=1 tautology", 0.95),
	sig(`(?i)\bOR\s+['"]?\w+['"]?\s*=\s*['"]?\w+['"]?`, "OR equality tautology", 0.80),
	sig(`(?i)\bAND\s+1\s*=\s*1\b`, "AND 1=1 tautology", 0.75),
	// UNION-based
	sig(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`, "UNION SELECT", 0.95),
	// Stacked queries / destructive
	sig(`(?i)\bDROP\s+(TABLE|DATABASE)\b`, "DROP statement", 0.95),
	sig(`(?i)\bINSERT\s+INTO\b`, "INSERT INTO", 0.85),
	sig(`(?i)\bDELETE\s+FROM\b`, "DELETE FROM", 0.90),
	sig(`(?i)\bUPDATE\s+\w+\s+SET\b`, "UPDATE SET", 0.85),
	// Time-based blind
	sig(`(?i)\bSLEEP\s*\(`, "SLEEP() call", 0.90),
	sig(`(?i)\bBENCHMARK\s*\(`, "BENCHMARK() call", 0.90),
	sig(`(?i)\bWAITFOR\s+DELAY\b`, "WAITFOR DELAY", 0.90),
	// Comment-based evasion
	sig(`--\s`, "SQL comment (--)", 0.60),
	sig(`/\*.*?\*/`, "SQL block comment", 0.55),
	// Quote / stacked-statement injection
	sig(`(?i)'\s*(OR|AND|UNION|SELECT|DROP|INSERT|DELETE)\b`, "quote + keyword", 0.90),
	sig(`(?i);\s*(DROP|DELETE|INSERT|UPDATE|SELECT)\b`, "semicolon + keyword", 0.90),
	// Information schema probes
	sig(`(?i)\bINFORMATION_SCHEMA\b`, "INFORMATION_SCHEMA probe", 0.85),
	sig(`(?i)\bSYS\.(USER|DATABASE)\b`, "sys object probe", 0.80),
	// Hex-encoded injection
	sig(`0x[0-9a-fA-F]{6,}`, "hex-encoded payload", 0.65),
}

// XSS signatures.
var XSS = []Signature{
	sig(`(?i)<\s*script\b`, "<script> tag", 0.95),
	sig(`(?i)</\s*script\s*>`, "</script> closing tag", 0.90),
	sig(`(?i)\bjavascript\s*:`, "javascript: protocol", 0.90),
	sig(`(?i)\bon(error|load|click|mouseover|focus|blur|submit|change)\s*=`, "event handler attribute", 0.90),
	sig(`(?i)\beval\s*\(`, "eval() call", 0.85),
	sig(`(?i)\bdocument\.(cookie|location|write)\b`, "document.cookie/location/write", 0.90),
	sig(`(?i)\bwindow\.(location|open)\b`, "window.location/open", 0.80),
	sig(`(?i)\balert\s*\(`, "alert() call", 0.80),
	sig(`(?i)\bprompt\s*\(`, "prompt() call", 0.75),
	sig(`(?i)\bconfirm\s*\(`, "confirm() call", 0.70),
	sig(`(?i)<\s*img\b[^>]*\bon\w+\s*=`, "<img> with event handler", 0.90),
	sig(`(?i)<\s*iframe\b`, "<iframe> tag", 0.85),
	sig(`(?i)<\s*svg\b[^>]*\bon\w+\s*=`, "<svg> with event handler", 0.90),
	sig(`(?i)<\s*body\b[^>]*\bon\w+\s*=`, "<body> with event handler", 0.90),
	// Data URI with base64
	sig(`(?i)data\s*:\s*text/html`, "data:text/html URI", 0.80),
	// Expression in CSS (IE-specific but still probed)
	sig(`(?i)expression\s*\(`, "CSS expression()", 0.75),
}

// PathTraversal signatures, POSIX and Windows.
var PathTraversal = []Signature{
	sig(`\.\./`, "../ traversal", 0.90),
	sig(`\.\.\\`, `..\ traversal`, 0.90),
	sig(`(?i)%2e%2e[/%5c]`, "URL-encoded traversal (%2e%2e)", 0.90),
	sig(`(?i)%252e%252e`, "double-encoded traversal", 0.95),
	sig(`(?i)/etc/passwd`, "/etc/passwd access", 0.95),
	sig(`(?i)/etc/shadow`, "/etc/shadow access", 0.95),
	sig(`(?i)/proc/self`, "/proc/self access", 0.90),
	sig(`(?i)/proc/\d+/(cmdline|environ|fd)`, "/proc/[pid] access", 0.90),
	sig(`(?i)[/\\]windows[/\\]system32`, "windows/system32 access", 0.90),
	sig(`(?i)[/\\]boot\.ini`, "boot.ini access", 0.85),
	sig(`(?i)[/\\]win\.ini`, "win.ini access", 0.85),
}

// ScannerUA signatures for well-known attack tool user agents.
var ScannerUA = []Signature{
	sig(`(?i)\bsqlmap\b`, "sqlmap scanner", 0.95),
	sig(`(?i)\bnikto\b`, "nikto scanner", 0.95),
	sig(`(?i)\bnmap\b`, "nmap scanner", 0.90),
	sig(`(?i)\bdirbuster\b`, "dirbuster scanner", 0.95),
	sig(`(?i)\bgobuster\b`, "gobuster scanner", 0.95),
	sig(`(?i)\bwfuzz\b`, "wfuzz scanner", 0.95),
	sig(`(?i)\bburpsuite\b`, "burpsuite scanner", 0.90),
	sig(`(?i)\bhydra\b`, "hydra brute-forcer", 0.90),
	sig(`(?i)\bmetasploit\b`, "metasploit framework", 0.95),
	sig(`(?i)\bw3af\b`, "w3af scanner", 0.90),
	sig(`(?i)\bzap\b`, "OWASP ZAP", 0.80),
	sig(`(?i)\bmasscan\b`, "masscan scanner", 0.90),
	sig(`(?i)\bferoxbuster\b`, "feroxbuster scanner", 0.95),
}

// DirEnum signatures for well-known sensitive paths. robots.txt,
// sitemap.xml and .well-known appear in benign traffic, hence the low
// confidences.
var DirEnum = []Signature{
	sig(`(?i)^/admin\b`, "/admin probe", 0.80),
	sig(`(?i)^/wp-admin\b`, "/wp-admin probe", 0.85),
	sig(`(?i)^/wp-login\b`, "/wp-login probe", 0.85),
	sig(`(?i)^/wp-content\b`, "/wp-content probe", 0.80),
	sig(`(?i)^/phpmyadmin\b`, "/phpmyadmin probe", 0.90),
	sig(`(?i)^/pma\b`, "/pma probe", 0.85),
	sig(`(?i)^/\.git\b`, "/.git exposure", 0.90),
	sig(`(?i)^/\.env\b`, "/.env exposure", 0.90),
	sig(`(?i)^/\.htaccess\b`, "/.htaccess exposure", 0.85),
	sig(`(?i)^/\.htpasswd\b`, "/.htpasswd exposure", 0.90),
	sig(`(?i)^/backup\b`, "/backup probe", 0.75),
	sig(`(?i)^/config\b`, "/config probe", 0.75),
	sig(`(?i)^/api/swagger\b`, "/api/swagger probe", 0.70),
	sig(`(?i)^/swagger\b`, "/swagger probe", 0.70),
	sig(`(?i)^/actuator\b`, "/actuator probe", 0.85),
	sig(`(?i)^/debug\b`, "/debug probe", 0.75),
	sig(`(?i)^/console\b`, "/console probe", 0.75),
	sig(`(?i)^/server-status\b`, "/server-status probe", 0.80),
	sig(`(?i)^/server-info\b`, "/server-info probe", 0.80),
	sig(`(?i)^/cgi-bin\b`, "/cgi-bin probe", 0.80),
	sig(`(?i)^/manager\b`, "/manager probe (Tomcat)", 0.80),
	sig(`(?i)^/robots\.txt\b`, "/robots.txt probe", 0.40),
	sig(`(?i)^/sitemap\.xml\b`, "/sitemap.xml probe", 0.35),
	sig(`(?i)^/\.well-known\b`, "/.well-known probe", 0.30),
	sig(`(?i)^/graphql\b`, "/graphql probe", 0.65),
}

// authEndpoints match paths whose POSTs count toward brute-force tracking.
var authEndpoints = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/api/cart/.+/checkout`),
	regexp.MustCompile(`(?i)/login\b`),
	regexp.MustCompile(`(?i)/admin/login\b`),
	regexp.MustCompile(`(?i)/wp-login`),
	regexp.MustCompile(`(?i)/auth\b`),
	regexp.MustCompile(`(?i)/signin\b`),
	regexp.MustCompile(`(?i)/api/token\b`),
	regexp.MustCompile(`(?i)/api/v\d+/auth`),
}

// IsAuthEndpoint reports whether the path looks like an authentication
// endpoint.
func IsAuthEndpoint(path string) bool {
	for _, re := range authEndpoints {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
