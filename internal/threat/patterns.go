package threat

import "strings"

// Pattern types produced by Classify.
const (
	PatternPathTraversal    = "path_traversal"
	PatternXSSProbe         = "xss_probe"
	PatternSQLInjection     = "sql_injection"
	PatternCodeInjection    = "code_injection"
	PatternCommandInjection = "command_injection"
	PatternCMSScan          = "cms_scan"
	PatternDotfileAccess    = "dotfile_access"
	PatternScannerUA        = "scanner_ua"
	PatternSQLiToolUA       = "sqli_tool_ua"
	PatternClientUA         = "client_ua"
	PatternSuspiciousUA     = "suspicious_ua"
	PatternAdminProbe       = "admin_probe"
)

// minUserAgentLength under which a user agent is treated as suspicious on
// its own. Real browsers and well-behaved clients send far longer strings.
const minUserAgentLength = 10

type signature struct {
	patternType string
	needles     []string
}

// Path signatures, evaluated in order before the user-agent signatures.
// First match wins.
var pathSignatures = []signature{
	{PatternPathTraversal, []string{"../", "..\\", "%2e%2e", "%252e"}},
	{PatternXSSProbe, []string{"<script", "%3cscript", "javascript:", "onerror=", "onload="}},
	{PatternSQLInjection, []string{"union select", "union%20select", "' or '", "or 1=1", "drop table", "information_schema"}},
	{PatternCodeInjection, []string{"eval(", "exec(", "system(", "base64_decode", "passthru("}},
	{PatternCMSScan, []string{"/wp-login", "/wp-admin", "/wp-content", "/wp-includes", "/xmlrpc.php", "/phpmyadmin", "/administrator/", "/admin.php", "/setup.php"}},
	{PatternDotfileAccess, []string{"/.env", "/.git", "/.svn", "/.htaccess", "/.htpasswd", "/.aws", "/.ssh", "/.docker"}},
	{PatternCommandInjection, []string{"$(", "%24%28", ";cat%20", "|cat%20", "&&wget", "&&curl", "/etc/passwd", "/bin/sh"}},
}

var userAgentSignatures = []signature{
	{PatternScannerUA, []string{"nikto", "nmap", "masscan", "nessus", "acunetix", "wpscan", "dirbuster", "gobuster", "zgrab", "nuclei"}},
	{PatternSQLiToolUA, []string{"sqlmap", "havij", "pangolin"}},
	{PatternClientUA, []string{"curl/", "wget/", "python-requests", "python-urllib", "go-http-client", "libwww", "httpclient", "okhttp"}},
}

// Classify runs the ordered signature tables over the request path and user
// agent. Stateless, no I/O; safe for concurrent use.
func Classify(path, userAgent string) (patternType string, suspicious bool) {
	lowerPath := strings.ToLower(path)
	for _, sig := range pathSignatures {
		for _, needle := range sig.needles {
			if strings.Contains(lowerPath, needle) {
				return sig.patternType, true
			}
		}
	}

	lowerUA := strings.ToLower(strings.TrimSpace(userAgent))
	if len(lowerUA) < minUserAgentLength {
		return PatternSuspiciousUA, true
	}
	for _, sig := range userAgentSignatures {
		for _, needle := range sig.needles {
			if strings.Contains(lowerUA, needle) {
				return sig.patternType, true
			}
		}
	}

	return "", false
}
