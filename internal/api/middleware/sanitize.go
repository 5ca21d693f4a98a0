package middleware

import (
	"net/http"
	"strings"

	"github.com/perimeterd/perimeter/internal/util"
)

// maxLoggedValueLen truncates header and path values before logging.
const maxLoggedValueLen = 200

// sensitiveHeaders are redacted wholesale before logging. Values here
// carry credentials or identity material that must never reach the log.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-api-token":         {},
	"x-access-token":      {},
	"x-auth-token":        {},
	"x-api-secret":        {},
	"x-forwarded-for":     {},
}

// SanitizeHeaders returns header keys mapped to redacted or sanitized
// values for safe logging.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		sanitized := make([]string, 0, len(vals))
		for _, v := range vals {
			sanitized = append(sanitized, truncate(util.SanitizeForLog(v)))
		}
		out[k] = sanitized
	}
	return out
}

// SanitizePath prepares a request path for safe logging. The query string
// is dropped entirely: it is where injection payloads live.
func SanitizePath(p string) string {
	if i := strings.Index(p, "?"); i != -1 {
		p = p[:i]
	}
	return truncate(util.SanitizeForLog(p))
}

func truncate(s string) string {
	if len(s) > maxLoggedValueLen {
		return s[:maxLoggedValueLen]
	}
	return s
}
