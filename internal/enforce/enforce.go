// Package enforce sequences the perimeter checks for every inbound request
// and yields exactly one allow/deny decision.
package enforce

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/perimeterd/perimeter/internal/auth"
	"github.com/perimeterd/perimeter/internal/logger"
	"github.com/perimeterd/perimeter/internal/metrics"
	"github.com/perimeterd/perimeter/internal/ratelimit"
	"github.com/perimeterd/perimeter/internal/threat"
	"github.com/perimeterd/perimeter/internal/util"
)

// Context keys set by the pipeline.
const (
	ContextSession       = "session"
	ContextSecurityToken = "securityToken"
)

// SecurityTokenHeader carries the per-request token for downstream
// content-security use (CSP nonces and the like).
const SecurityTokenHeader = "X-Request-Token"

// trustedProxyHeaders are consulted in order when resolving the client IP.
var trustedProxyHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

// skipPaths are exempt from enforcement so health probes and metrics
// scrapes never trip limits.
var skipPaths = map[string]struct{}{
	"/api/v1/health": {},
	"/metrics":       {},
}

// reconPatterns get a 404 instead of a 403 so scanners learn nothing about
// which protected routes exist.
var reconPatterns = map[string]struct{}{
	threat.PatternCMSScan:       {},
	threat.PatternDotfileAccess: {},
	threat.PatternScannerUA:     {},
	threat.PatternSQLiToolUA:    {},
	threat.PatternClientUA:      {},
	threat.PatternSuspiciousUA:  {},
	threat.PatternAdminProbe:    {},
}

// Pipeline wires the threat tracker, classifier, rate limiter, and session
// collaborator into the per-request enforcement sequence.
type Pipeline struct {
	tracker  *threat.Tracker
	limiter  *ratelimit.Limiter
	sessions *auth.Service
}

// New builds the enforcement pipeline.
func New(tracker *threat.Tracker, limiter *ratelimit.Limiter, sessions *auth.Service) *Pipeline {
	return &Pipeline{tracker: tracker, limiter: limiter, sessions: sessions}
}

// ClientIP resolves the request's source address from the ordered trusted
// proxy headers, then the socket address, else "unknown".
func ClientIP(c *gin.Context) string {
	for _, header := range trustedProxyHeaders {
		if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
			// X-Forwarded-For may carry a chain; the first hop is the client.
			if i := strings.Index(v, ","); i != -1 {
				v = strings.TrimSpace(v[:i])
			}
			if v != "" {
				return v
			}
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// CategoryForPath selects the rate-limit policy bucket for a request path.
func CategoryForPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return ratelimit.CategoryAuth
	case strings.HasPrefix(path, "/api/v1/contact"):
		return ratelimit.CategoryContact
	case strings.HasPrefix(path, "/api/v1/security") || strings.HasPrefix(path, "/api/v1/admin"):
		return ratelimit.CategoryAdminAPI
	case strings.HasPrefix(path, "/api/"):
		return ratelimit.CategoryPublicAPI
	default:
		return ratelimit.CategoryPageView
	}
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/security") || strings.HasPrefix(path, "/api/v1/admin")
}

// Middleware returns the gin handler running the enforcement sequence:
// resolve IP, tracker block check, pattern classification, rate limiting,
// admin-route authorization, then pass-through with rate-limit headers.
func (p *Pipeline) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skipPaths[path]; ok {
			c.Next()
			return
		}

		metrics.IncEvaluated()
		ip := ClientIP(c)
		c.Set("clientIP", ip)

		session := p.sessions.SessionFromRequest(c)
		c.Set(ContextSession, session)

		// Privileged principals bypass IP blocks and rate limits entirely,
		// so operators can never lock themselves out.
		if session.IsAdmin() {
			attachSecurityToken(c)
			c.Next()
			return
		}

		// Block check: counts the request and reports active blocks.
		if p.tracker.ObserveRequest(ip, path) {
			metrics.IncDenied("blocked")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		// Pattern classification over path+query and user agent. Denials
		// send an empty body so attackers get no diagnostic feedback.
		userAgent := c.Request.UserAgent()
		target := path
		if q := c.Request.URL.RawQuery; q != "" {
			target = path + "?" + q
		}
		if patternType, suspicious := threat.Classify(target, userAgent); suspicious {
			p.tracker.ObserveSuspicious(ip, path, userAgent, patternType)
			logger.WithFields(map[string]interface{}{
				"ip":      ip,
				"path":    util.SanitizeForLog(path),
				"pattern": patternType,
			}).Warn("blocked suspicious request")
			metrics.IncDenied("suspicious")
			c.AbortWithStatus(denialStatus(patternType))
			return
		}

		// Rate limiting.
		category := CategoryForPath(path)
		res := p.limiter.Allow(c.Request.Context(), ip, category)
		if !res.Allowed {
			p.tracker.ObserveRateLimitHit(ip, path, category)
			metrics.IncDenied("rate_limited")
			if res.Blocked {
				// Persistent block: hard deny.
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			retryAfter := int(res.ResetIn.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded, please slow down",
				"retry_after": retryAfter,
			})
			return
		}

		// Authorization: failed admin-route access is itself a signal.
		if isAdminPath(path) && !session.IsAdmin() {
			p.tracker.ObserveSuspicious(ip, path, userAgent, threat.PatternAdminProbe)
			metrics.IncDenied("unauthorized")
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		attachSecurityToken(c)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(res.ResetIn.Seconds())))
		c.Next()
	}
}

// denialStatus picks 404 for recon probes and 403 for injection attempts.
func denialStatus(patternType string) int {
	if _, ok := reconPatterns[patternType]; ok {
		return http.StatusNotFound
	}
	return http.StatusForbidden
}

// attachSecurityToken mints a fresh per-request token for downstream
// content-security use.
func attachSecurityToken(c *gin.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return
	}
	token := hex.EncodeToString(buf)
	c.Set(ContextSecurityToken, token)
	c.Writer.Header().Set(SecurityTokenHeader, token)
}
