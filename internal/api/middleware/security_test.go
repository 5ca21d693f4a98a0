package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serveWithSecurityHeaders(cfg SecurityHeadersConfig) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(SecurityHeaders(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	return resp
}

func TestSecurityHeaders(t *testing.T) {
	resp := serveWithSecurityHeaders(DefaultSecurityHeadersConfig())
	assert.Equal(t, http.StatusOK, resp.Code)

	hsts := resp.Header().Get("Strict-Transport-Security")
	assert.Contains(t, hsts, "max-age=31536000")
	assert.Contains(t, hsts, "includeSubDomains")

	assert.Equal(t, "DENY", resp.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", resp.Header().Get("Referrer-Policy"))
	assert.Equal(t, "same-origin", resp.Header().Get("Cross-Origin-Opener-Policy"))
	assert.Equal(t, "same-origin", resp.Header().Get("Cross-Origin-Resource-Policy"))

	csp := resp.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.NotContains(t, csp, "unsafe-eval")

	pp := resp.Header().Get("Permissions-Policy")
	assert.Contains(t, pp, "camera=()")
	assert.Contains(t, pp, "microphone=()")
}

func TestSecurityHeadersDevelopment(t *testing.T) {
	resp := serveWithSecurityHeaders(SecurityHeadersConfig{IsDevelopment: true})

	assert.Empty(t, resp.Header().Get("Strict-Transport-Security"))
	assert.Contains(t, resp.Header().Get("Content-Security-Policy"), "unsafe-eval")
}

func TestSecurityHeadersCustomCSP(t *testing.T) {
	resp := serveWithSecurityHeaders(SecurityHeadersConfig{
		CustomCSPDirectives: map[string]string{
			"frame-src": "'self' https://trusted.com",
		},
	})

	assert.Contains(t, resp.Header().Get("Content-Security-Policy"), "frame-src 'self' https://trusted.com")
}

func TestBuildCSP(t *testing.T) {
	csp := buildCSP(SecurityHeadersConfig{})
	assert.Contains(t, csp, "script-src 'self'")
	assert.Contains(t, csp, "object-src 'none'")

	dev := buildCSP(SecurityHeadersConfig{IsDevelopment: true})
	assert.Contains(t, dev, "unsafe-eval")
	assert.Contains(t, dev, "ws:")
}
