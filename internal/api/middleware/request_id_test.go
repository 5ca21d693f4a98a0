package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		rid, ok := c.Get(RequestIDKey)
		require.True(t, ok)
		assert.NotEmpty(t, rid)
		assert.NotNil(t, GetRequestLogger(c))
		c.String(http.StatusOK, "OK")
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))

	rid := resp.Header().Get(RequestIDHeader)
	require.NotEmpty(t, rid)
	_, err := uuid.Parse(rid)
	assert.NoError(t, err)

	// A second request gets a fresh id.
	resp2 := httptest.NewRecorder()
	router.ServeHTTP(resp2, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEqual(t, rid, resp2.Header().Get(RequestIDHeader))
}

func TestRequestID_InboundHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// A well-formed inbound id is reused for cross-service correlation.
	inbound := uuid.New().String()
	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, inbound)
	router.ServeHTTP(resp, req)
	assert.Equal(t, inbound, resp.Header().Get(RequestIDHeader))

	// A forged one is replaced.
	resp = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "evil\ninjected")
	router.ServeHTTP(resp, req)
	replaced := resp.Header().Get(RequestIDHeader)
	assert.NotEqual(t, "evil\ninjected", replaced)
	_, err := uuid.Parse(replaced)
	assert.NoError(t, err)
}

func TestGetRequestLoggerFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, GetRequestLogger(c))
}
