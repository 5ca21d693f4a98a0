package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perimeterd/perimeter/internal/kvstore"
	"github.com/perimeterd/perimeter/internal/ratelimit"
	"github.com/perimeterd/perimeter/internal/threat"
)

// StatusHandler reports the enforcement tier so operators can see when
// true limits are not enforced globally.
type StatusHandler struct {
	kv      *kvstore.Client
	limiter *ratelimit.Limiter
	tracker *threat.Tracker
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(kv *kvstore.Client, limiter *ratelimit.Limiter, tracker *threat.Tracker) *StatusHandler {
	return &StatusHandler{kv: kv, limiter: limiter, tracker: tracker}
}

// Status returns backend health and the current consistency tier.
func (h *StatusHandler) Status(c *gin.Context) {
	backendHealthy := false
	if h.kv.Available() {
		backendHealthy = h.kv.Ping(c.Request.Context()) == nil
	}

	tier := "strong"
	if h.limiter.Degraded() || !backendHealthy {
		tier = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"enforcement_tier":   tier,
		"backend_configured": h.kv.Available(),
		"backend_healthy":    backendHealthy,
		"tracked_ips":        h.tracker.Len(),
	})
}
