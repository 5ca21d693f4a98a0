package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perimeterd/perimeter/internal/alerts"
	"github.com/perimeterd/perimeter/internal/models"
)

// AlertHandler serves the security alert query/resolve APIs.
type AlertHandler struct {
	svc *alerts.Service
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(svc *alerts.Service) *AlertHandler {
	return &AlertHandler{svc: svc}
}

// List returns persisted alerts filtered by severity/type/resolved/since.
func (h *AlertHandler) List(c *gin.Context) {
	f := alerts.Filters{
		Severity: models.AlertSeverity(c.Query("severity")),
		Type:     c.Query("type"),
	}

	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolved must be true or false"})
			return
		}
		f.Resolved = &resolved
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = &since
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		f.Limit = limit
	}

	list, err := h.svc.Query(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

// Summary returns the aggregate alert dashboard.
func (h *AlertHandler) Summary(c *gin.Context) {
	summary, err := h.svc.Summarize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Resolve marks a single alert resolved by UUID. Idempotent.
func (h *AlertHandler) Resolve(c *gin.Context) {
	if err := h.svc.Resolve(c.Param("uuid")); err != nil {
		if errors.Is(err, alerts.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve alert"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

type resolveByIPRequest struct {
	IPAddress string `json:"ip_address" binding:"required"`
}

// ResolveByIP bulk-resolves every unresolved alert for one IP.
func (h *AlertHandler) ResolveByIP(c *gin.Context) {
	var req resolveByIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip_address is required"})
		return
	}

	count, err := h.svc.ResolveByIP(req.IPAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved", "count": count})
}
