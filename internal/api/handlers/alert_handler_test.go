package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/perimeterd/perimeter/internal/alerts"
	"github.com/perimeterd/perimeter/internal/models"
)

func setupAlertHandler(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SecurityAlert{}))

	h := NewAlertHandler(alerts.NewService(db, nil))
	router := gin.New()
	router.GET("/alerts", h.List)
	router.GET("/alerts/summary", h.Summary)
	router.POST("/alerts/:uuid/resolve", h.Resolve)
	router.POST("/alerts/resolve-by-ip", h.ResolveByIP)

	return router, db
}

func seedAlerts(t *testing.T, db *gorm.DB) []models.SecurityAlert {
	seed := []models.SecurityAlert{
		{Type: models.AlertBotFlood, Severity: models.SeverityCritical, IPAddress: "1.1.1.1", CreatedAt: time.Now().Add(-time.Hour)},
		{Type: models.AlertScannerProbe, Severity: models.SeverityMedium, IPAddress: "2.2.2.2", CreatedAt: time.Now().Add(-time.Minute)},
		{Type: models.AlertScannerProbe, Severity: models.SeverityMedium, IPAddress: "1.1.1.1", Resolved: true, CreatedAt: time.Now().Add(-time.Minute)},
	}
	require.NoError(t, db.Create(&seed).Error)
	return seed
}

func TestAlertList(t *testing.T) {
	router, db := setupAlertHandler(t)
	seedAlerts(t, db)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Alerts []models.SecurityAlert `json:"alerts"`
		Count  int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?severity=critical", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, models.AlertBotFlood, body.Alerts[0].Type)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?resolved=false&type="+models.AlertScannerProbe, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestAlertList_BadParams(t *testing.T) {
	router, _ := setupAlertHandler(t)

	for _, target := range []string{
		"/alerts?resolved=banana",
		"/alerts?since=yesterday",
		"/alerts?limit=0",
		"/alerts?limit=many",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestAlertSummary(t *testing.T) {
	router, db := setupAlertHandler(t)
	seedAlerts(t, db)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary alerts.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.NotEmpty(t, summary.Last24hBySeverity)
	assert.NotEmpty(t, summary.TopIPs7d)
}

func TestAlertResolve(t *testing.T) {
	router, db := setupAlertHandler(t)
	seed := seedAlerts(t, db)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/"+seed[0].UUID+"/resolve", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got models.SecurityAlert
	require.NoError(t, db.First(&got, "uuid = ?", seed[0].UUID).Error)
	assert.True(t, got.Resolved)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/no-such-uuid/resolve", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertResolveByIP(t *testing.T) {
	router, db := setupAlertHandler(t)
	seedAlerts(t, db)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/alerts/resolve-by-ip", strings.NewReader(`{"ip_address":"1.1.1.1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Count, "already-resolved alerts are not re-counted")

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/alerts/resolve-by-ip", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
