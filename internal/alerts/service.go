// Package alerts buffers, persists, and serves security incident records.
package alerts

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/perimeterd/perimeter/internal/logger"
	"github.com/perimeterd/perimeter/internal/metrics"
	"github.com/perimeterd/perimeter/internal/models"
	"github.com/perimeterd/perimeter/internal/util"
)

// ErrAlertNotFound is returned when resolving an unknown alert.
var ErrAlertNotFound = errors.New("security alert not found")

// defaultBufferSize triggers a flush once this many alerts are pending.
const defaultBufferSize = 20

// Notifier delivers critical alerts out of band.
type Notifier interface {
	NotifyCritical(alert models.SecurityAlert)
}

// Service is the alert pipeline: synchronous logging for visibility,
// buffered batched persistence, and async notification for critical events.
type Service struct {
	db         *gorm.DB
	notifier   Notifier
	bufferSize int

	mu     sync.Mutex
	buffer []models.SecurityAlert
}

// NewService builds the alert pipeline. notifier may be nil.
func NewService(db *gorm.DB, notifier Notifier) *Service {
	return &Service{db: db, notifier: notifier, bufferSize: defaultBufferSize}
}

// Record logs the alert, buffers it for persistence, and flushes
// immediately for high/critical severity or a full buffer. Critical alerts
// additionally fan out to the notifier without blocking the caller.
func (s *Service) Record(alert models.SecurityAlert) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	entry := logger.WithFields(map[string]interface{}{
		"alert_type": alert.Type,
		"severity":   alert.Severity,
		"ip":         alert.IPAddress,
		"path":       util.SanitizeForLog(alert.Path),
	})
	switch alert.Severity {
	case models.SeverityHigh, models.SeverityCritical:
		entry.Warn("security alert")
	default:
		entry.Info("security alert")
	}
	metrics.IncAlert(string(alert.Severity))

	s.mu.Lock()
	s.buffer = append(s.buffer, alert)
	full := len(s.buffer) >= s.bufferSize
	s.mu.Unlock()

	if alert.IsCritical() && s.notifier != nil {
		go s.notifier.NotifyCritical(alert)
	}

	if full || alert.Severity == models.SeverityHigh || alert.Severity == models.SeverityCritical {
		s.Flush()
	}
}

// Flush atomically drains the buffer and performs one batched durable
// write. On failure every dropped record is logged individually so loss
// requires the store and the log sink to fail together.
func (s *Service) Flush() {
	s.mu.Lock()
	drained := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(drained) == 0 {
		return
	}

	// Drop malformed records with a log line rather than failing the batch.
	valid := drained[:0]
	for _, a := range drained {
		if a.Type == "" || a.Severity == "" {
			logger.WithField("alert", a).Warn("dropping malformed security alert")
			continue
		}
		valid = append(valid, a)
	}
	if len(valid) == 0 {
		return
	}

	if err := s.db.Create(&valid).Error; err != nil {
		logger.WithError(err).Error("failed to persist security alert batch")
		for _, a := range valid {
			logger.WithFields(map[string]interface{}{
				"alert_type": a.Type,
				"severity":   a.Severity,
				"ip":         a.IPAddress,
				"path":       util.SanitizeForLog(a.Path),
				"details":    util.SanitizeForLog(a.Details),
			}).Error("dropped security alert")
		}
	}
}

// Filters narrows alert queries. Zero values are ignored.
type Filters struct {
	Severity models.AlertSeverity
	Type     string
	Resolved *bool
	Since    *time.Time
	Limit    int
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// Query returns persisted alerts newest first.
func (s *Service) Query(f Filters) ([]models.SecurityAlert, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	q := s.db.Order("created_at desc").Limit(limit)
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Resolved != nil {
		q = q.Where("resolved = ?", *f.Resolved)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}

	var res []models.SecurityAlert
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// Resolve marks one alert resolved by UUID. Resolving an already-resolved
// alert is a no-op returning success.
func (s *Service) Resolve(uuid string) error {
	var alert models.SecurityAlert
	if err := s.db.Where("uuid = ?", uuid).First(&alert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAlertNotFound
		}
		return err
	}
	if alert.Resolved {
		return nil
	}

	now := time.Now()
	return s.db.Model(&alert).Updates(map[string]interface{}{
		"resolved":    true,
		"resolved_at": &now,
	}).Error
}

// ResolveByIP bulk-resolves every unresolved alert for an IP and returns
// the number of rows updated.
func (s *Service) ResolveByIP(ip string) (int64, error) {
	now := time.Now()
	res := s.db.Model(&models.SecurityAlert{}).
		Where("ip_address = ? AND resolved = ?", ip, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": &now,
		})
	return res.RowsAffected, res.Error
}

// SeverityCount is one row of the 24h severity breakdown.
type SeverityCount struct {
	Severity models.AlertSeverity `json:"severity"`
	Count    int64                `json:"count"`
}

// IPCount is one row of the top-IPs breakdown.
type IPCount struct {
	IPAddress string `json:"ip_address"`
	Count     int64  `json:"count"`
}

// TypeCount is one row of the top-threat-types breakdown.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// DayCount is one bucket of the daily histogram.
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// Summary aggregates recent alert activity for the operator dashboard.
type Summary struct {
	Last24hBySeverity []SeverityCount `json:"last_24h_by_severity"`
	TopIPs7d          []IPCount       `json:"top_ips_7d"`
	TopTypes7d        []TypeCount     `json:"top_types_7d"`
	Daily7d           []DayCount      `json:"daily_7d"`
}

// Summarize builds the dashboard summary from the durable store.
func (s *Service) Summarize() (*Summary, error) {
	dayAgo := time.Now().Add(-24 * time.Hour)
	weekAgo := time.Now().Add(-7 * 24 * time.Hour)
	summary := &Summary{}

	if err := s.db.Model(&models.SecurityAlert{}).
		Select("severity, count(*) as count").
		Where("created_at >= ?", dayAgo).
		Group("severity").
		Scan(&summary.Last24hBySeverity).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.SecurityAlert{}).
		Select("ip_address, count(*) as count").
		Where("created_at >= ?", weekAgo).
		Group("ip_address").
		Order("count desc").
		Limit(10).
		Scan(&summary.TopIPs7d).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.SecurityAlert{}).
		Select("type, count(*) as count").
		Where("created_at >= ?", weekAgo).
		Group("type").
		Order("count desc").
		Limit(10).
		Scan(&summary.TopTypes7d).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.SecurityAlert{}).
		Select("strftime('%Y-%m-%d', created_at) as day, count(*) as count").
		Where("created_at >= ?", weekAgo).
		Group("day").
		Order("day asc").
		Scan(&summary.Daily7d).Error; err != nil {
		return nil, err
	}

	return summary, nil
}
