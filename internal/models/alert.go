package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertSeverity grades how urgently a security alert needs operator attention.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert types raised by the enforcement pipeline.
const (
	AlertAPISpam            = "API_SPAM"
	AlertBotFlood           = "BOT_FLOOD"
	AlertRateLimitAbuse     = "RATE_LIMIT_ABUSE"
	AlertBruteForce         = "BRUTE_FORCE"
	AlertCredentialStuffing = "CREDENTIAL_STUFFING"
	AlertPathTraversal      = "PATH_TRAVERSAL"
	AlertInjectionAttempt   = "INJECTION_ATTEMPT"
	AlertScannerProbe       = "SCANNER_PROBE"
	AlertSuspiciousClient   = "SUSPICIOUS_CLIENT"
	AlertAdminProbe         = "ADMIN_PROBE"
)

// SecurityAlert is a durable record of a detected security-relevant event.
// Rows are append-only except for the resolution fields.
type SecurityAlert struct {
	ID         uint          `json:"id" gorm:"primaryKey"`
	UUID       string        `json:"uuid" gorm:"uniqueIndex"`
	Type       string        `json:"type" gorm:"index"`
	Severity   AlertSeverity `json:"severity" gorm:"index"`
	IPAddress  string        `json:"ip_address" gorm:"index"`
	Path       string        `json:"path"`
	UserAgent  string        `json:"user_agent"`
	Details    string        `json:"details" gorm:"type:text"`
	Metadata   string        `json:"metadata,omitempty" gorm:"type:text"` // JSON blob
	Resolved   bool          `json:"resolved" gorm:"index;default:false"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at" gorm:"index"`
}

func (a *SecurityAlert) BeforeCreate(tx *gorm.DB) (err error) {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return
}

// IsCritical reports whether the alert warrants immediate notification.
func (a *SecurityAlert) IsCritical() bool {
	return a.Severity == SeverityCritical
}
