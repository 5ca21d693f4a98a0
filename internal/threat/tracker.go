// Package threat accumulates per-IP adversarial evidence and escalates
// enforcement severity as bad signals repeat.
package threat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/perimeterd/perimeter/internal/models"
)

// Tracking thresholds. Counters accumulate inside one tracking window; the
// whole record resets once the window has elapsed.
const (
	trackingWindow   = 10 * time.Minute
	inactivityFactor = 2

	defaultBlockDuration = time.Hour

	// Volume ceiling for one window before API_SPAM is raised.
	apiSpamThreshold = 500

	// Sustained-rate ceiling for BOT_FLOOD. Only evaluated after a minimum
	// elapsed time and sample count so short bursts do not false-positive.
	botFloodRPS         = 20.0
	botFloodMinElapsed  = 5 * time.Second
	botFloodMinRequests = 100

	rateLimitAbuseThreshold = 10
	suspiciousBlockCount    = 5
	bruteForceThreshold     = 5
	stuffingEmailThreshold  = 3

	// maxAlertsPerType throttles emission per tracker, not globally, so one
	// persistent attacker cannot flood the alert channel while evidence
	// still accumulates toward higher severity.
	maxAlertsPerType = 3
)

// patternAlertTypes maps classifier pattern types to alert categories.
var patternAlertTypes = map[string]string{
	PatternPathTraversal:    models.AlertPathTraversal,
	PatternXSSProbe:         models.AlertInjectionAttempt,
	PatternSQLInjection:     models.AlertInjectionAttempt,
	PatternCodeInjection:    models.AlertInjectionAttempt,
	PatternCommandInjection: models.AlertInjectionAttempt,
	PatternCMSScan:          models.AlertScannerProbe,
	PatternDotfileAccess:    models.AlertScannerProbe,
	PatternScannerUA:        models.AlertSuspiciousClient,
	PatternSQLiToolUA:       models.AlertSuspiciousClient,
	PatternClientUA:         models.AlertSuspiciousClient,
	PatternSuspiciousUA:     models.AlertSuspiciousClient,
	PatternAdminProbe:       models.AlertAdminProbe,
}

// Recorder receives alerts raised by the tracker.
type Recorder interface {
	Record(alert models.SecurityAlert)
}

type ipState struct {
	requestCount    int
	rateLimitHits   int
	suspiciousHits  int
	loginFailures   int
	emailsAttempted map[string]struct{}
	firstSeen       time.Time
	lastSeen        time.Time
	alertsSent      map[string]int
	blocked         bool
	blockExpiry     time.Time
}

// Tracker is the per-IP accumulating state machine. State is process-local
// and not persisted across restarts; cross-process continuity is delegated
// to the distributed rate limiter and the durable alert store.
type Tracker struct {
	mu       sync.Mutex
	recorder Recorder
	states   map[string]*ipState
}

// NewTracker builds an empty tracker emitting alerts through recorder.
func NewTracker(recorder Recorder) *Tracker {
	return &Tracker{recorder: recorder, states: make(map[string]*ipState)}
}

// state returns the record for ip, creating it lazily and resetting it when
// the tracking window has elapsed. Caller holds the lock.
func (t *Tracker) state(ip string, now time.Time) *ipState {
	s, ok := t.states[ip]
	if ok && !s.blocked && now.Sub(s.firstSeen) > trackingWindow {
		ok = false
	}
	if !ok {
		s = &ipState{
			emailsAttempted: make(map[string]struct{}),
			firstSeen:       now,
			alertsSent:      make(map[string]int),
		}
		t.states[ip] = s
	}
	return s
}

// alert builds an alert if the per-tracker throttle allows another of this
// type. Caller holds the lock; emission happens after unlock.
func (s *ipState) alert(alertType string, severity models.AlertSeverity, ip, path, userAgent, details string) *models.SecurityAlert {
	if s.alertsSent[alertType] >= maxAlertsPerType {
		return nil
	}
	s.alertsSent[alertType]++
	return &models.SecurityAlert{
		Type:      alertType,
		Severity:  severity,
		IPAddress: ip,
		Path:      path,
		UserAgent: userAgent,
		Details:   details,
	}
}

func (s *ipState) block(d time.Duration, now time.Time) {
	s.blocked = true
	s.blockExpiry = now.Add(d)
}

// ObserveRequest counts one request from ip and reports whether the IP is
// (or just became) blocked. While blocked and unexpired nothing increments.
func (t *Tracker) ObserveRequest(ip, path string) bool {
	now := time.Now()
	var pending []*models.SecurityAlert

	t.mu.Lock()
	s := t.state(ip, now)
	if s.blocked {
		if now.Before(s.blockExpiry) {
			t.mu.Unlock()
			return true
		}
		// Block expired: unblock and start a fresh window.
		*s = ipState{
			emailsAttempted: make(map[string]struct{}),
			firstSeen:       now,
			alertsSent:      make(map[string]int),
		}
	}

	s.requestCount++
	s.lastSeen = now

	if s.requestCount >= apiSpamThreshold {
		pending = append(pending, s.alert(models.AlertAPISpam, models.SeverityHigh, ip, path, "",
			fmt.Sprintf("%d requests within tracking window", s.requestCount)))
	}

	blocked := false
	elapsed := now.Sub(s.firstSeen)
	if elapsed > botFloodMinElapsed && s.requestCount >= botFloodMinRequests {
		if rps := float64(s.requestCount) / elapsed.Seconds(); rps >= botFloodRPS {
			pending = append(pending, s.alert(models.AlertBotFlood, models.SeverityCritical, ip, path, "",
				fmt.Sprintf("sustained %.1f req/s over %s", rps, elapsed.Round(time.Second))))
			s.block(defaultBlockDuration, now)
			blocked = true
		}
	}
	t.mu.Unlock()

	t.emit(pending)
	return blocked
}

// ObserveRateLimitHit records that ip tripped a rate limit.
func (t *Tracker) ObserveRateLimitHit(ip, path, category string) {
	now := time.Now()
	var pending []*models.SecurityAlert

	t.mu.Lock()
	s := t.state(ip, now)
	s.rateLimitHits++
	s.lastSeen = now

	if s.rateLimitHits >= rateLimitAbuseThreshold {
		pending = append(pending, s.alert(models.AlertRateLimitAbuse, models.SeverityHigh, ip, path, "",
			fmt.Sprintf("%d rate limit hits (category %s)", s.rateLimitHits, category)))
	}
	if s.rateLimitHits >= 2*rateLimitAbuseThreshold && !s.blocked {
		s.block(defaultBlockDuration, now)
	}
	t.mu.Unlock()

	t.emit(pending)
}

// ObserveSuspicious records a classifier match from ip. Severity escalates
// to critical, with a self-block, once matches accumulate.
func (t *Tracker) ObserveSuspicious(ip, path, userAgent, patternType string) {
	now := time.Now()
	var pending []*models.SecurityAlert

	alertType, ok := patternAlertTypes[patternType]
	if !ok {
		alertType = models.AlertScannerProbe
	}

	t.mu.Lock()
	s := t.state(ip, now)
	s.suspiciousHits++
	s.lastSeen = now

	severity := models.SeverityMedium
	if s.suspiciousHits >= suspiciousBlockCount {
		severity = models.SeverityCritical
		if !s.blocked {
			s.block(defaultBlockDuration, now)
		}
	}
	pending = append(pending, s.alert(alertType, severity, ip, path, userAgent,
		fmt.Sprintf("pattern %s (%d suspicious hits)", patternType, s.suspiciousHits)))
	t.mu.Unlock()

	t.emit(pending)
}

// ObserveLoginFailure records a failed login from ip for the given email.
// Many identities from one source is a stronger signal than repeated
// failures on one identity, so distinct emails escalate faster.
func (t *Tracker) ObserveLoginFailure(ip, email string) {
	now := time.Now()
	var pending []*models.SecurityAlert

	t.mu.Lock()
	s := t.state(ip, now)
	s.loginFailures++
	s.lastSeen = now
	s.emailsAttempted[strings.ToLower(strings.TrimSpace(email))] = struct{}{}

	if s.loginFailures >= bruteForceThreshold {
		pending = append(pending, s.alert(models.AlertBruteForce, models.SeverityCritical, ip, "/api/v1/auth/login", "",
			fmt.Sprintf("%d failed logins within tracking window", s.loginFailures)))
	}
	if len(s.emailsAttempted) >= stuffingEmailThreshold {
		pending = append(pending, s.alert(models.AlertCredentialStuffing, models.SeverityCritical, ip, "/api/v1/auth/login", "",
			fmt.Sprintf("%d distinct emails attempted", len(s.emailsAttempted))))
		if !s.blocked {
			s.block(defaultBlockDuration, now)
		}
	}
	t.mu.Unlock()

	t.emit(pending)
}

// IsBlocked reports whether ip is currently blocked, clearing expired
// blocks as a side effect.
func (t *Tracker) IsBlocked(ip string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[ip]
	if !ok || !s.blocked {
		return false
	}
	if now.After(s.blockExpiry) {
		s.blocked = false
		return false
	}
	return true
}

// Sweep drops records inactive for twice the tracking window unless they
// carry an unexpired block. Returns the number of records removed.
func (t *Tracker) Sweep() int {
	now := time.Now()
	cutoff := now.Add(-inactivityFactor * trackingWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for ip, s := range t.states {
		if s.blocked && now.Before(s.blockExpiry) {
			continue
		}
		if s.lastSeen.Before(cutoff) {
			delete(t.states, ip)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked IPs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

func (t *Tracker) emit(pending []*models.SecurityAlert) {
	if t.recorder == nil {
		return
	}
	for _, a := range pending {
		if a != nil {
			t.recorder.Record(*a)
		}
	}
}
