// Package notify delivers critical security alerts to external channels via
// shoutrrr. Delivery is fire-and-forget; failures are logged, never
// propagated to the request path.
package notify

import (
	"fmt"
	"regexp"

	"github.com/containrrr/shoutrrr"

	"github.com/perimeterd/perimeter/internal/logger"
	"github.com/perimeterd/perimeter/internal/models"
)

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

// normalizeURL rewrites plain Discord webhook URLs into shoutrrr form so
// operators can paste them straight from Discord.
func normalizeURL(rawURL string) string {
	matches := discordWebhookRegex.FindStringSubmatch(rawURL)
	if len(matches) == 3 {
		return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
	}
	return rawURL
}

// Notifier fans critical alerts out to the configured shoutrrr URLs.
type Notifier struct {
	urls []string
}

// New builds a notifier for the given destination URLs. An empty list
// yields a no-op notifier.
func New(urls []string) *Notifier {
	normalized := make([]string, 0, len(urls))
	for _, u := range urls {
		normalized = append(normalized, normalizeURL(u))
	}
	return &Notifier{urls: normalized}
}

// NotifyCritical sends one alert to every destination. Callers run it on
// its own goroutine; each send failure is logged and the rest proceed.
func (n *Notifier) NotifyCritical(alert models.SecurityAlert) {
	if len(n.urls) == 0 {
		return
	}

	msg := fmt.Sprintf("[%s] %s from %s\n\nPath: %s\n%s",
		alert.Severity, alert.Type, alert.IPAddress, alert.Path, alert.Details)

	for _, url := range n.urls {
		if err := shoutrrr.Send(url, msg); err != nil {
			logger.WithFields(map[string]interface{}{
				"alert_type": alert.Type,
				"ip":         alert.IPAddress,
			}).WithError(err).Warn("failed to deliver critical alert notification")
		}
	}
}
