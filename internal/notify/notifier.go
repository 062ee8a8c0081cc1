// Package notify delivers user-facing notifications. The production
// deployment fronts a mail/push gateway; this package carries the local
// implementation that records deliveries to the log.
package notify

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/interfaces"
)

// LogNotifier writes every notification to the structured log. Used in
// development and as the fallback when no gateway is configured.
type LogNotifier struct {
	logger arbor.ILogger
}

var _ interfaces.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger arbor.ILogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements interfaces.Notifier. Fire-and-forget: nothing here can
// fail the caller.
func (n *LogNotifier) Notify(userID, templateKey string, data map[string]interface{}) {
	event := n.logger.Info().
		Str("user_id", userID).
		Str("template", templateKey)
	for key, value := range data {
		event = event.Str(key, fmt.Sprint(value))
	}
	event.Msg("Notification dispatched")
}
