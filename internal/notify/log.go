package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogNotifier writes notifications to the application log. It is the
// default implementation for local runs.
type LogNotifier struct{}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Send logs the notification instead of delivering it.
func (n *LogNotifier) Send(_ context.Context, recipient, template string, data ...string) error {
	log.WithFields(log.Fields{
		"recipient": recipient,
		"template":  template,
		"data":      data,
	}).Info("notify: dispatch")
	return nil
}

// Ensure LogNotifier implements Notifier.
var _ Notifier = (*LogNotifier)(nil)
