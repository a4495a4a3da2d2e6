package notify

import (
	"context"
	"sync"
)

// Sent captures one recorded notification.
type Sent struct {
	Recipient string
	Template  string
	Data      []string
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Send records the notification.
func (r *Recorder) Send(_ context.Context, recipient, template string, data ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Recipient: recipient, Template: template, Data: append([]string(nil), data...)})
	return nil
}

// Recorded returns a copy of the recorded notifications.
func (r *Recorder) Recorded() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// CountByTemplate returns how many notifications used the given template.
func (r *Recorder) CountByTemplate(template string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.sent {
		if s.Template == template {
			count++
		}
	}
	return count
}

// Ensure Recorder implements Notifier.
var _ Notifier = (*Recorder)(nil)
