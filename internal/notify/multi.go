package notify

import (
	"context"
	"sync"

	"ambulance-cloud/internal/dispatch/application"
	"ambulance-cloud/internal/dispatch/application/events"
)

// MultiNotifier fans decision notifications out to multiple notifiers.
type MultiNotifier struct {
	mu        sync.RWMutex
	notifiers []application.Notifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...application.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Add registers another notifier. Sinks constructed after the engine, such
// as the unit hub, attach here.
func (m *MultiNotifier) Add(notifier application.Notifier) {
	if m == nil || notifier == nil {
		return
	}
	m.mu.Lock()
	m.notifiers = append(m.notifiers, notifier)
	m.mu.Unlock()
}

// Notify forwards the notification to all registered notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, note events.Notification) {
	if m == nil {
		return
	}
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()
	for _, notifier := range notifiers {
		if notifier != nil {
			notifier.Notify(ctx, note)
		}
	}
}
