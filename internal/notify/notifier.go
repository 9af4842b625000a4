package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"ambulance-cloud/internal/dispatch/application/events"
)

// eventReviewReminder is the synthetic event sent when a fallback
// assignment is still unreviewed after the escalation delay.
const eventReviewReminder = "review_reminder"

// SnapshotReader exposes the committed decision state. The notifier
// re-checks an emergency here before sending a review reminder.
type SnapshotReader interface {
	Snapshot() *events.Snapshot
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders decision notifications and delivers them via a channel.
// A fallback assignment that nobody reviews within the escalation delay
// produces a reminder.
type Notifier struct {
	snapshots      SnapshotReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	kinds          map[string]bool
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures the review reminder delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for reminder sends.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// emergency and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithKinds restricts delivery to the given notification kinds.
func WithKinds(kinds ...string) Option {
	return func(n *Notifier) {
		if len(kinds) == 0 {
			return
		}
		n.kinds = make(map[string]bool, len(kinds))
		for _, kind := range kinds {
			n.kinds[kind] = true
		}
	}
}

// NewNotifier constructs a decision notifier.
func NewNotifier(snapshots SnapshotReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if snapshots == nil {
		return nil, errors.New("dispatch notifier: nil snapshot reader")
	}
	if channel == nil {
		return nil, errors.New("dispatch notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		snapshots:      snapshots,
		channel:        channel,
		template:       template,
		escalation:     0,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.Notifier.
func (n *Notifier) Notify(ctx context.Context, note events.Notification) {
	if n == nil || n.channel == nil {
		return
	}
	if n.wants(note.Kind) {
		n.dispatch(ctx, note.Kind, note)
	}

	switch note.Kind {
	case events.NotifyAssignmentChanged:
		if fallbackReason(note.Reason) {
			n.scheduleReminder(note.EmergencyID)
		} else {
			n.cancelReminder(note.EmergencyID)
		}
	case events.NotifyEmergencyClosed:
		n.cancelReminder(note.EmergencyID)
	}
}

// Close stops all pending reminder timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) wants(kind string) bool {
	if len(n.kinds) == 0 {
		return true
	}
	return n.kinds[kind]
}

// fallbackReason reports whether an assignment came off the fallback ladder
// and is waiting on operator review.
func fallbackReason(reason string) bool {
	return reason == events.ReasonFallbackRelaxed || reason == events.ReasonFallbackNearest
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, note events.Notification) {
	content, err := n.template.Render(buildTemplateData(eventType, note))
	if err != nil {
		return
	}
	if !n.shouldSend(note.EmergencyID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(note.EmergencyID, eventType, content)
}

func (n *Notifier) scheduleReminder(emergencyID string) {
	if n == nil || n.escalation <= 0 || emergencyID == "" {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[emergencyID]; ok {
		if existing != nil {
			existing.Stop()
		}
	}
	timer := time.AfterFunc(n.escalation, func() {
		n.runReminder(emergencyID)
	})
	n.timers[emergencyID] = timer
	n.mu.Unlock()
}

func (n *Notifier) cancelReminder(emergencyID string) {
	if n == nil || emergencyID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[emergencyID]
	delete(n.timers, emergencyID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runReminder(emergencyID string) {
	if n == nil || emergencyID == "" {
		return
	}
	n.mu.Lock()
	delete(n.timers, emergencyID)
	n.mu.Unlock()

	// A closed or cancelled emergency has left the snapshot; a revision or
	// override since scheduling has cleared the review flag.
	view, ok := n.snapshots.Snapshot().Emergency(emergencyID)
	if !ok || !view.NeedsReview {
		return
	}

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	note := events.Notification{
		Kind:         eventReviewReminder,
		EmergencyID:  view.ID,
		OccurredAt:   n.clock.Now().UTC(),
		AmbulanceID:  view.AmbulanceID,
		HospitalID:   view.HospitalID,
		HospitalName: view.HospitalName,
		Risk:         string(view.Risk),
	}
	if view.Route != nil {
		note.EtaMinutes = view.Route.ETAMinutes()
	}
	n.dispatch(ctx, eventReviewReminder, note)
}

func buildTemplateData(eventType string, note events.Notification) TemplateData {
	hospital := note.HospitalName
	if hospital == "" {
		hospital = note.HospitalID
	}
	at := note.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	return TemplateData{
		Event:        eventType,
		EventLabel:   eventLabel(eventType),
		EmergencyID:  note.EmergencyID,
		Ambulance:    note.AmbulanceID,
		Hospital:     hospital,
		HospitalID:   note.HospitalID,
		PrevHospital: note.PrevHospitalID,
		Reason:       reasonLabel(note.Reason),
		Risk:         note.Risk,
		PrevRisk:     note.PrevRisk,
		Eta:          formatMinutes(note.EtaMinutes),
		PrevEta:      formatMinutes(note.PrevEtaMinutes),
		Status:       note.Status,
		Time:         at.UTC().Format(time.RFC3339),
	}
}

func eventLabel(event string) string {
	switch event {
	case events.NotifyEmergencyCreated:
		return "Created"
	case events.NotifyAssignmentChanged:
		return "Assignment"
	case events.NotifyRiskEscalated:
		return "Risk Escalated"
	case events.NotifyRouteRecomputed:
		return "Route Updated"
	case events.NotifyEmergencyClosed:
		return "Closed"
	case eventReviewReminder:
		return "Review Outstanding"
	default:
		return event
	}
}

func reasonLabel(reason string) string {
	switch reason {
	case events.ReasonInitialAllocation:
		return "initial allocation"
	case events.ReasonFallbackRelaxed:
		return "requirements relaxed, review needed"
	case events.ReasonFallbackNearest:
		return "nearest hospital fallback, review needed"
	case events.ReasonBetterOption:
		return "better option cleared the switch margin"
	case events.ReasonHospitalUnavailable:
		return "assigned hospital no longer eligible"
	case events.ReasonRiskUpgrade:
		return "risk upgrade changed requirements"
	case events.ReasonManualOverride:
		return "manual override"
	default:
		return reason
	}
}

func formatMinutes(minutes float64) string {
	if minutes <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f min", minutes)
}

func (n *Notifier) shouldSend(emergencyID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(emergencyID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(emergencyID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(emergencyID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(emergencyID, eventType string) string {
	return emergencyID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
