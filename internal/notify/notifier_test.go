package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/triage"
)

type stubSnapshots struct {
	mu   sync.Mutex
	snap *events.Snapshot
}

func (s *stubSnapshots) Snapshot() *events.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return &events.Snapshot{}
	}
	return s.snap
}

func (s *stubSnapshots) set(snap *events.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}

	notifier, err := NewNotifier(&stubSnapshots{}, channel, tpl, WithEscalation(0))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), events.Notification{
		Kind:         events.NotifyAssignmentChanged,
		EmergencyID:  "E-1",
		OccurredAt:   time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC),
		AmbulanceID:  "A-7",
		HospitalID:   "H-CARD",
		HospitalName: "City Cardiac Center",
		Reason:       events.ReasonFallbackRelaxed,
		EtaMinutes:   12.5,
	})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		if payload.Text.Content == "" {
			t.Fatalf("expected content in payload")
		}
		content := payload.Text.Content
		checks := []string{
			"[Dispatch Assignment]",
			"Emergency: E-1",
			"Unit: A-7",
			"Hospital: City Cardiac Center",
			"ETA: 12.5 min",
			"Time: 2026-02-03T08:00:00Z",
			"Reason: requirements relaxed, review needed",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}

	notifier, err := NewNotifier(&stubSnapshots{}, channel, nil,
		WithEscalation(0),
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	note := events.Notification{
		Kind:         events.NotifyAssignmentChanged,
		EmergencyID:  "E-CD",
		OccurredAt:   clock.Now(),
		AmbulanceID:  "A-1",
		HospitalID:   "H-1",
		HospitalName: "Central",
		Reason:       events.ReasonInitialAllocation,
		EtaMinutes:   9,
	}

	notifier.Notify(context.Background(), note)
	notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 2, 3, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}

	notifier, err := NewNotifier(&stubSnapshots{}, channel, nil,
		WithEscalation(0),
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	note := events.Notification{
		Kind:           events.NotifyRouteRecomputed,
		EmergencyID:    "E-DD",
		OccurredAt:     clock.Now(),
		HospitalID:     "H-1",
		EtaMinutes:     14,
		PrevEtaMinutes: 9,
	}

	notifier.Notify(context.Background(), note)
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	note.EtaMinutes = 21
	notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestNotifierReviewReminder(t *testing.T) {
	channel := &recordingChannel{}
	snapshots := &stubSnapshots{}
	snapshots.set(&events.Snapshot{
		Seq: 3,
		Emergencies: []events.EmergencyView{{
			ID:           "E-REM",
			Status:       "assigned",
			Risk:         triage.RiskCritical,
			AmbulanceID:  "A-2",
			HospitalID:   "H-NEAR",
			HospitalName: "Nearest General",
			NeedsReview:  true,
		}},
	})

	notifier, err := NewNotifier(snapshots, channel, nil,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), events.Notification{
		Kind:         events.NotifyAssignmentChanged,
		EmergencyID:  "E-REM",
		OccurredAt:   time.Now(),
		AmbulanceID:  "A-2",
		HospitalID:   "H-NEAR",
		HospitalName: "Nearest General",
		Reason:       events.ReasonFallbackNearest,
	})

	deadline := time.After(300 * time.Millisecond)
	for {
		if channel.Count() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected review reminder, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !strings.Contains(channel.Latest(), "Review Outstanding") {
		t.Fatalf("expected reminder content, got %s", channel.Latest())
	}
}

func TestNotifierReminderSkippedAfterReview(t *testing.T) {
	channel := &recordingChannel{}
	snapshots := &stubSnapshots{}
	snapshots.set(&events.Snapshot{
		Seq: 4,
		Emergencies: []events.EmergencyView{{
			ID:          "E-OK",
			Status:      "assigned",
			AmbulanceID: "A-3",
			HospitalID:  "H-1",
			NeedsReview: false,
		}},
	})

	notifier, err := NewNotifier(snapshots, channel, nil,
		WithEscalation(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), events.Notification{
		Kind:        events.NotifyAssignmentChanged,
		EmergencyID: "E-OK",
		OccurredAt:  time.Now(),
		AmbulanceID: "A-3",
		HospitalID:  "H-1",
		Reason:      events.ReasonFallbackRelaxed,
	})

	time.Sleep(80 * time.Millisecond)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected reminder to be skipped after review, got %d notifications", got)
	}
}

func TestNotifierReminderCancelledOnClose(t *testing.T) {
	channel := &recordingChannel{}
	snapshots := &stubSnapshots{}
	snapshots.set(&events.Snapshot{
		Seq: 5,
		Emergencies: []events.EmergencyView{{
			ID:          "E-CL",
			Status:      "assigned",
			AmbulanceID: "A-4",
			HospitalID:  "H-2",
			NeedsReview: true,
		}},
	})

	notifier, err := NewNotifier(snapshots, channel, nil,
		WithEscalation(30*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), events.Notification{
		Kind:        events.NotifyAssignmentChanged,
		EmergencyID: "E-CL",
		OccurredAt:  time.Now(),
		AmbulanceID: "A-4",
		HospitalID:  "H-2",
		Reason:      events.ReasonFallbackNearest,
	})
	notifier.Notify(context.Background(), events.Notification{
		Kind:        events.NotifyEmergencyClosed,
		EmergencyID: "E-CL",
		OccurredAt:  time.Now(),
		Status:      "closed",
	})

	time.Sleep(100 * time.Millisecond)
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected no reminder after close, got %d notifications", got)
	}
	if strings.Contains(channel.Latest(), "Review Outstanding") {
		t.Fatalf("expected latest notification to be the close, got %s", channel.Latest())
	}
}

func TestNotifierKindsFilter(t *testing.T) {
	channel := &recordingChannel{}

	notifier, err := NewNotifier(&stubSnapshots{}, channel, nil,
		WithKinds(events.NotifyAssignmentChanged, events.NotifyEmergencyClosed),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), events.Notification{
		Kind:        events.NotifyRouteRecomputed,
		EmergencyID: "E-K",
		OccurredAt:  time.Now(),
		EtaMinutes:  18,
	})
	if got := channel.Count(); got != 0 {
		t.Fatalf("expected filtered kind to be dropped, got %d", got)
	}

	notifier.Notify(context.Background(), events.Notification{
		Kind:        events.NotifyAssignmentChanged,
		EmergencyID: "E-K",
		OccurredAt:  time.Now(),
		AmbulanceID: "A-1",
		HospitalID:  "H-1",
		Reason:      events.ReasonInitialAllocation,
	})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected allowed kind to be delivered, got %d", got)
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	notes []events.Notification
}

func (c *countingNotifier) Notify(_ context.Context, note events.Notification) {
	c.mu.Lock()
	c.notes = append(c.notes, note)
	c.mu.Unlock()
}

func (c *countingNotifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes)
}

func TestMultiNotifierAdd(t *testing.T) {
	first := &countingNotifier{}
	second := &countingNotifier{}

	multi := NewMultiNotifier(first, nil)
	note := events.Notification{Kind: events.NotifyEmergencyCreated, EmergencyID: "E-M", OccurredAt: time.Now()}

	multi.Notify(context.Background(), note)
	if first.Count() != 1 || second.Count() != 0 {
		t.Fatalf("expected only first notifier before Add, got %d/%d", first.Count(), second.Count())
	}

	multi.Add(second)
	multi.Add(nil)
	multi.Notify(context.Background(), note)
	if first.Count() != 2 {
		t.Fatalf("expected first notifier to receive both, got %d", first.Count())
	}
	if second.Count() != 1 {
		t.Fatalf("expected added notifier to receive one, got %d", second.Count())
	}
}
