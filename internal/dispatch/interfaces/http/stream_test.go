package http

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ambulance-cloud/internal/dispatch/application/events"
)

func TestSSEBrokerFanout(t *testing.T) {
	broker := NewSSEBroker()
	first := broker.Subscribe()
	second := broker.Subscribe()

	broker.Notify(context.Background(), events.Notification{
		Kind:        events.NotifyAssignmentChanged,
		EmergencyID: "E-1",
		HospitalID:  "H-1",
	})

	for _, ch := range []chan []byte{first, second} {
		select {
		case payload := <-ch:
			var n events.Notification
			if err := json.Unmarshal(payload, &n); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if n.Kind != events.NotifyAssignmentChanged || n.EmergencyID != "E-1" {
				t.Fatalf("unexpected notification %+v", n)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected broadcast on both clients")
		}
	}

	broker.Unsubscribe(first)
	if _, ok := <-first; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}

	// The surviving client still receives.
	broker.Notify(context.Background(), events.Notification{Kind: events.NotifyEmergencyCreated, EmergencyID: "E-2"})
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatalf("expected broadcast after peer unsubscribed")
	}
}

func TestSSEBrokerDropsWhenClientStalls(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()

	// Never drained: the buffer fills and later frames drop instead of
	// blocking the engine's flush.
	for i := 0; i < cap(ch)+8; i++ {
		broker.Notify(context.Background(), events.Notification{Kind: events.NotifyRouteRecomputed, EmergencyID: "E-SLOW"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != cap(ch) {
		t.Fatalf("expected %d buffered frames, got %d", cap(ch), received)
	}
}
