package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/observability/metrics"
)

// SSEBroker fans out decision notifications to connected consoles. Slow
// clients drop frames rather than stall the engine's flush.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]struct{})}
}

// Notify implements application.Notifier.
func (b *SSEBroker) Notify(_ context.Context, n events.Notification) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	b.broadcast(payload)
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 32)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	metrics.SetStreamClients("sse", len(b.clients))
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel. The close happens under the broker
// lock so a concurrent broadcast can never send on a closed channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	metrics.SetStreamClients("sse", len(b.clients))
	b.mu.Unlock()
}

func (b *SSEBroker) broadcast(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// SnapshotSource supplies the sequence number sent on connect so clients can
// detect whether they missed decisions.
type SnapshotSource interface {
	Snapshot() *events.Snapshot
}

// StreamHandler serves the SSE decision stream.
type StreamHandler struct {
	broker *SSEBroker
	source SnapshotSource
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker, source SnapshotSource) *StreamHandler {
	return &StreamHandler{broker: broker, source: source}
}

// ServeHTTP handles GET /api/v1/events/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	var seq uint64
	if h.source != nil {
		if snap := h.source.Snapshot(); snap != nil {
			seq = snap.Seq
		}
	}
	_, _ = fmt.Fprintf(w, "event: ready\ndata: {\"seq\":%d}\n\n", seq)
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: decision\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
