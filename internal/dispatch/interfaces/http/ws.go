package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ambulance-cloud/internal/dispatch/application"
	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/observability/metrics"
	"ambulance-cloud/internal/triage"
)

// unitFrame is one message from a connected ambulance terminal.
type unitFrame struct {
	Type        string             `json:"type"`
	EmergencyID string             `json:"emergency_id,omitempty"`
	Location    *locationBody      `json:"location,omitempty"`
	Vitals      *triage.VitalSigns `json:"vitals,omitempty"`
	At          time.Time          `json:"at,omitempty"`
}

type unitClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// UnitHub bridges ambulance terminals and the engine: inbound frames become
// intake events, outbound decision facts are pushed to the unit they name.
type UnitHub struct {
	engine   *application.Engine
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*unitClient
}

// NewUnitHub constructs a hub.
func NewUnitHub(engine *application.Engine, logger *log.Logger) (*UnitHub, error) {
	if engine == nil {
		return nil, errors.New("unit hub: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &UnitHub{
		engine: engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*unitClient),
	}, nil
}

// Notify implements application.Notifier: decision facts naming an ambulance
// are pushed to that unit's terminal when connected.
func (h *UnitHub) Notify(_ context.Context, n events.Notification) {
	if h == nil || n.AmbulanceID == "" {
		return
	}
	h.mu.RLock()
	client := h.clients[n.AmbulanceID]
	h.mu.RUnlock()
	if client == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

// ServeHTTP handles GET /api/v1/units/ws?unit_id=A-12.
func (h *UnitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	unitID := r.URL.Query().Get("unit_id")
	if unitID == "" {
		http.Error(w, "unit_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &unitClient{
		id:   unitID,
		conn: conn,
		send: make(chan []byte, 32),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if prev := h.clients[unitID]; prev != nil {
		// A reconnect supersedes the old socket.
		prev.conn.Close()
	}
	h.clients[unitID] = client
	metrics.SetStreamClients("ws", len(h.clients))
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *UnitHub) readPump(client *unitClient) {
	defer func() {
		h.mu.Lock()
		if h.clients[client.id] == client {
			delete(h.clients, client.id)
		}
		metrics.SetStreamClients("ws", len(h.clients))
		h.mu.Unlock()
		close(client.done)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(client, message)
	}
}

func (h *UnitHub) writePump(client *unitClient) {
	for {
		select {
		case message := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (h *UnitHub) handleFrame(client *unitClient, message []byte) {
	var frame unitFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		h.logger.Printf("unit %s: malformed frame: %v", client.id, err)
		return
	}

	var evt events.Event
	switch frame.Type {
	case "location":
		if frame.Location == nil {
			h.logger.Printf("unit %s: location frame without coordinates", client.id)
			return
		}
		evt = events.LocationUpdate{
			AmbulanceID: client.id,
			Location:    geo.Point{Lat: frame.Location.Lat, Lon: frame.Location.Lon},
			At:          frame.At,
		}
	case "vitals":
		if frame.EmergencyID == "" || frame.Vitals == nil {
			h.logger.Printf("unit %s: vitals frame missing emergency or readings", client.id)
			return
		}
		evt = events.VitalsUpdate{EmergencyID: frame.EmergencyID, Vitals: *frame.Vitals}
	case "acknowledge":
		if frame.EmergencyID == "" {
			h.logger.Printf("unit %s: acknowledge frame missing emergency", client.id)
			return
		}
		evt = events.Acknowledge{EmergencyID: frame.EmergencyID, AmbulanceID: client.id}
	case "arrived":
		if frame.EmergencyID == "" {
			h.logger.Printf("unit %s: arrived frame missing emergency", client.id)
			return
		}
		evt = events.MarkArrived{EmergencyID: frame.EmergencyID}
	default:
		h.logger.Printf("unit %s: unknown frame type %q", client.id, frame.Type)
		return
	}

	if err := h.engine.Submit(evt); err != nil {
		// Telemetry is periodic; a saturated queue drops the frame and the
		// next report catches up.
		h.logger.Printf("unit %s: submit %s: %v", client.id, frame.Type, err)
	}
}
