// Package http exposes the dispatch console API: command endpoints feeding
// the decision engine and read endpoints serving its snapshots.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ambulance-cloud/internal/audit"
	"ambulance-cloud/internal/auth"
	"ambulance-cloud/internal/dispatch/application"
	"ambulance-cloud/internal/dispatch/application/events"
	dispatch "ambulance-cloud/internal/dispatch/domain"
	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/handoff"
	"ambulance-cloud/internal/observability/metrics"
	"ambulance-cloud/internal/triage"
)

// replyTimeout bounds how long a console call waits for the engine to apply
// its command. The engine is single-threaded; a full queue answers faster
// than this through ErrQueueFull.
const replyTimeout = 5 * time.Second

// Handler provides the console HTTP endpoints.
type Handler struct {
	engine      *application.Engine
	validate    *validator.Validate
	auditLogger audit.Logger
}

// NewHandler constructs a handler. The audit logger may be nil.
func NewHandler(engine *application.Engine, auditLogger audit.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("console handler: nil engine")
	}
	return &Handler{engine: engine, validate: validator.New(), auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/emergencies, /api/v1/ambulances, /api/v1/hospitals
// and /api/v1/snapshot.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/emergencies":
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleListEmergencies(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/emergencies/"):
		h.handleEmergency(w, r)
		return
	case r.URL.Path == "/api/v1/ambulances":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, h.engine.Snapshot().Ambulances)
		return
	case r.URL.Path == "/api/v1/hospitals":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, h.engine.Snapshot().Hospitals)
		return
	case r.URL.Path == "/api/v1/snapshot":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, h.engine.Snapshot())
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

type createEmergencyRequest struct {
	EmergencyID string             `json:"emergency_id" validate:"omitempty,max=64"`
	Location    locationBody       `json:"location"`
	Condition   string             `json:"condition" validate:"required,oneof=cardiac trauma stroke other"`
	Vitals      *triage.VitalSigns `json:"vitals"`
}

type locationBody struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lon float64 `json:"lon" validate:"min=-180,max=180"`
}

type acknowledgeRequest struct {
	AmbulanceID string `json:"ambulance_id" validate:"required,max=64"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=240"`
}

type overrideRequest struct {
	HospitalID string `json:"hospital_id" validate:"required,max=64"`
	Operator   string `json:"operator" validate:"omitempty,max=64"`
	Reason     string `json:"reason" validate:"omitempty,max=240"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createEmergencyRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, ok := h.await(w, r, func(reply chan<- events.Result) events.Event {
		return events.CreateEmergency{
			EmergencyID: req.EmergencyID,
			Location:    geo.Point{Lat: req.Location.Lat, Lon: req.Location.Lon},
			Condition:   triage.Condition(req.Condition),
			Vitals:      req.Vitals,
			Reply:       reply,
		}
	})
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(view)
	h.logAudit(r, view.ID, "emergency.create", map[string]any{"condition": string(view.Condition)})
}

func (h *Handler) handleListEmergencies(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	status := r.URL.Query().Get("status")
	review := r.URL.Query().Get("needs_review")
	if status == "" && review == "" {
		writeJSON(w, snap.Emergencies)
		return
	}
	filtered := make([]events.EmergencyView, 0, len(snap.Emergencies))
	for _, e := range snap.Emergencies {
		if status != "" && e.Status != status {
			continue
		}
		if review == "true" && !e.NeedsReview {
			continue
		}
		filtered = append(filtered, e)
	}
	writeJSON(w, filtered)
}

func (h *Handler) handleEmergency(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/emergencies/")
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view, ok := h.engine.Snapshot().Emergency(parts[0])
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, view)
	case 2:
		switch r.Method {
		case http.MethodGet:
			switch parts[1] {
			case "handoff.pdf", "handoff.xlsx":
				h.handleHandoff(w, r, parts[0], parts[1])
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPost:
			h.handleAction(w, r, parts[0], parts[1])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, id, action string) {
	switch action {
	case "vitals":
		var vitals triage.VitalSigns
		if !h.decode(w, r, &vitals) {
			return
		}
		if err := vitals.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.engine.Submit(events.VitalsUpdate{EmergencyID: id, Vitals: vitals}); err != nil {
			respondSubmitError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.logAudit(r, id, "emergency.vitals", nil)
	case "acknowledge":
		var req acknowledgeRequest
		if !h.decode(w, r, &req) {
			return
		}
		if _, ok := h.replyJSON(w, r, func(reply chan<- events.Result) events.Event {
			return events.Acknowledge{EmergencyID: id, AmbulanceID: req.AmbulanceID, Reply: reply}
		}); ok {
			h.logAudit(r, id, "emergency.acknowledge", map[string]any{"ambulance_id": req.AmbulanceID})
		}
	case "arrived":
		if _, ok := h.replyJSON(w, r, func(reply chan<- events.Result) events.Event {
			return events.MarkArrived{EmergencyID: id, Reply: reply}
		}); ok {
			h.logAudit(r, id, "emergency.arrived", nil)
		}
	case "close":
		if _, ok := h.replyJSON(w, r, func(reply chan<- events.Result) events.Event {
			return events.CloseEmergency{EmergencyID: id, Reply: reply}
		}); ok {
			h.logAudit(r, id, "emergency.close", nil)
		}
	case "cancel":
		var req cancelRequest
		if r.ContentLength > 0 && !h.decode(w, r, &req) {
			return
		}
		if _, ok := h.replyJSON(w, r, func(reply chan<- events.Result) events.Event {
			return events.CancelEmergency{EmergencyID: id, Reason: req.Reason, Reply: reply}
		}); ok {
			h.logAudit(r, id, "emergency.cancel", map[string]any{"reason": req.Reason})
		}
	case "override":
		var req overrideRequest
		if !h.decode(w, r, &req) {
			return
		}
		if _, ok := h.replyJSON(w, r, func(reply chan<- events.Result) events.Event {
			return events.ManualOverride{
				EmergencyID: id,
				HospitalID:  req.HospitalID,
				Operator:    req.Operator,
				Reason:      req.Reason,
				Reply:       reply,
			}
		}); ok {
			h.logAudit(r, id, "emergency.override", map[string]any{"hospital_id": req.HospitalID, "reason": req.Reason})
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleHandoff streams the receiving-hospital report for a live emergency.
func (h *Handler) handleHandoff(w http.ResponseWriter, r *http.Request, id, format string) {
	label := strings.TrimPrefix(format, "handoff.")
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(label, result, time.Since(start))
	}()

	view, ok := h.engine.Snapshot().Emergency(id)
	if !ok {
		result = metrics.ResultError
		http.Error(w, "emergency not found", http.StatusNotFound)
		return
	}

	build := handoff.BuildPDF
	contentType := "application/pdf"
	if label == "xlsx" {
		build = handoff.BuildXLSX
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	data, err := build(view)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export "+label+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, id, "emergency.handoff", map[string]any{"format": label})
}

func (h *Handler) logAudit(r *http.Request, emergencyID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var payload []byte
	if len(meta) > 0 {
		payload, _ = json.Marshal(meta)
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		AgencyID:     auth.AgencyIDFromContext(r.Context()),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "emergency",
		ResourceID:   emergencyID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// decode reads and validates a JSON body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// replyJSON submits a command, waits for the decision and writes the view.
// The bool reports whether the command was applied.
func (h *Handler) replyJSON(w http.ResponseWriter, r *http.Request, build func(chan<- events.Result) events.Event) (*events.EmergencyView, bool) {
	view, ok := h.await(w, r, build)
	if !ok {
		return nil, false
	}
	writeJSON(w, view)
	return view, true
}

// await submits the command and blocks until the engine answers, the client
// goes away or the timeout fires. The bool reports whether a response body
// should still be written.
func (h *Handler) await(w http.ResponseWriter, r *http.Request, build func(chan<- events.Result) events.Event) (*events.EmergencyView, bool) {
	reply := make(chan events.Result, 1)
	if err := h.engine.Submit(build(reply)); err != nil {
		respondSubmitError(w, err)
		return nil, false
	}
	select {
	case res := <-reply:
		if res.Err != nil {
			respondDecisionError(w, res.Err)
			return nil, false
		}
		return res.Emergency, true
	case <-r.Context().Done():
		return nil, false
	case <-time.After(replyTimeout):
		http.Error(w, "decision timed out", http.StatusGatewayTimeout)
		return nil, false
	}
}

func respondSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, application.ErrQueueFull) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func respondDecisionError(w http.ResponseWriter, err error) {
	var verr *dispatch.ValidationError
	var terr *dispatch.TransitionError
	switch {
	case errors.Is(err, dispatch.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &verr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &terr), errors.Is(err, dispatch.ErrTerminalState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
