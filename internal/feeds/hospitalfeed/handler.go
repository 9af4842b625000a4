// Package hospitalfeed ingests capacity reports pushed by hospital bed
// management systems.
package hospitalfeed

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"ambulance-cloud/internal/dispatch/application"
	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/observability/metrics"
)

// IngestHandler turns capacity reports into engine events.
type IngestHandler struct {
	engine *application.Engine
	logger *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(engine *application.Engine, logger *log.Logger) (*IngestHandler, error) {
	if engine == nil {
		return nil, errors.New("hospital feed: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{engine: engine, logger: logger}, nil
}

// ServeHTTP ingests capacity reports.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.ResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("read_body")
		h.logger.Printf("hospital feed: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("invalid_json")
		h.logger.Printf("hospital feed: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	updates, err := req.toEvents()
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("invalid_payload")
		h.logger.Printf("hospital feed: invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, update := range updates {
		if err := h.engine.Submit(update); err != nil {
			h.logger.Printf("hospital feed: submit %s: %v", update.HospitalID, err)
			continue
		}
		accepted++
	}
	if accepted == 0 {
		result = metrics.ResultError
		metrics.IncIngestError("queue_full")
		http.Error(w, "queue full", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{"accepted": accepted}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type ingestRequest struct {
	HospitalID    string         `json:"hospital_id,omitempty"`
	BedsAvailable int            `json:"beds_available,omitempty"`
	ERLoad        float64        `json:"er_load,omitempty"`
	TS            int64          `json:"ts,omitempty"`
	Reports       []statusReport `json:"reports,omitempty"`
}

type statusReport struct {
	HospitalID    string  `json:"hospital_id"`
	BedsAvailable int     `json:"beds_available"`
	ERLoad        float64 `json:"er_load"`
	TS            int64   `json:"ts,omitempty"`
}

func (r ingestRequest) toEvents() ([]events.HospitalStatusUpdate, error) {
	reports := r.Reports
	if len(reports) == 0 && r.HospitalID != "" {
		reports = []statusReport{{HospitalID: r.HospitalID, BedsAvailable: r.BedsAvailable, ERLoad: r.ERLoad, TS: r.TS}}
	}
	if len(reports) == 0 {
		return nil, errors.New("no capacity reports")
	}

	updates := make([]events.HospitalStatusUpdate, 0, len(reports))
	for _, report := range reports {
		if report.HospitalID == "" {
			return nil, errors.New("missing hospital_id")
		}
		if report.BedsAvailable < 0 {
			return nil, errors.New("negative beds_available")
		}
		if report.ERLoad < 0 || report.ERLoad > 1 {
			return nil, errors.New("er_load outside [0, 1]")
		}
		update := events.HospitalStatusUpdate{
			HospitalID:    report.HospitalID,
			BedsAvailable: report.BedsAvailable,
			ERLoad:        report.ERLoad,
		}
		if report.TS != 0 {
			at, err := parseTimestamp(report.TS)
			if err != nil {
				return nil, err
			}
			update.At = at
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
