// Package apihttp serves dashboard history queries over the emergency
// archive. Live state is read from the engine snapshot endpoints; these
// handlers cover what already left it.
package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ambulance-cloud/internal/dispatch/infrastructure/postgres"
)

const timeLayout = time.RFC3339

// Archive reads terminal emergencies back from storage.
type Archive interface {
	Get(ctx context.Context, id string) (*postgres.Record, error)
	List(ctx context.Context, from, to time.Time, limit int) ([]postgres.Record, error)
}

// HistoryHandler serves archived emergency queries.
type HistoryHandler struct {
	archive Archive
}

// NewHistoryHandler constructs a HistoryHandler.
func NewHistoryHandler(archive Archive) *HistoryHandler {
	return &HistoryHandler{archive: archive}
}

// ServeHTTP handles GET /api/v1/history and /api/v1/history/{id}.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.archive == nil {
		http.Error(w, "archive not configured", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/history")
	rest = strings.TrimPrefix(rest, "/")
	switch {
	case rest == "":
		h.handleList(w, r)
	case strings.Contains(rest, "/"):
		w.WriteHeader(http.StatusNotFound)
	default:
		h.handleGet(w, r, rest)
	}
}

func (h *HistoryHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.archive.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "query archive error", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "emergency not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}

func (h *HistoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.archive.List(r.Context(), from, to, limit)
	if err != nil {
		http.Error(w, "query archive error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

// ExportHistoryCSVHandler serves archived emergency CSV exports.
type ExportHistoryCSVHandler struct {
	archive Archive
}

// NewExportHistoryCSVHandler constructs a ExportHistoryCSVHandler.
func NewExportHistoryCSVHandler(archive Archive) *ExportHistoryCSVHandler {
	return &ExportHistoryCSVHandler{archive: archive}
}

// ServeHTTP handles GET /api/v1/exports/history.csv.
func (h *ExportHistoryCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.archive == nil {
		http.Error(w, "archive not configured", http.StatusServiceUnavailable)
		return
	}

	from, to, limit, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.archive.List(r.Context(), from, to, limit)
	if err != nil {
		http.Error(w, "query archive error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"id",
		"status",
		"condition",
		"risk",
		"lat",
		"lon",
		"ambulance_id",
		"hospital_id",
		"hospital_score",
		"needs_review",
		"reported_at",
		"assigned_at",
		"en_route_at",
		"arrived_at",
		"closed_at",
		"archived_at",
	})
	for _, record := range records {
		_ = writer.Write([]string{
			record.ID,
			record.Status,
			record.Condition,
			record.Risk,
			formatFloat(record.Location.Lat),
			formatFloat(record.Location.Lon),
			record.AmbulanceID,
			record.HospitalID,
			formatFloat(record.HospitalScore),
			strconv.FormatBool(record.NeedsReview),
			formatTime(record.ReportedAt),
			formatTime(record.AssignedAt),
			formatTime(record.EnRouteAt),
			formatTime(record.ArrivedAt),
			formatTime(record.ClosedAt),
			formatTime(record.ArchivedAt),
		})
	}
	writer.Flush()
}

func parseWindow(r *http.Request) (time.Time, time.Time, int, error) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, 0, errors.New("to must be after from")
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return time.Time{}, time.Time{}, 0, errors.New("limit must be a positive integer")
		}
	}
	return from, to, limit, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
