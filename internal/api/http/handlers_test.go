package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ambulance-cloud/internal/dispatch/infrastructure/postgres"
	"ambulance-cloud/internal/geo"
)

type stubArchive struct {
	records []postgres.Record
	err     error
}

func (s *stubArchive) Get(_ context.Context, id string) (*postgres.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, record := range s.records {
		if record.ID == id {
			out := record
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubArchive) List(_ context.Context, from, to time.Time, limit int) ([]postgres.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []postgres.Record
	for _, record := range s.records {
		if record.ArchivedAt.Before(from) || !record.ArchivedAt.Before(to) {
			continue
		}
		out = append(out, record)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sampleRecords() []postgres.Record {
	base := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	return []postgres.Record{
		{
			ID: "E-1", Status: "closed", Condition: "cardiac", Risk: "critical",
			Location: geo.Point{Lat: 28.605, Lon: 77.205}, AmbulanceID: "A-1",
			HospitalID: "H-1", HospitalScore: 0.82,
			ReportedAt: base, ClosedAt: base.Add(40 * time.Minute), ArchivedAt: base.Add(41 * time.Minute),
		},
		{
			ID: "E-2", Status: "cancelled", Condition: "trauma",
			Location:   geo.Point{Lat: 28.61, Lon: 77.19},
			ReportedAt: base.Add(time.Hour), ClosedAt: base.Add(90 * time.Minute), ArchivedAt: base.Add(91 * time.Minute),
		},
		{
			ID: "E-3", Status: "closed", Condition: "stroke", Risk: "elevated",
			Location:   geo.Point{Lat: 28.58, Lon: 77.23},
			ReportedAt: base.Add(24 * time.Hour), ArchivedAt: base.Add(25 * time.Hour),
		},
	}
}

func TestHistoryGetByID(t *testing.T) {
	h := NewHistoryHandler(&stubArchive{records: sampleRecords()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/E-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var record postgres.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.ID != "E-1" || record.Risk != "critical" {
		t.Fatalf("unexpected record %+v", record)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history/E-404", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history/E-1/extra", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on deep path, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/history", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHistoryListWindow(t *testing.T) {
	h := NewHistoryHandler(&stubArchive{records: sampleRecords()})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/history?from=2026-02-03T08:00:00Z&to=2026-02-03T12:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var records []postgres.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records inside window, got %d", len(records))
	}

	req = httptest.NewRequest(http.MethodGet,
		"/api/v1/history?from=2026-02-03T08:00:00Z&to=2026-02-03T12:00:00Z&limit=1", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	records = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected limit applied, got %d records", len(records))
	}
}

func TestHistoryListValidation(t *testing.T) {
	h := NewHistoryHandler(&stubArchive{records: sampleRecords()})

	cases := []struct {
		name  string
		query string
	}{
		{"missing from", "?to=2026-02-03T12:00:00Z"},
		{"missing to", "?from=2026-02-03T08:00:00Z"},
		{"inverted window", "?from=2026-02-03T12:00:00Z&to=2026-02-03T08:00:00Z"},
		{"bad limit", "?from=2026-02-03T08:00:00Z&to=2026-02-03T12:00:00Z&limit=zero"},
		{"bad timestamp", "?from=yesterday&to=2026-02-03T12:00:00Z"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/history"+tc.query, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}

func TestHistoryListArchiveError(t *testing.T) {
	h := NewHistoryHandler(&stubArchive{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/history?from=2026-02-03T08:00:00Z&to=2026-02-03T12:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHistoryCSVExport(t *testing.T) {
	h := NewExportHistoryCSVHandler(&stubArchive{records: sampleRecords()})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/exports/history.csv?from=2026-02-03T08:00:00Z&to=2026-02-04T12:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("expected csv content type, got %q", ct)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][3] != "risk" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "E-1" || rows[1][3] != "critical" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][0] != "E-2" || rows[2][13] != "" {
		t.Fatalf("expected empty arrived_at for cancelled run, got %v", rows[2])
	}
}

func TestHistoryArchiveUnconfigured(t *testing.T) {
	h := NewHistoryHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/E-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
