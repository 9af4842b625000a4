package integration_test

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	apihttp "ambulance-cloud/internal/api/http"
	dispatch "ambulance-cloud/internal/dispatch/domain"
	archiverepo "ambulance-cloud/internal/dispatch/infrastructure/postgres"
	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/triage"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestHistoryAPI_JSONAndCSV(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := archiverepo.NewArchiveRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM emergency_archive")

	start := time.Date(2026, time.April, 5, 9, 0, 0, 0, time.UTC)

	em, err := dispatch.NewEmergency("E-HIST-1", geo.Point{Lat: 28.6139, Lon: 77.2090}, triage.ConditionCardiac, start)
	if err != nil {
		t.Fatalf("new emergency: %v", err)
	}
	vitals := triage.VitalSigns{HeartRate: 124, SystolicBP: 96, SpO2: 92, TakenAt: start}
	em.RecordVitals(vitals, 0)
	em.Assessment = triage.Assess(vitals, triage.DefaultThresholds())
	if err := em.Assign("A-7", "H-CARD", 0.88, start.Add(30*time.Second)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := em.MarkEnRoute(start.Add(time.Minute)); err != nil {
		t.Fatalf("mark en route: %v", err)
	}
	if err := em.MarkArrived(start.Add(11 * time.Minute)); err != nil {
		t.Fatalf("mark arrived: %v", err)
	}
	if err := em.Close(start.Add(24 * time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := repo.Archive(ctx, em); err != nil {
		t.Fatalf("archive: %v", err)
	}

	em2, err := dispatch.NewEmergency("E-HIST-2", geo.Point{Lat: 28.70, Lon: 77.10}, triage.ConditionOther, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("new emergency: %v", err)
	}
	if err := em2.Cancel(start.Add(time.Hour + time.Minute)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := repo.Archive(ctx, em2); err != nil {
		t.Fatalf("archive cancelled: %v", err)
	}

	historyHandler := apihttp.NewHistoryHandler(repo)
	mux := http.NewServeMux()
	mux.Handle("/api/v1/history", historyHandler)
	mux.Handle("/api/v1/history/", historyHandler)
	mux.Handle("/api/v1/exports/history.csv", apihttp.NewExportHistoryCSVHandler(repo))

	server := httptest.NewServer(mux)
	defer server.Close()

	from := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	to := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	listResp, err := http.Get(server.URL + "/api/v1/history?from=" + from + "&to=" + to)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("history status: %d", listResp.StatusCode)
	}
	var records []archiverepo.Record
	if err := json.NewDecoder(listResp.Body).Decode(&records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 archived emergencies, got %d", len(records))
	}
	if records[0].ID != "E-HIST-2" {
		t.Fatalf("expected newest first, got %s", records[0].ID)
	}

	getResp, err := http.Get(server.URL + "/api/v1/history/E-HIST-1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get by id status: %d", getResp.StatusCode)
	}
	var rec archiverepo.Record
	if err := json.NewDecoder(getResp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Status != string(dispatch.StatusClosed) {
		t.Fatalf("expected status closed, got %s", rec.Status)
	}
	if rec.AmbulanceID != "A-7" || rec.HospitalID != "H-CARD" {
		t.Fatalf("unexpected assignment %s / %s", rec.AmbulanceID, rec.HospitalID)
	}
	if rec.Risk != string(triage.RiskCritical) {
		t.Fatalf("expected critical risk, got %q", rec.Risk)
	}

	missingResp, err := http.Get(server.URL + "/api/v1/history/E-HIST-MISSING")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	defer missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", missingResp.StatusCode)
	}

	csvResp, err := http.Get(server.URL + "/api/v1/exports/history.csv?from=" + from + "&to=" + to)
	if err != nil {
		t.Fatalf("get csv: %v", err)
	}
	defer csvResp.Body.Close()
	if csvResp.StatusCode != http.StatusOK {
		t.Fatalf("csv status: %d", csvResp.StatusCode)
	}
	rows, err := csv.NewReader(csvResp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 csv rows (header + 2), got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][1] != "status" {
		t.Fatalf("csv header mismatch: %v", rows[0])
	}
	if rows[1][0] != "E-HIST-2" {
		t.Fatalf("expected newest first in csv, got %v", rows[1][0])
	}
	if rows[2][0] != "E-HIST-1" || rows[2][1] != string(dispatch.StatusClosed) {
		t.Fatalf("csv row mismatch: %v", rows[2])
	}
}
