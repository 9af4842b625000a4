package handoff

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/scoring"
	"ambulance-cloud/internal/triage"
)

func sampleView() events.EmergencyView {
	reported := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	return events.EmergencyView{
		ID:        "E-1",
		Status:    "en_route",
		Location:  geo.Point{Lat: 28.605, Lon: 77.205},
		Condition: triage.ConditionCardiac,
		Risk:      triage.RiskCritical,
		Flags:     []triage.Flag{triage.FlagTachycardia, triage.FlagHypoxia},
		Predicted: triage.PatternCardiacArrest,
		Vitals: []triage.VitalSigns{
			{HeartRate: 110, SystolicBP: 140, DiastolicBP: 90, SpO2: 95, Respiration: 18, Temperature: 37, Consciousness: triage.ConsciousAlert, TakenAt: reported},
			{HeartRate: 128, SystolicBP: 132, DiastolicBP: 88, SpO2: 90, Respiration: 22, Temperature: 37.8, Consciousness: triage.ConsciousVerbal, TakenAt: reported.Add(4 * time.Minute)},
		},
		AmbulanceID:   "A-1",
		HospitalID:    "H-1",
		HospitalName:  "Central Hospital",
		HospitalScore: 0.82,
		Candidates: []scoring.Score{
			{HospitalID: "H-1", Name: "Central Hospital", Total: 0.82, ETA: 9 * time.Minute, Reasons: []string{"eta 9.0 min", "beds 15"}},
			{HospitalID: "H-2", Name: "Riverside Clinic", ETA: 14 * time.Minute, Reasons: []string{"no_beds"}},
		},
		Route:      &routing.Route{DistanceMeters: 5200, ETA: 9 * time.Minute},
		ReportedAt: reported,
		AssignedAt: reported.Add(30 * time.Second),
		EnRouteAt:  reported.Add(90 * time.Second),
	}
}

func TestBuildPDF(t *testing.T) {
	data, err := BuildPDF(sampleView())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if len(data) < 1000 {
		t.Fatalf("expected non-trivial pdf, got %d bytes", len(data))
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected pdf magic, got %q", data[:8])
	}
}

func TestBuildPDFMinimalView(t *testing.T) {
	view := events.EmergencyView{
		ID:         "E-2",
		Status:     "reported",
		Location:   geo.Point{Lat: 28.6, Lon: 77.2},
		Condition:  triage.ConditionOther,
		ReportedAt: time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC),
	}
	data, err := BuildPDF(view)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected pdf magic, got %q", data[:8])
	}
}

func TestBuildXLSX(t *testing.T) {
	data, err := BuildXLSX(sampleView())
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	cell := func(sheet, ref string) string {
		t.Helper()
		value, err := f.GetCellValue(sheet, ref)
		if err != nil {
			t.Fatalf("cell %s!%s: %v", sheet, ref, err)
		}
		return value
	}

	if got := cell("summary", "B3"); got != "E-1" {
		t.Fatalf("expected emergency id E-1, got %q", got)
	}
	if got := cell("summary", "B6"); got != "critical" {
		t.Fatalf("expected risk critical, got %q", got)
	}
	if got := cell("summary", "B10"); got != "Central Hospital (H-1)" {
		t.Fatalf("expected destination label, got %q", got)
	}
	trends := cell("summary", "B17")
	if !strings.Contains(trends, "heart_rate rising") || !strings.Contains(trends, "spo2 falling") {
		t.Fatalf("expected trend summary, got %q", trends)
	}

	if got := cell("vitals", "B2"); got != "110" {
		t.Fatalf("expected first heart rate 110, got %q", got)
	}
	if got := cell("vitals", "B3"); got != "128" {
		t.Fatalf("expected second heart rate 128, got %q", got)
	}
	if got := cell("vitals", "H3"); got != "verbal" {
		t.Fatalf("expected consciousness verbal, got %q", got)
	}

	if got := cell("candidates", "A2"); got != "Central Hospital" {
		t.Fatalf("expected first candidate name, got %q", got)
	}
	if got := cell("candidates", "H3"); got != "no_beds" {
		t.Fatalf("expected exclusion note, got %q", got)
	}
}

func TestFormatTrendsStableOrder(t *testing.T) {
	history := sampleView().Vitals
	first := formatTrends(history)
	for i := 0; i < 5; i++ {
		if again := formatTrends(history); again != first {
			t.Fatalf("expected stable trend order, got %q then %q", first, again)
		}
	}
	if !strings.HasPrefix(first, "diastolic_bp falling") {
		t.Fatalf("expected sorted metrics, got %q", first)
	}
}
