// Package handoff renders receiving-hospital handoff reports for an
// emergency: patient condition and risk, the vitals trail collected en
// route, and how the destination was chosen.
package handoff

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/triage"
)

// BuildPDF renders a one-page handoff report for an emergency.
func BuildPDF(view events.EmergencyView) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Patient Handoff %s", view.ID))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", view.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Condition: %s", view.Condition))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Risk: %s", orDash(string(view.Risk))))
	pdf.Ln(5)
	if view.Predicted != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Suspected: %s", view.Predicted))
		pdf.Ln(5)
	}
	if len(view.Flags) > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Flags: %s", joinFlags(view.Flags)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Scene: %.5f, %.5f", view.Location.Lat, view.Location.Lon))
	pdf.Ln(5)
	if view.AmbulanceID != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Unit: %s", view.AmbulanceID))
		pdf.Ln(5)
	}
	if hospital := hospitalLabel(view); hospital != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Destination: %s", hospital))
		pdf.Ln(5)
	}
	if view.Route != nil {
		pdf.Cell(0, 6, fmt.Sprintf("ETA: %.1f min over %.1f km", view.Route.ETAMinutes(), view.Route.DistanceMeters/1000))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Reported: %s", view.ReportedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if !view.AssignedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Assigned: %s", view.AssignedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if !view.EnRouteAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("En route: %s", view.EnRouteAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if !view.ArrivedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Arrived: %s", view.ArrivedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}

	if len(view.Vitals) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(32, 6, "Time", "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, "HR", "1", 0, "C", false, 0, "")
		pdf.CellFormat(26, 6, "BP", "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, "SpO2", "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, "Resp", "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, "Temp", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "AVPU", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, v := range view.Vitals {
			pdf.CellFormat(32, 6, v.TakenAt.Format("15:04:05"), "1", 0, "C", false, 0, "")
			pdf.CellFormat(20, 6, metric(v.HeartRate, 0), "1", 0, "R", false, 0, "")
			pdf.CellFormat(26, 6, bloodPressure(v), "1", 0, "R", false, 0, "")
			pdf.CellFormat(20, 6, metric(v.SpO2, 0), "1", 0, "R", false, 0, "")
			pdf.CellFormat(20, 6, metric(v.Respiration, 0), "1", 0, "R", false, 0, "")
			pdf.CellFormat(22, 6, metric(v.Temperature, 1), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 6, orDash(string(v.Consciousness)), "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
		if trends := formatTrends(view.Vitals); trends != "" {
			pdf.Ln(2)
			pdf.Cell(0, 6, fmt.Sprintf("Trends: %s", trends))
			pdf.Ln(5)
		}
	}

	if len(view.Candidates) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(52, 6, "Hospital", "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, "Score", "1", 0, "C", false, 0, "")
		pdf.CellFormat(24, 6, "ETA (min)", "1", 0, "C", false, 0, "")
		pdf.CellFormat(74, 6, "Notes", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, c := range view.Candidates {
			name := c.Name
			if name == "" {
				name = c.HospitalID
			}
			pdf.CellFormat(52, 6, name, "1", 0, "L", false, 0, "")
			pdf.CellFormat(20, 6, fmt.Sprintf("%.3f", c.Total), "1", 0, "R", false, 0, "")
			pdf.CellFormat(24, 6, fmt.Sprintf("%.1f", c.ETA.Minutes()), "1", 0, "R", false, 0, "")
			pdf.CellFormat(74, 6, strings.Join(c.Reasons, "; "), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders the handoff report as a workbook with summary,
// vitals and candidates sheets.
func BuildXLSX(view events.EmergencyView) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	vitalsSheet := "vitals"
	candidatesSheet := "candidates"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(vitalsSheet)
	f.NewSheet(candidatesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Patient Handoff")
	_ = f.SetCellValue(summarySheet, "A3", "Emergency")
	_ = f.SetCellValue(summarySheet, "B3", view.ID)
	_ = f.SetCellValue(summarySheet, "A4", "Status")
	_ = f.SetCellValue(summarySheet, "B4", view.Status)
	_ = f.SetCellValue(summarySheet, "A5", "Condition")
	_ = f.SetCellValue(summarySheet, "B5", string(view.Condition))
	_ = f.SetCellValue(summarySheet, "A6", "Risk")
	_ = f.SetCellValue(summarySheet, "B6", orDash(string(view.Risk)))
	_ = f.SetCellValue(summarySheet, "A7", "Suspected")
	_ = f.SetCellValue(summarySheet, "B7", orDash(string(view.Predicted)))
	_ = f.SetCellValue(summarySheet, "A8", "Flags")
	_ = f.SetCellValue(summarySheet, "B8", orDash(joinFlags(view.Flags)))
	_ = f.SetCellValue(summarySheet, "A9", "Unit")
	_ = f.SetCellValue(summarySheet, "B9", orDash(view.AmbulanceID))
	_ = f.SetCellValue(summarySheet, "A10", "Destination")
	_ = f.SetCellValue(summarySheet, "B10", orDash(hospitalLabel(view)))
	if view.Route != nil {
		_ = f.SetCellValue(summarySheet, "A11", "ETA (min)")
		_ = f.SetCellValue(summarySheet, "B11", view.Route.ETAMinutes())
		_ = f.SetCellValue(summarySheet, "A12", "Distance (km)")
		_ = f.SetCellValue(summarySheet, "B12", view.Route.DistanceMeters/1000)
	}
	_ = f.SetCellValue(summarySheet, "A13", "Reported")
	_ = f.SetCellValue(summarySheet, "B13", view.ReportedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A14", "Assigned")
	_ = f.SetCellValue(summarySheet, "B14", timeOrDash(view.AssignedAt))
	_ = f.SetCellValue(summarySheet, "A15", "En route")
	_ = f.SetCellValue(summarySheet, "B15", timeOrDash(view.EnRouteAt))
	_ = f.SetCellValue(summarySheet, "A16", "Arrived")
	_ = f.SetCellValue(summarySheet, "B16", timeOrDash(view.ArrivedAt))
	_ = f.SetCellValue(summarySheet, "A17", "Trends")
	_ = f.SetCellValue(summarySheet, "B17", orDash(formatTrends(view.Vitals)))

	_ = f.SetCellValue(vitalsSheet, "A1", "Time")
	_ = f.SetCellValue(vitalsSheet, "B1", "Heart Rate")
	_ = f.SetCellValue(vitalsSheet, "C1", "Systolic")
	_ = f.SetCellValue(vitalsSheet, "D1", "Diastolic")
	_ = f.SetCellValue(vitalsSheet, "E1", "SpO2")
	_ = f.SetCellValue(vitalsSheet, "F1", "Respiration")
	_ = f.SetCellValue(vitalsSheet, "G1", "Temperature")
	_ = f.SetCellValue(vitalsSheet, "H1", "Consciousness")
	for i, v := range view.Vitals {
		row := i + 2
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("A%d", row), v.TakenAt.Format(time.RFC3339))
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("B%d", row), v.HeartRate)
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("C%d", row), v.SystolicBP)
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("D%d", row), v.DiastolicBP)
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("E%d", row), v.SpO2)
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("F%d", row), v.Respiration)
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("G%d", row), v.Temperature)
		_ = f.SetCellValue(vitalsSheet, fmt.Sprintf("H%d", row), string(v.Consciousness))
	}

	_ = f.SetCellValue(candidatesSheet, "A1", "Hospital")
	_ = f.SetCellValue(candidatesSheet, "B1", "Hospital ID")
	_ = f.SetCellValue(candidatesSheet, "C1", "Score")
	_ = f.SetCellValue(candidatesSheet, "D1", "ETA (min)")
	_ = f.SetCellValue(candidatesSheet, "E1", "Beds")
	_ = f.SetCellValue(candidatesSheet, "F1", "Load")
	_ = f.SetCellValue(candidatesSheet, "G1", "Specialty")
	_ = f.SetCellValue(candidatesSheet, "H1", "Notes")
	for i, c := range view.Candidates {
		row := i + 2
		name := c.Name
		if name == "" {
			name = c.HospitalID
		}
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("A%d", row), name)
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("B%d", row), c.HospitalID)
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("C%d", row), c.Total)
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("D%d", row), c.ETA.Minutes())
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("E%d", row), c.BedScore)
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("F%d", row), c.LoadScore)
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("G%d", row), c.SpecialtyScore)
		_ = f.SetCellValue(candidatesSheet, fmt.Sprintf("H%d", row), strings.Join(c.Reasons, "; "))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hospitalLabel(view events.EmergencyView) string {
	if view.HospitalName != "" && view.HospitalID != "" {
		return fmt.Sprintf("%s (%s)", view.HospitalName, view.HospitalID)
	}
	if view.HospitalName != "" {
		return view.HospitalName
	}
	return view.HospitalID
}

// formatTrends flattens the per-metric trend map into one stable line.
func formatTrends(history []triage.VitalSigns) string {
	trends := triage.Trend(history)
	if len(trends) == 0 {
		return ""
	}
	names := make([]string, 0, len(trends))
	for name := range trends {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s", name, trends[name]))
	}
	return strings.Join(parts, ", ")
}

func joinFlags(flags []triage.Flag) string {
	parts := make([]string, len(flags))
	for i, flag := range flags {
		parts[i] = string(flag)
	}
	return strings.Join(parts, ", ")
}

// metric renders a measurement, dash when it was never taken.
func metric(value float64, decimals int) string {
	if value == 0 {
		return "-"
	}
	return fmt.Sprintf("%.*f", decimals, value)
}

func bloodPressure(v triage.VitalSigns) string {
	if v.SystolicBP == 0 && v.DiastolicBP == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f/%.0f", v.SystolicBP, v.DiastolicBP)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func timeOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
