package triage

// Pattern is a vitals-derived working hypothesis used to sharpen hospital
// requirements. It is decision support, never a diagnosis.
type Pattern string

const (
	PatternNone          Pattern = ""
	PatternCardiacArrest Pattern = "cardiac_arrest"
	PatternStroke        Pattern = "stroke"
	PatternRespiratory   Pattern = "respiratory_distress"
	PatternTraumaShock   Pattern = "trauma_shock"
)

// PredictCondition matches the snapshot against known acute patterns, most
// severe first. Rules only fire when the metrics they need were measured.
func PredictCondition(v VitalSigns) Pattern {
	hr := v.HeartRate
	sys := v.SystolicBP

	if (hr != 0 && (hr < 50 || hr > 150)) || (sys != 0 && sys < 80) {
		return PatternCardiacArrest
	}
	if sys > 160 && hr != 0 && hr < 80 {
		return PatternStroke
	}
	if (v.SpO2 != 0 && v.SpO2 < 92) || v.Respiration > 25 {
		return PatternRespiratory
	}
	if sys != 0 && sys < 90 && hr > 100 {
		return PatternTraumaShock
	}
	return PatternNone
}

// Condition maps a pattern to the emergency condition it suggests.
func (p Pattern) Condition() Condition {
	switch p {
	case PatternCardiacArrest:
		return ConditionCardiac
	case PatternStroke:
		return ConditionStroke
	case PatternRespiratory:
		return ConditionOther
	case PatternTraumaShock:
		return ConditionTrauma
	default:
		return ConditionOther
	}
}

// TrendDirection describes how one metric moved over a history window.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendSteady  TrendDirection = "steady"
)

// Trend compares the first and last measured value per metric across the
// history, oldest first. Metrics never measured are omitted.
func Trend(history []VitalSigns) map[string]TrendDirection {
	if len(history) < 2 {
		return nil
	}

	trends := make(map[string]TrendDirection)
	metrics := []struct {
		name string
		get  func(VitalSigns) float64
	}{
		{"heart_rate", func(v VitalSigns) float64 { return v.HeartRate }},
		{"systolic_bp", func(v VitalSigns) float64 { return v.SystolicBP }},
		{"diastolic_bp", func(v VitalSigns) float64 { return v.DiastolicBP }},
		{"spo2", func(v VitalSigns) float64 { return v.SpO2 }},
		{"respiration_rate", func(v VitalSigns) float64 { return v.Respiration }},
		{"temperature_c", func(v VitalSigns) float64 { return v.Temperature }},
	}

	for _, m := range metrics {
		var first, last float64
		seen := 0
		for _, snap := range history {
			value := m.get(snap)
			if value == 0 {
				continue
			}
			if seen == 0 {
				first = value
			}
			last = value
			seen++
		}
		if seen < 2 {
			continue
		}
		switch {
		case last > first:
			trends[m.name] = TrendRising
		case last < first:
			trends[m.name] = TrendFalling
		default:
			trends[m.name] = TrendSteady
		}
	}
	return trends
}
