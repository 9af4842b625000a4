package triage

import (
	"testing"
	"time"
)

func TestAssessNormalVitals(t *testing.T) {
	v := VitalSigns{
		HeartRate:     72,
		SystolicBP:    118,
		DiastolicBP:   76,
		SpO2:          98,
		Respiration:   15,
		Temperature:   36.6,
		Consciousness: ConsciousAlert,
		TakenAt:       time.Now(),
	}
	got := Assess(v, DefaultThresholds())
	if got.Risk != RiskNormal {
		t.Fatalf("expected normal risk, got %s", got.Risk)
	}
	if len(got.Flags) != 0 {
		t.Fatalf("expected no flags, got %v", got.Flags)
	}
}

func TestAssessSingleAbnormalStaysNormal(t *testing.T) {
	v := VitalSigns{HeartRate: 105, SpO2: 98}
	got := Assess(v, DefaultThresholds())
	if got.Risk != RiskNormal {
		t.Fatalf("expected normal risk for one abnormal metric, got %s", got.Risk)
	}
	if !hasFlag(got.Flags, FlagTachycardia) {
		t.Fatalf("expected tachycardia flag, got %v", got.Flags)
	}
}

func TestAssessTwoAbnormalMetricsElevate(t *testing.T) {
	v := VitalSigns{HeartRate: 110, Respiration: 24}
	got := Assess(v, DefaultThresholds())
	if got.Risk != RiskElevated {
		t.Fatalf("expected elevated risk, got %s", got.Risk)
	}
}

func TestAssessCriticalSpO2(t *testing.T) {
	v := VitalSigns{HeartRate: 80, SpO2: 85}
	got := Assess(v, DefaultThresholds())
	if got.Risk != RiskCritical {
		t.Fatalf("expected critical risk, got %s", got.Risk)
	}
	if !hasFlag(got.Flags, FlagHypoxia) {
		t.Fatalf("expected hypoxia flag, got %v", got.Flags)
	}
}

func TestAssessUnresponsiveIsCritical(t *testing.T) {
	v := VitalSigns{HeartRate: 75, Consciousness: ConsciousPain}
	got := Assess(v, DefaultThresholds())
	if got.Risk != RiskCritical {
		t.Fatalf("expected critical risk below consciousness floor, got %s", got.Risk)
	}
	if !hasFlag(got.Flags, FlagUnresponsive) {
		t.Fatalf("expected unresponsive flag, got %v", got.Flags)
	}
}

func TestAssessSkipsUnmeasuredMetrics(t *testing.T) {
	got := Assess(VitalSigns{SpO2: 97}, DefaultThresholds())
	if got.Risk != RiskNormal {
		t.Fatalf("expected normal risk for sparse snapshot, got %s", got.Risk)
	}
	if _, ok := got.Metrics["heart_rate"]; ok {
		t.Fatal("expected unmeasured heart rate to be skipped")
	}
}

// Risk must be monotone: making any metric worse never lowers the level.
func TestAssessMonotoneInSeverity(t *testing.T) {
	thresholds := DefaultThresholds()
	base := VitalSigns{
		HeartRate:   80,
		SystolicBP:  120,
		DiastolicBP: 78,
		SpO2:        97,
		Respiration: 16,
		Temperature: 36.8,
	}

	worsen := []func(VitalSigns) VitalSigns{
		func(v VitalSigns) VitalSigns { v.HeartRate = 112; return v },
		func(v VitalSigns) VitalSigns { v.SpO2 = 93; return v },
		func(v VitalSigns) VitalSigns { v.SpO2 = 88; return v },
		func(v VitalSigns) VitalSigns { v.SystolicBP = 75; return v },
		func(v VitalSigns) VitalSigns { v.Consciousness = ConsciousUnresponsive; return v },
	}

	prev := Assess(base, thresholds).Risk
	v := base
	for i, step := range worsen {
		v = step(v)
		risk := Assess(v, thresholds).Risk
		if risk.Rank() < prev.Rank() {
			t.Fatalf("step %d: risk dropped from %s to %s", i, prev, risk)
		}
		prev = risk
	}
}

func TestAssessDeterministic(t *testing.T) {
	v := VitalSigns{HeartRate: 155, SystolicBP: 75, SpO2: 88, Respiration: 26}
	a := Assess(v, DefaultThresholds())
	b := Assess(v, DefaultThresholds())
	if a.Risk != b.Risk || len(a.Flags) != len(b.Flags) {
		t.Fatalf("expected identical assessments, got %+v vs %+v", a, b)
	}
}

func TestPredictConditionPatterns(t *testing.T) {
	cases := []struct {
		name string
		v    VitalSigns
		want Pattern
	}{
		{"cardiac arrest low hr", VitalSigns{HeartRate: 45, SystolicBP: 110}, PatternCardiacArrest},
		{"cardiac arrest crashing bp", VitalSigns{HeartRate: 120, SystolicBP: 75}, PatternCardiacArrest},
		{"stroke", VitalSigns{HeartRate: 65, SystolicBP: 185}, PatternStroke},
		{"respiratory", VitalSigns{HeartRate: 90, SystolicBP: 120, SpO2: 90}, PatternRespiratory},
		{"trauma shock", VitalSigns{HeartRate: 115, SystolicBP: 85, SpO2: 95}, PatternTraumaShock},
		{"none", VitalSigns{HeartRate: 72, SystolicBP: 120, SpO2: 98}, PatternNone},
	}
	for _, tc := range cases {
		if got := PredictCondition(tc.v); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestTrendDirections(t *testing.T) {
	history := []VitalSigns{
		{HeartRate: 110, SystolicBP: 95, SpO2: 94},
		{HeartRate: 115, SystolicBP: 90, SpO2: 92},
		{HeartRate: 120, SystolicBP: 85, SpO2: 90},
	}
	trends := Trend(history)
	if trends["heart_rate"] != TrendRising {
		t.Fatalf("expected rising heart rate, got %s", trends["heart_rate"])
	}
	if trends["systolic_bp"] != TrendFalling {
		t.Fatalf("expected falling systolic, got %s", trends["systolic_bp"])
	}
	if trends["spo2"] != TrendFalling {
		t.Fatalf("expected falling spo2, got %s", trends["spo2"])
	}
}

func TestTrendInsufficientHistory(t *testing.T) {
	if got := Trend([]VitalSigns{{HeartRate: 80}}); got != nil {
		t.Fatalf("expected nil trend for single snapshot, got %v", got)
	}
}

func TestValidateRejectsImplausible(t *testing.T) {
	if err := (VitalSigns{HeartRate: 500}).Validate(); err == nil {
		t.Fatal("expected error for implausible heart rate")
	}
	if err := (VitalSigns{}).Validate(); err != ErrNoMetrics {
		t.Fatalf("expected ErrNoMetrics for empty snapshot, got %v", err)
	}
	if err := (VitalSigns{HeartRate: 80, SpO2: 97}).Validate(); err != nil {
		t.Fatalf("expected valid snapshot, got %v", err)
	}
}

func hasFlag(flags []Flag, want Flag) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
