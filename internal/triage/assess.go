package triage

// RiskLevel is the overall patient risk derived from one vitals snapshot.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskElevated RiskLevel = "elevated"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels from normal (0) to critical (2).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 2
	case RiskElevated:
		return 1
	default:
		return 0
	}
}

// Flag marks a specific abnormality found in a snapshot.
type Flag string

const (
	FlagTachycardia  Flag = "tachycardia"
	FlagBradycardia  Flag = "bradycardia"
	FlagHypertension Flag = "hypertension"
	FlagHypotension  Flag = "hypotension"
	FlagHypoxia      Flag = "hypoxia"
	FlagTachypnea    Flag = "tachypnea"
	FlagBradypnea    Flag = "bradypnea"
	FlagHyperthermia Flag = "hyperthermia"
	FlagHypothermia  Flag = "hypothermia"
	FlagUnresponsive Flag = "unresponsive"
)

// Bounds delimits one metric: [Low, High] is the normal band, values beyond
// CriticalLow/CriticalHigh are critical on their own.
type Bounds struct {
	Low          float64 `yaml:"low" json:"low"`
	High         float64 `yaml:"high" json:"high"`
	CriticalLow  float64 `yaml:"critical_low" json:"critical_low"`
	CriticalHigh float64 `yaml:"critical_high" json:"critical_high"`
}

type metricLevel int

const (
	metricNormal metricLevel = iota
	metricAbnormal
	metricCritical
)

func (b Bounds) classify(value float64) metricLevel {
	if value < b.CriticalLow || value > b.CriticalHigh {
		return metricCritical
	}
	if value < b.Low || value > b.High {
		return metricAbnormal
	}
	return metricNormal
}

// Thresholds is the immutable assessment configuration: per-metric bounds plus
// the consciousness floor below which a patient is critical regardless of
// other readings.
type Thresholds struct {
	HeartRate          Bounds        `yaml:"heart_rate" json:"heart_rate"`
	Systolic           Bounds        `yaml:"systolic_bp" json:"systolic_bp"`
	Diastolic          Bounds        `yaml:"diastolic_bp" json:"diastolic_bp"`
	SpO2               Bounds        `yaml:"spo2" json:"spo2"`
	Respiration        Bounds        `yaml:"respiration_rate" json:"respiration_rate"`
	Temperature        Bounds        `yaml:"temperature_c" json:"temperature_c"`
	ConsciousnessFloor Consciousness `yaml:"consciousness_floor" json:"consciousness_floor"`
}

// DefaultThresholds returns the standard adult triage table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeartRate:          Bounds{Low: 60, High: 100, CriticalLow: 50, CriticalHigh: 120},
		Systolic:           Bounds{Low: 90, High: 140, CriticalLow: 80, CriticalHigh: 180},
		Diastolic:          Bounds{Low: 60, High: 90, CriticalLow: 50, CriticalHigh: 110},
		SpO2:               Bounds{Low: 95, High: 100, CriticalLow: 90, CriticalHigh: 100},
		Respiration:        Bounds{Low: 12, High: 20, CriticalLow: 8, CriticalHigh: 30},
		Temperature:        Bounds{Low: 36.1, High: 37.2, CriticalLow: 35.0, CriticalHigh: 39.0},
		ConsciousnessFloor: ConsciousVerbal,
	}
}

// MetricStatus is the per-metric outcome included in an assessment.
type MetricStatus struct {
	Value    float64 `json:"value"`
	Level    string  `json:"level"`
	Critical bool    `json:"critical"`
}

// Assessment is the outcome of assessing one vitals snapshot.
type Assessment struct {
	Risk      RiskLevel               `json:"risk"`
	Flags     []Flag                  `json:"flags,omitempty"`
	Metrics   map[string]MetricStatus `json:"metrics,omitempty"`
	Predicted Pattern                 `json:"predicted,omitempty"`
}

// Escalated reports whether this assessment is strictly more severe than prev.
// A nil prev counts as normal.
func (a Assessment) Escalated(prev *Assessment) bool {
	if prev == nil {
		return a.Risk.Rank() > RiskNormal.Rank()
	}
	return a.Risk.Rank() > prev.Risk.Rank()
}

// Assess classifies one snapshot against the thresholds. It is pure and
// deterministic: unmeasured (zero) metrics are skipped, two or more metrics
// outside the normal band raise the risk to elevated, and a single metric
// beyond a critical bound, or consciousness below the configured floor, makes
// the snapshot critical.
func Assess(v VitalSigns, t Thresholds) Assessment {
	out := Assessment{
		Risk:    RiskNormal,
		Metrics: make(map[string]MetricStatus, 7),
	}

	abnormal := 0
	critical := 0

	check := func(name string, value float64, b Bounds, lowFlag, highFlag Flag) {
		if value == 0 {
			return
		}
		level := b.classify(value)
		status := MetricStatus{Value: value, Level: "normal"}
		switch level {
		case metricCritical:
			status.Level = "critical"
			status.Critical = true
			critical++
			abnormal++
		case metricAbnormal:
			status.Level = "abnormal"
			abnormal++
		}
		if level != metricNormal {
			if value < b.Low && lowFlag != "" {
				out.Flags = append(out.Flags, lowFlag)
			}
			if value > b.High && highFlag != "" {
				out.Flags = append(out.Flags, highFlag)
			}
		}
		out.Metrics[name] = status
	}

	check("heart_rate", v.HeartRate, t.HeartRate, FlagBradycardia, FlagTachycardia)
	check("systolic_bp", v.SystolicBP, t.Systolic, FlagHypotension, FlagHypertension)
	check("diastolic_bp", v.DiastolicBP, t.Diastolic, "", "")
	check("spo2", v.SpO2, t.SpO2, FlagHypoxia, "")
	check("respiration_rate", v.Respiration, t.Respiration, FlagBradypnea, FlagTachypnea)
	check("temperature_c", v.Temperature, t.Temperature, FlagHypothermia, FlagHyperthermia)

	if v.Consciousness != "" {
		status := MetricStatus{Level: "normal"}
		if v.Consciousness.Rank() < t.ConsciousnessFloor.Rank() {
			status.Level = "critical"
			status.Critical = true
			critical++
			out.Flags = append(out.Flags, FlagUnresponsive)
		}
		out.Metrics["consciousness"] = status
	}

	switch {
	case critical > 0:
		out.Risk = RiskCritical
	case abnormal >= 2:
		out.Risk = RiskElevated
	}

	out.Predicted = PredictCondition(v)
	return out
}
