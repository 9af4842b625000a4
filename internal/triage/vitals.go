package triage

import (
	"errors"
	"fmt"
	"time"
)

// Condition is the coarse emergency classification used for hospital
// requirement derivation.
type Condition string

const (
	ConditionCardiac Condition = "cardiac"
	ConditionTrauma  Condition = "trauma"
	ConditionStroke  Condition = "stroke"
	ConditionOther   Condition = "other"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionCardiac, ConditionTrauma, ConditionStroke, ConditionOther:
		return true
	}
	return false
}

// Consciousness is the AVPU scale reported by crews.
type Consciousness string

const (
	ConsciousAlert        Consciousness = "alert"
	ConsciousVerbal       Consciousness = "verbal"
	ConsciousPain         Consciousness = "pain"
	ConsciousUnresponsive Consciousness = "unresponsive"
)

// Rank orders the scale from worst (0, unresponsive) to best (3, alert).
// Unknown values rank as alert so an absent reading never escalates risk.
func (c Consciousness) Rank() int {
	switch c {
	case ConsciousUnresponsive:
		return 0
	case ConsciousPain:
		return 1
	case ConsciousVerbal:
		return 2
	default:
		return 3
	}
}

func (c Consciousness) Valid() bool {
	switch c {
	case ConsciousAlert, ConsciousVerbal, ConsciousPain, ConsciousUnresponsive, "":
		return true
	}
	return false
}

// VitalSigns is one immutable monitor snapshot. A zero-valued metric means
// "not measured" and is skipped by assessment; partial snapshots are normal
// for console-entered vitals.
type VitalSigns struct {
	HeartRate     float64       `json:"heart_rate,omitempty"`
	SystolicBP    float64       `json:"systolic_bp,omitempty"`
	DiastolicBP   float64       `json:"diastolic_bp,omitempty"`
	SpO2          float64       `json:"spo2,omitempty"`
	Respiration   float64       `json:"respiration_rate,omitempty"`
	Temperature   float64       `json:"temperature_c,omitempty"`
	Consciousness Consciousness `json:"consciousness,omitempty"`
	TakenAt       time.Time     `json:"taken_at"`
}

var ErrNoMetrics = errors.New("triage: snapshot carries no measured metric")

// Validate rejects physically impossible readings. It does not require
// completeness.
func (v VitalSigns) Validate() error {
	checks := []struct {
		name     string
		val      float64
		min, max float64
	}{
		{"heart_rate", v.HeartRate, 10, 350},
		{"systolic_bp", v.SystolicBP, 30, 320},
		{"diastolic_bp", v.DiastolicBP, 10, 220},
		{"spo2", v.SpO2, 30, 100},
		{"respiration_rate", v.Respiration, 2, 90},
		{"temperature_c", v.Temperature, 24, 45},
	}
	measured := false
	for _, c := range checks {
		if c.val == 0 {
			continue
		}
		measured = true
		if c.val < c.min || c.val > c.max {
			return fmt.Errorf("triage: %s %.1f outside plausible range [%.0f, %.0f]", c.name, c.val, c.min, c.max)
		}
	}
	if v.Consciousness != "" {
		measured = true
		if !v.Consciousness.Valid() {
			return fmt.Errorf("triage: unknown consciousness level %q", v.Consciousness)
		}
	}
	if !measured {
		return ErrNoMetrics
	}
	return nil
}
