// Package config loads the decision parameters: triage thresholds, scoring
// weights, routing constants and the engine knobs. Defaults work out of the
// box; a YAML file pointed to by DECISION_CONFIG overrides them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/scoring"
	"ambulance-cloud/internal/triage"
)

// WeightsConfig mirrors scoring.Weights with the ceiling in minutes so the
// YAML stays plain numbers.
type WeightsConfig struct {
	ETA               float64 `yaml:"eta"`
	Specialty         float64 `yaml:"specialty"`
	Beds              float64 `yaml:"beds"`
	Load              float64 `yaml:"load"`
	Equipment         float64 `yaml:"equipment"`
	EtaCeilingMinutes float64 `yaml:"eta_ceiling_minutes"`
	Epsilon           float64 `yaml:"epsilon"`
}

// EngineConfig defines the allocation engine knobs.
type EngineConfig struct {
	FreshnessSeconds          int     `yaml:"freshness_seconds"`
	SwitchMargin              float64 `yaml:"switch_margin"`
	EtaHysteresisPct          float64 `yaml:"eta_hysteresis_pct"`
	EtaHysteresisFloorSeconds int     `yaml:"eta_hysteresis_floor_seconds"`
	VitalsHistory             int     `yaml:"vitals_history"`
	CandidateLimit            int     `yaml:"candidate_limit"`
	QueueCapacity             int     `yaml:"queue_capacity"`
	ArchiveCapacity           int     `yaml:"archive_capacity"`
}

// Config is the YAML document shape.
type Config struct {
	Thresholds triage.Thresholds `yaml:"thresholds"`
	Weights    WeightsConfig     `yaml:"weights"`
	Routing    routing.Params    `yaml:"routing"`
	Engine     EngineConfig      `yaml:"engine"`
}

// Params is the composed runtime configuration the engine consumes.
type Params struct {
	Thresholds triage.Thresholds
	Weights    scoring.Weights
	Routing    routing.Params

	// Freshness is the window within which a hospital capacity report
	// still counts as live.
	Freshness time.Duration
	// SwitchMargin is the score advantage a challenger needs before an
	// already-assigned hospital is displaced.
	SwitchMargin float64
	// EtaHysteresisPct and EtaHysteresisFloor gate route republication:
	// a recomputed ETA must move by the percentage and by the floor
	// before subscribers hear about it.
	EtaHysteresisPct   float64
	EtaHysteresisFloor time.Duration

	VitalsHistory   int
	CandidateLimit  int
	QueueCapacity   int
	ArchiveCapacity int
}

// DefaultConfig returns the document with all defaults filled in.
// Environment variables seed the hot knobs; YAML still wins when present.
func DefaultConfig() Config {
	w := scoring.DefaultWeights()
	return Config{
		Thresholds: triage.DefaultThresholds(),
		Weights: WeightsConfig{
			ETA:               w.ETA,
			Specialty:         w.Specialty,
			Beds:              w.Beds,
			Load:              w.Load,
			Equipment:         w.Equipment,
			EtaCeilingMinutes: w.EtaCeiling.Minutes(),
			Epsilon:           w.Epsilon,
		},
		Routing: routing.Params{
			BaseSpeedKmh:      getenvFloatDefault("DECISION_BASE_SPEED_KMH", 35),
			MaxCongestion:     3.0,
			SegmentSizeMeters: 500,
			DetourThreshold:   1.8,
			AlertRadiusMeters: 1000,
		},
		Engine: EngineConfig{
			FreshnessSeconds:          getenvIntDefault("DECISION_FRESHNESS_SECONDS", 60),
			SwitchMargin:              getenvFloatDefault("DECISION_SWITCH_MARGIN", 0.05),
			EtaHysteresisPct:          0.15,
			EtaHysteresisFloorSeconds: 30,
			VitalsHistory:             32,
			CandidateLimit:            3,
			QueueCapacity:             1024,
			ArchiveCapacity:           256,
		},
	}
}

// Load reads DECISION_CONFIG (when set) over the defaults and composes the
// runtime parameters.
func Load() (Params, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("DECISION_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Params{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Params{}, err
		}
	}
	return cfg.Params()
}

// Params composes and validates the runtime parameters.
func (c Config) Params() (Params, error) {
	p := Params{
		Thresholds: c.Thresholds,
		Weights: scoring.Weights{
			ETA:        c.Weights.ETA,
			Specialty:  c.Weights.Specialty,
			Beds:       c.Weights.Beds,
			Load:       c.Weights.Load,
			Equipment:  c.Weights.Equipment,
			EtaCeiling: time.Duration(c.Weights.EtaCeilingMinutes * float64(time.Minute)),
			Epsilon:    c.Weights.Epsilon,
		},
		Routing:            c.Routing,
		Freshness:          time.Duration(c.Engine.FreshnessSeconds) * time.Second,
		SwitchMargin:       c.Engine.SwitchMargin,
		EtaHysteresisPct:   c.Engine.EtaHysteresisPct,
		EtaHysteresisFloor: time.Duration(c.Engine.EtaHysteresisFloorSeconds) * time.Second,
		VitalsHistory:      c.Engine.VitalsHistory,
		CandidateLimit:     c.Engine.CandidateLimit,
		QueueCapacity:      c.Engine.QueueCapacity,
		ArchiveCapacity:    c.Engine.ArchiveCapacity,
	}
	if err := p.Weights.Validate(); err != nil {
		return Params{}, err
	}
	if p.Freshness <= 0 {
		return Params{}, fmt.Errorf("config: freshness window must be positive, got %s", p.Freshness)
	}
	if p.SwitchMargin < 0 {
		return Params{}, fmt.Errorf("config: switch margin must not be negative, got %f", p.SwitchMargin)
	}
	if p.EtaHysteresisPct < 0 {
		return Params{}, fmt.Errorf("config: eta hysteresis must not be negative, got %f", p.EtaHysteresisPct)
	}
	if p.CandidateLimit < 1 {
		return Params{}, fmt.Errorf("config: candidate limit must be at least 1, got %d", p.CandidateLimit)
	}
	if p.QueueCapacity < 1 {
		return Params{}, fmt.Errorf("config: queue capacity must be at least 1, got %d", p.QueueCapacity)
	}
	if p.ArchiveCapacity < 1 {
		return Params{}, fmt.Errorf("config: archive capacity must be at least 1, got %d", p.ArchiveCapacity)
	}
	return p, nil
}

// Default returns the runtime parameters with no file or env applied.
func Default() Params {
	return Params{
		Thresholds:         triage.DefaultThresholds(),
		Weights:            scoring.DefaultWeights(),
		Routing:            routing.DefaultParams(),
		Freshness:          time.Minute,
		SwitchMargin:       0.05,
		EtaHysteresisPct:   0.15,
		EtaHysteresisFloor: 30 * time.Second,
		VitalsHistory:      32,
		CandidateLimit:     3,
		QueueCapacity:      1024,
		ArchiveCapacity:    256,
	}
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
