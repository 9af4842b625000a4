// Package scoring ranks candidate hospitals for an emergency by a weighted
// multi-criteria score. Scoring is a pure function over immutable inputs so
// every decision can be replayed and audited.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Weights configures the contribution of each criterion. They must sum to 1.
type Weights struct {
	ETA       float64 `yaml:"eta" json:"eta"`
	Specialty float64 `yaml:"specialty" json:"specialty"`
	Beds      float64 `yaml:"beds" json:"beds"`
	Load      float64 `yaml:"load" json:"load"`
	Equipment float64 `yaml:"equipment" json:"equipment"`

	// EtaCeiling normalizes the ETA sub-score: an ETA at or beyond the
	// ceiling scores zero.
	EtaCeiling time.Duration `yaml:"eta_ceiling" json:"eta_ceiling"`

	// Epsilon is the score band within which candidates count as tied and
	// the deterministic tie-break order applies.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`
}

// DefaultWeights emphasizes ETA and specialty match over hospital load.
func DefaultWeights() Weights {
	return Weights{
		ETA:        0.30,
		Specialty:  0.25,
		Beds:       0.20,
		Load:       0.15,
		Equipment:  0.10,
		EtaCeiling: 45 * time.Minute,
		Epsilon:    0.001,
	}
}

// Validate checks that the weights form a convex combination.
func (w Weights) Validate() error {
	parts := []float64{w.ETA, w.Specialty, w.Beds, w.Load, w.Equipment}
	sum := 0.0
	for _, part := range parts {
		if part < 0 {
			return fmt.Errorf("scoring: negative weight %f", part)
		}
		sum += part
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scoring: weights sum to %f, want 1.0", sum)
	}
	if w.EtaCeiling <= 0 {
		return fmt.Errorf("scoring: eta ceiling must be positive")
	}
	return nil
}

// Candidate is one hospital's live state paired with the transport estimate,
// flattened so the scorer needs nothing beyond this struct.
type Candidate struct {
	HospitalID    string
	Name          string
	ETA           time.Duration
	Capabilities  []string
	Equipment     []string
	BedsAvailable int
	BedsTotal     int
	ERLoad        float64
	Fresh         bool
}

func (c Candidate) hasCapability(name string) bool {
	for _, cap := range c.Capabilities {
		if cap == name {
			return true
		}
	}
	return false
}

func (c Candidate) hasEquipment(name string) bool {
	for _, item := range c.Equipment {
		if item == name {
			return true
		}
	}
	return false
}

// Ineligibility reasons attached to excluded candidates.
const (
	ReasonStale       = "stale_data"
	ReasonNoBeds      = "no_beds"
	ReasonNoSpecialty = "missing_specialty"
)

// Score is one candidate's evaluation. Sub-scores are normalized to [0, 1]
// before weighting.
type Score struct {
	HospitalID     string        `json:"hospital_id"`
	Name           string        `json:"name,omitempty"`
	Total          float64       `json:"total"`
	ETA            time.Duration `json:"eta"`
	EtaScore       float64       `json:"eta_score"`
	SpecialtyScore float64       `json:"specialty_score"`
	BedScore       float64       `json:"bed_score"`
	LoadScore      float64       `json:"load_score"`
	EquipmentScore float64       `json:"equipment_score"`
	BedRatio       float64       `json:"bed_ratio"`
	Reasons        []string      `json:"reasons,omitempty"`
}

// Evaluate scores one candidate against the requirements. The second return
// is false when the candidate is ineligible; the score then carries only the
// exclusion reason.
func Evaluate(c Candidate, req Requirements, w Weights) (Score, bool) {
	score := Score{HospitalID: c.HospitalID, Name: c.Name, ETA: c.ETA}

	if !c.Fresh {
		score.Reasons = append(score.Reasons, ReasonStale)
		return score, false
	}
	if c.BedsAvailable <= 0 {
		score.Reasons = append(score.Reasons, ReasonNoBeds)
		return score, false
	}
	if req.Mandatory && req.Specialty != CapabilityGeneral && !c.hasCapability(req.Specialty) {
		score.Reasons = append(score.Reasons, ReasonNoSpecialty)
		return score, false
	}

	score.EtaScore = clamp01(1 - c.ETA.Minutes()/w.EtaCeiling.Minutes())
	score.SpecialtyScore = specialtyScore(c, req)
	if c.BedsTotal > 0 {
		score.BedRatio = clamp01(float64(c.BedsAvailable) / float64(c.BedsTotal))
	}
	score.BedScore = score.BedRatio
	score.LoadScore = clamp01(1 - c.ERLoad)
	score.EquipmentScore = equipmentScore(c, req)

	score.Total = score.EtaScore*w.ETA +
		score.SpecialtyScore*w.Specialty +
		score.BedScore*w.Beds +
		score.LoadScore*w.Load +
		score.EquipmentScore*w.Equipment
	score.Reasons = describe(c, req, score)
	return score, true
}

func specialtyScore(c Candidate, req Requirements) float64 {
	if req.Specialty == CapabilityGeneral || req.Specialty == "" {
		// Every hospital can take a general case.
		return 0.7
	}
	if !c.hasCapability(req.Specialty) {
		return 0.35
	}
	for _, item := range req.Equipment {
		if !c.hasEquipment(item) {
			return 0.8
		}
	}
	return 1.0
}

func equipmentScore(c Candidate, req Requirements) float64 {
	if len(req.Equipment) == 0 {
		return 1.0
	}
	matched := 0
	for _, item := range req.Equipment {
		if c.hasEquipment(item) {
			matched++
		}
	}
	return float64(matched) / float64(len(req.Equipment))
}

func describe(c Candidate, req Requirements, s Score) []string {
	var reasons []string
	switch {
	case s.Total > 0.8:
		reasons = append(reasons, "excellent match for patient condition")
	case s.Total > 0.6:
		reasons = append(reasons, "good match for patient condition")
	}
	if req.Specialty != CapabilityGeneral && c.hasCapability(req.Specialty) {
		reasons = append(reasons, fmt.Sprintf("%s-capable", req.Specialty))
	}
	for _, item := range req.Equipment {
		if c.hasEquipment(item) {
			reasons = append(reasons, fmt.Sprintf("has %s", item))
		}
	}
	if c.ERLoad < 0.5 {
		reasons = append(reasons, "low emergency room load")
	}
	if c.BedsAvailable > 5 {
		reasons = append(reasons, "good bed availability")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "available for emergency care")
	}
	return reasons
}

// Rank evaluates all candidates and returns the eligible ones ordered best
// first. Candidates tied within epsilon are ordered by lower ETA, then higher
// bed ratio, then lowest hospital id, so ranking is reproducible.
func Rank(candidates []Candidate, req Requirements, w Weights) []Score {
	scores := make([]Score, 0, len(candidates))
	for _, c := range candidates {
		if s, ok := Evaluate(c, req, w); ok {
			scores = append(scores, s)
		}
	}

	epsilon := w.Epsilon
	if epsilon <= 0 {
		epsilon = DefaultWeights().Epsilon
	}
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if math.Abs(a.Total-b.Total) > epsilon {
			return a.Total > b.Total
		}
		if a.ETA != b.ETA {
			return a.ETA < b.ETA
		}
		if a.BedRatio != b.BedRatio {
			return a.BedRatio > b.BedRatio
		}
		return a.HospitalID < b.HospitalID
	})
	return scores
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
