package dispatch

import (
	"time"

	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/scoring"
	"ambulance-cloud/internal/triage"
)

// Status is the emergency lifecycle state.
type Status string

const (
	StatusReported  Status = "reported"
	StatusAssigned  Status = "assigned"
	StatusEnRoute   Status = "en_route"
	StatusArrived   Status = "arrived"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// transitions lists the legal moves of the lifecycle machine. Closed and
// cancelled are terminal.
var transitions = map[Status][]Status{
	StatusReported: {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusEnRoute, StatusCancelled},
	StatusEnRoute:  {StatusArrived, StatusCancelled},
	StatusArrived:  {StatusClosed},
}

// CanMove reports whether the machine allows s -> to.
func (s Status) CanMove(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// DefaultVitalsLimit caps the per-emergency vitals history ring.
const DefaultVitalsLimit = 32

// Emergency is one patient incident from report to handoff.
type Emergency struct {
	ID        string
	Status    Status
	Location  geo.Point
	Condition triage.Condition

	// Vitals holds the most recent snapshots, oldest first.
	Vitals     []triage.VitalSigns
	Assessment triage.Assessment

	Requirements scoring.Requirements

	AmbulanceID   string
	HospitalID    string
	HospitalScore float64
	Candidates    []scoring.Score
	Route         *routing.Route

	// Pinned marks a manual hospital override; automatic reallocation
	// must not displace it.
	Pinned bool
	// NeedsReview marks an assignment made through the degraded fallback
	// and flags the emergency for operator attention.
	NeedsReview bool

	ReportedAt time.Time
	AssignedAt time.Time
	EnRouteAt  time.Time
	ArrivedAt  time.Time
	ClosedAt   time.Time
}

// NewEmergency creates an emergency in the reported state.
func NewEmergency(id string, location geo.Point, condition triage.Condition, now time.Time) (*Emergency, error) {
	if id == "" {
		return nil, NewValidationError("id", "empty emergency id")
	}
	if !location.Valid() {
		return nil, NewValidationError("location", "invalid coordinates %s", location)
	}
	if !condition.Valid() {
		return nil, NewValidationError("condition", "unknown condition %q", condition)
	}
	return &Emergency{
		ID:           id,
		Status:       StatusReported,
		Location:     location,
		Condition:    condition,
		Requirements: scoring.DeriveRequirements(condition, triage.RiskNormal, ""),
		ReportedAt:   now,
	}, nil
}

func (e *Emergency) move(to Status) error {
	if e.Status.Terminal() {
		return ErrTerminalState
	}
	if !e.Status.CanMove(to) {
		return &TransitionError{EmergencyID: e.ID, From: e.Status, To: to}
	}
	e.Status = to
	return nil
}

// Assign commits the ambulance/hospital pair chosen by allocation.
func (e *Emergency) Assign(ambulanceID, hospitalID string, score float64, now time.Time) error {
	if ambulanceID == "" || hospitalID == "" {
		return NewInvariantViolation("assign", "emergency %s: empty ambulance or hospital id", e.ID)
	}
	if err := e.move(StatusAssigned); err != nil {
		return err
	}
	e.AmbulanceID = ambulanceID
	e.HospitalID = hospitalID
	e.HospitalScore = score
	e.AssignedAt = now
	return nil
}

// Reassign switches the destination hospital of an active assignment. The
// ambulance is never swapped once dispatched.
func (e *Emergency) Reassign(hospitalID string, score float64) error {
	if e.Status != StatusAssigned && e.Status != StatusEnRoute {
		return &TransitionError{EmergencyID: e.ID, From: e.Status, To: e.Status}
	}
	if e.Pinned {
		return NewInvariantViolation("reassign", "emergency %s: hospital pinned by operator", e.ID)
	}
	if hospitalID == "" {
		return NewInvariantViolation("reassign", "emergency %s: empty hospital id", e.ID)
	}
	e.HospitalID = hospitalID
	e.HospitalScore = score
	return nil
}

// Pin fixes the destination hospital by operator decision. Allowed only
// while the emergency is assigned or en route.
func (e *Emergency) Pin(hospitalID string, score float64) error {
	if e.Status != StatusAssigned && e.Status != StatusEnRoute {
		return &TransitionError{EmergencyID: e.ID, From: e.Status, To: e.Status}
	}
	if hospitalID == "" {
		return NewValidationError("hospital_id", "empty hospital id")
	}
	e.HospitalID = hospitalID
	e.HospitalScore = score
	e.Pinned = true
	return nil
}

// MarkEnRoute records the crew acknowledgement.
func (e *Emergency) MarkEnRoute(now time.Time) error {
	if err := e.move(StatusEnRoute); err != nil {
		return err
	}
	e.EnRouteAt = now
	return nil
}

// MarkArrived records arrival at the destination hospital.
func (e *Emergency) MarkArrived(now time.Time) error {
	if err := e.move(StatusArrived); err != nil {
		return err
	}
	e.ArrivedAt = now
	return nil
}

// Close finishes a handed-over emergency.
func (e *Emergency) Close(now time.Time) error {
	if err := e.move(StatusClosed); err != nil {
		return err
	}
	e.ClosedAt = now
	return nil
}

// Cancel aborts a not-yet-arrived emergency.
func (e *Emergency) Cancel(now time.Time) error {
	if err := e.move(StatusCancelled); err != nil {
		return err
	}
	e.ClosedAt = now
	return nil
}

// RecordVitals appends a snapshot to the history ring, dropping the oldest
// entries beyond limit. A limit of zero falls back to DefaultVitalsLimit.
func (e *Emergency) RecordVitals(v triage.VitalSigns, limit int) {
	if limit <= 0 {
		limit = DefaultVitalsLimit
	}
	e.Vitals = append(e.Vitals, v)
	if excess := len(e.Vitals) - limit; excess > 0 {
		e.Vitals = append(e.Vitals[:0], e.Vitals[excess:]...)
	}
}

// LatestVitals returns the newest snapshot, if any.
func (e *Emergency) LatestVitals() (triage.VitalSigns, bool) {
	if len(e.Vitals) == 0 {
		return triage.VitalSigns{}, false
	}
	return e.Vitals[len(e.Vitals)-1], true
}

// Assigned reports whether an ambulance/hospital pair is committed.
func (e *Emergency) Assigned() bool {
	return e.AmbulanceID != "" && e.HospitalID != ""
}

// Clone returns a deep copy safe to hand out in snapshots.
func (e *Emergency) Clone() *Emergency {
	if e == nil {
		return nil
	}
	out := *e
	out.Vitals = append([]triage.VitalSigns(nil), e.Vitals...)
	out.Candidates = cloneScores(e.Candidates)
	out.Requirements.Equipment = append([]string(nil), e.Requirements.Equipment...)
	out.Assessment.Flags = append([]triage.Flag(nil), e.Assessment.Flags...)
	if e.Assessment.Metrics != nil {
		out.Assessment.Metrics = make(map[string]triage.MetricStatus, len(e.Assessment.Metrics))
		for k, v := range e.Assessment.Metrics {
			out.Assessment.Metrics[k] = v
		}
	}
	if e.Route != nil {
		r := e.Route.Clone()
		out.Route = &r
	}
	return &out
}

func cloneScores(in []scoring.Score) []scoring.Score {
	if in == nil {
		return nil
	}
	out := make([]scoring.Score, len(in))
	for i, s := range in {
		out[i] = s
		out[i].Reasons = append([]string(nil), s.Reasons...)
	}
	return out
}
