package dispatch

import (
	"time"

	"ambulance-cloud/internal/geo"
)

// AmbulanceStatus is the unit availability state.
type AmbulanceStatus string

const (
	AmbulanceIdle         AmbulanceStatus = "idle"
	AmbulanceDispatched   AmbulanceStatus = "dispatched"
	AmbulanceTransporting AmbulanceStatus = "transporting"
)

// Ambulance is one field unit reporting position over telemetry.
type Ambulance struct {
	ID       string
	Callsign string
	Location geo.Point
	Status   AmbulanceStatus
	// EmergencyID is set while the unit serves an emergency.
	EmergencyID string
	LastSeen    time.Time
}

// NewAmbulance creates an idle unit.
func NewAmbulance(id, callsign string, location geo.Point, now time.Time) (*Ambulance, error) {
	if id == "" {
		return nil, NewValidationError("id", "empty ambulance id")
	}
	if !location.Valid() {
		return nil, NewValidationError("location", "invalid coordinates %s", location)
	}
	if callsign == "" {
		callsign = id
	}
	return &Ambulance{
		ID:       id,
		Callsign: callsign,
		Location: location,
		Status:   AmbulanceIdle,
		LastSeen: now,
	}, nil
}

// Busy reports whether the unit currently serves an emergency.
func (a *Ambulance) Busy() bool { return a.Status != AmbulanceIdle }

// MoveTo records a position report.
func (a *Ambulance) MoveTo(p geo.Point, now time.Time) error {
	if !p.Valid() {
		return NewValidationError("location", "invalid coordinates %s", p)
	}
	a.Location = p
	a.LastSeen = now
	return nil
}

// Dispatch binds an idle unit to an emergency.
func (a *Ambulance) Dispatch(emergencyID string) error {
	if a.Status != AmbulanceIdle {
		return NewInvariantViolation("dispatch", "ambulance %s is %s, not idle", a.ID, a.Status)
	}
	if emergencyID == "" {
		return NewInvariantViolation("dispatch", "ambulance %s: empty emergency id", a.ID)
	}
	a.Status = AmbulanceDispatched
	a.EmergencyID = emergencyID
	return nil
}

// BeginTransport marks the unit en route with the patient on board.
func (a *Ambulance) BeginTransport() error {
	if a.Status != AmbulanceDispatched {
		return NewInvariantViolation("transport", "ambulance %s is %s, not dispatched", a.ID, a.Status)
	}
	a.Status = AmbulanceTransporting
	return nil
}

// Release returns the unit to the idle pool.
func (a *Ambulance) Release() {
	a.Status = AmbulanceIdle
	a.EmergencyID = ""
}

// Clone returns a copy safe to hand out in snapshots.
func (a *Ambulance) Clone() *Ambulance {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}
