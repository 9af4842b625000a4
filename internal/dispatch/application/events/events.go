// Package events defines the intake events consumed by the allocation
// engine, the notifications it emits and the read-side views it publishes.
package events

import (
	"time"

	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/triage"
)

// Event kinds, used as metric labels and in the engine's apply switch.
const (
	KindCreateEmergency = "create_emergency"
	KindVitalsUpdate    = "vitals_update"
	KindLocationUpdate  = "location_update"
	KindHospitalStatus  = "hospital_status"
	KindTrafficUpdate   = "traffic_update"
	KindAcknowledge     = "acknowledge"
	KindArrived         = "arrived"
	KindClose           = "close_emergency"
	KindCancel          = "cancel_emergency"
	KindOverride        = "manual_override"
	KindSweep           = "sweep"
)

// Event is one unit of intake work. Events are applied strictly one at a
// time in submission order.
type Event interface {
	Kind() string
}

// Result answers a console action once the event has been applied.
type Result struct {
	Err       error
	Emergency *EmergencyView
}

// CreateEmergency reports a new incident. EmergencyID is optional; the
// engine generates one when empty.
type CreateEmergency struct {
	EmergencyID string             `json:"emergency_id,omitempty"`
	Location    geo.Point          `json:"location"`
	Condition   triage.Condition   `json:"condition"`
	Vitals      *triage.VitalSigns `json:"vitals,omitempty"`
	Reply       chan<- Result      `json:"-"`
}

func (CreateEmergency) Kind() string { return KindCreateEmergency }

// VitalsUpdate carries one monitor snapshot for an active emergency.
type VitalsUpdate struct {
	EmergencyID string            `json:"emergency_id"`
	Vitals      triage.VitalSigns `json:"vitals"`
}

func (VitalsUpdate) Kind() string { return KindVitalsUpdate }

// LocationUpdate carries an ambulance position report.
type LocationUpdate struct {
	AmbulanceID string    `json:"ambulance_id"`
	Location    geo.Point `json:"location"`
	At          time.Time `json:"at,omitempty"`
}

func (LocationUpdate) Kind() string { return KindLocationUpdate }

// HospitalStatusUpdate carries one capacity feed report.
type HospitalStatusUpdate struct {
	HospitalID    string    `json:"hospital_id"`
	BedsAvailable int       `json:"beds_available"`
	ERLoad        float64   `json:"er_load"`
	At            time.Time `json:"at,omitempty"`
}

func (HospitalStatusUpdate) Kind() string { return KindHospitalStatus }

// TrafficUpdate mutates the congestion index: a segment factor, an incident,
// or an incident clear. A zero Factor leaves factors untouched.
type TrafficUpdate struct {
	SegmentID       string            `json:"segment_id,omitempty"`
	Factor          float64           `json:"factor,omitempty"`
	Incident        *routing.Incident `json:"incident,omitempty"`
	ClearIncidentID string            `json:"clear_incident_id,omitempty"`
}

func (TrafficUpdate) Kind() string { return KindTrafficUpdate }

// Acknowledge records the crew confirming the dispatch and departing.
type Acknowledge struct {
	EmergencyID string        `json:"emergency_id"`
	AmbulanceID string        `json:"ambulance_id"`
	Reply       chan<- Result `json:"-"`
}

func (Acknowledge) Kind() string { return KindAcknowledge }

// MarkArrived records arrival at the destination hospital.
type MarkArrived struct {
	EmergencyID string        `json:"emergency_id"`
	Reply       chan<- Result `json:"-"`
}

func (MarkArrived) Kind() string { return KindArrived }

// CloseEmergency finishes a handed-over emergency.
type CloseEmergency struct {
	EmergencyID string        `json:"emergency_id"`
	Reply       chan<- Result `json:"-"`
}

func (CloseEmergency) Kind() string { return KindClose }

// CancelEmergency aborts a not-yet-arrived emergency.
type CancelEmergency struct {
	EmergencyID string        `json:"emergency_id"`
	Reason      string        `json:"reason,omitempty"`
	Reply       chan<- Result `json:"-"`
}

func (CancelEmergency) Kind() string { return KindCancel }

// ManualOverride pins the destination hospital by operator decision.
type ManualOverride struct {
	EmergencyID string        `json:"emergency_id"`
	HospitalID  string        `json:"hospital_id"`
	Operator    string        `json:"operator,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Reply       chan<- Result `json:"-"`
}

func (ManualOverride) Kind() string { return KindOverride }

// Sweep triggers the periodic re-evaluation: stale hospitals, pending
// emergencies and route refreshes.
type Sweep struct {
	At time.Time `json:"at,omitempty"`
}

func (Sweep) Kind() string { return KindSweep }
