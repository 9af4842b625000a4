package events

import (
	"time"

	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/scoring"
	"ambulance-cloud/internal/triage"
)

// EmergencyView is the read-side projection of one emergency.
type EmergencyView struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Location  geo.Point        `json:"location"`
	Condition triage.Condition `json:"condition"`

	Risk      triage.RiskLevel    `json:"risk,omitempty"`
	Flags     []triage.Flag       `json:"flags,omitempty"`
	Predicted triage.Pattern      `json:"predicted,omitempty"`
	Vitals    []triage.VitalSigns `json:"vitals,omitempty"`

	AmbulanceID   string          `json:"ambulance_id,omitempty"`
	HospitalID    string          `json:"hospital_id,omitempty"`
	HospitalName  string          `json:"hospital_name,omitempty"`
	HospitalScore float64         `json:"hospital_score,omitempty"`
	Candidates    []scoring.Score `json:"candidates,omitempty"`
	Route         *routing.Route  `json:"route,omitempty"`

	Pinned      bool `json:"pinned,omitempty"`
	NeedsReview bool `json:"needs_review,omitempty"`

	ReportedAt time.Time `json:"reported_at"`
	AssignedAt time.Time `json:"assigned_at,omitempty"`
	EnRouteAt  time.Time `json:"en_route_at,omitempty"`
	ArrivedAt  time.Time `json:"arrived_at,omitempty"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

// AmbulanceView is the read-side projection of one unit.
type AmbulanceView struct {
	ID          string    `json:"id"`
	Callsign    string    `json:"callsign"`
	Status      string    `json:"status"`
	Location    geo.Point `json:"location"`
	EmergencyID string    `json:"emergency_id,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// HospitalView is the read-side projection of one hospital.
type HospitalView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Location      geo.Point `json:"location"`
	Capabilities  []string  `json:"capabilities"`
	Equipment     []string  `json:"equipment"`
	BedsTotal     int       `json:"beds_total"`
	BedsAvailable int       `json:"beds_available"`
	Reserved      int       `json:"reserved"`
	ERLoad        float64   `json:"er_load"`
	Fresh         bool      `json:"fresh"`
	LastReport    time.Time `json:"last_report,omitempty"`
}

// Snapshot is a consistent point-in-time view of the whole decision state.
// Seq increases by one per applied event, so readers can detect progress.
type Snapshot struct {
	Seq            uint64                  `json:"seq"`
	TakenAt        time.Time               `json:"taken_at"`
	Emergencies    []EmergencyView         `json:"emergencies"`
	Ambulances     []AmbulanceView         `json:"ambulances"`
	Hospitals      []HospitalView          `json:"hospitals"`
	TrafficVersion uint64                  `json:"traffic_version"`
	Traffic        routing.TrafficSnapshot `json:"traffic"`
}

// Emergency returns the view with the given id, if present.
func (s *Snapshot) Emergency(id string) (EmergencyView, bool) {
	for _, e := range s.Emergencies {
		if e.ID == id {
			return e, true
		}
	}
	return EmergencyView{}, false
}

// Hospital returns the view with the given id, if present.
func (s *Snapshot) Hospital(id string) (HospitalView, bool) {
	for _, h := range s.Hospitals {
		if h.ID == id {
			return h, true
		}
	}
	return HospitalView{}, false
}

// Ambulance returns the view with the given id, if present.
func (s *Snapshot) Ambulance(id string) (AmbulanceView, bool) {
	for _, a := range s.Ambulances {
		if a.ID == id {
			return a, true
		}
	}
	return AmbulanceView{}, false
}
