package events

import "time"

// Notification kinds, ordered facts emitted after an event commits.
const (
	NotifyEmergencyCreated  = "emergency_created"
	NotifyAssignmentChanged = "assignment_changed"
	NotifyRiskEscalated     = "risk_escalated"
	NotifyRouteRecomputed   = "route_recomputed"
	NotifyEmergencyClosed   = "emergency_closed"
)

// Assignment reasons carried on assignment_changed notifications.
const (
	ReasonInitialAllocation   = "initial_allocation"
	ReasonFallbackRelaxed     = "fallback_relaxed"
	ReasonFallbackNearest     = "fallback_nearest"
	ReasonBetterOption        = "better_option"
	ReasonHospitalUnavailable = "hospital_unavailable"
	ReasonRiskUpgrade         = "risk_upgrade"
	ReasonManualOverride      = "manual_override"
)

// Notification is one decision fact. Notifications for a single applied
// event are delivered in decision order: a risk escalation always precedes
// the assignment change it caused.
type Notification struct {
	Kind        string    `json:"kind"`
	EmergencyID string    `json:"emergency_id"`
	OccurredAt  time.Time `json:"occurred_at"`

	// Assignment facts.
	AmbulanceID    string `json:"ambulance_id,omitempty"`
	HospitalID     string `json:"hospital_id,omitempty"`
	HospitalName   string `json:"hospital_name,omitempty"`
	PrevHospitalID string `json:"prev_hospital_id,omitempty"`
	Reason         string `json:"reason,omitempty"`

	// Risk facts.
	Risk     string `json:"risk,omitempty"`
	PrevRisk string `json:"prev_risk,omitempty"`

	// Route facts.
	EtaMinutes     float64 `json:"eta_minutes,omitempty"`
	PrevEtaMinutes float64 `json:"prev_eta_minutes,omitempty"`

	// Terminal facts.
	Status string `json:"status,omitempty"`
}
