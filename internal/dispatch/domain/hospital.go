package dispatch

import (
	"time"

	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/scoring"
)

// Hospital combines static master data with the live capacity feed.
// Capabilities, equipment and total beds come from the registry; reported
// beds and emergency room load arrive over the feed and age out.
type Hospital struct {
	ID           string
	Name         string
	Location     geo.Point
	Capabilities []string
	Equipment    []string
	BedsTotal    int

	// BedsReported is the last feed value; Reserved counts inbound
	// patients committed by allocation but not yet reflected in a report.
	BedsReported int
	Reserved     int
	ERLoad       float64
	LastReport   time.Time
}

// NewHospital creates a hospital from master data. The first capacity report
// must arrive before the hospital becomes eligible.
func NewHospital(id, name string, location geo.Point, capabilities, equipment []string, bedsTotal int) (*Hospital, error) {
	if id == "" {
		return nil, NewValidationError("id", "empty hospital id")
	}
	if name == "" {
		return nil, NewValidationError("name", "empty hospital name")
	}
	if !location.Valid() {
		return nil, NewValidationError("location", "invalid coordinates %s", location)
	}
	if bedsTotal <= 0 {
		return nil, NewValidationError("beds_total", "must be positive, got %d", bedsTotal)
	}
	return &Hospital{
		ID:           id,
		Name:         name,
		Location:     location,
		Capabilities: append([]string(nil), capabilities...),
		Equipment:    append([]string(nil), equipment...),
		BedsTotal:    bedsTotal,
	}, nil
}

// Available is the bed count allocation may still hand out. It never goes
// negative even when reservations outrun a shrinking feed.
func (h *Hospital) Available() int {
	if n := h.BedsReported - h.Reserved; n > 0 {
		return n
	}
	return 0
}

// Fresh reports whether the last capacity report is within the window. A
// hospital that never reported is not fresh.
func (h *Hospital) Fresh(now time.Time, window time.Duration) bool {
	if h.LastReport.IsZero() {
		return false
	}
	return now.Sub(h.LastReport) <= window
}

// ApplyReport records a capacity feed update.
func (h *Hospital) ApplyReport(beds int, erLoad float64, now time.Time) error {
	if beds < 0 {
		return NewValidationError("beds_available", "negative bed count %d", beds)
	}
	if erLoad < 0 || erLoad > 1 {
		return NewValidationError("er_load", "load %.2f outside [0, 1]", erLoad)
	}
	h.BedsReported = beds
	h.ERLoad = erLoad
	h.LastReport = now
	return nil
}

// Reserve commits one inbound bed.
func (h *Hospital) Reserve() { h.Reserved++ }

// ReleaseReservation frees one inbound bed after arrival, cancellation or a
// hospital switch.
func (h *Hospital) ReleaseReservation() {
	if h.Reserved > 0 {
		h.Reserved--
	}
}

// HasCapability reports whether the hospital offers the named specialty.
func (h *Hospital) HasCapability(name string) bool {
	for _, c := range h.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Candidate flattens the hospital into a scoring candidate for the given
// transport estimate.
func (h *Hospital) Candidate(eta time.Duration, now time.Time, window time.Duration) scoring.Candidate {
	return scoring.Candidate{
		HospitalID:    h.ID,
		Name:          h.Name,
		ETA:           eta,
		Capabilities:  append([]string(nil), h.Capabilities...),
		Equipment:     append([]string(nil), h.Equipment...),
		BedsAvailable: h.Available(),
		BedsTotal:     h.BedsTotal,
		ERLoad:        h.ERLoad,
		Fresh:         h.Fresh(now, window),
	}
}

// Clone returns a copy safe to hand out in snapshots.
func (h *Hospital) Clone() *Hospital {
	if h == nil {
		return nil
	}
	out := *h
	out.Capabilities = append([]string(nil), h.Capabilities...)
	out.Equipment = append([]string(nil), h.Equipment...)
	return &out
}
