package routing

import (
	"math"
	"strconv"
	"sync"

	"ambulance-cloud/internal/geo"
)

const metersPerDegreeLat = 111320.0

// SegmentID maps a point onto the fixed congestion grid. Traffic updates
// address cells by this key, so it must stay stable across processes.
func SegmentID(p geo.Point, cellMeters float64) string {
	if cellMeters <= 0 {
		cellMeters = DefaultParams().SegmentSizeMeters
	}
	y := int(math.Floor(p.Lat * metersPerDegreeLat / cellMeters))
	x := int(math.Floor(p.Lon * metersPerDegreeLat * math.Cos(p.Lat*math.Pi/180) / cellMeters))
	return strconv.Itoa(x) + ":" + strconv.Itoa(y)
}

// Incident is a reported disruption (accident, closure) near the road grid.
type Incident struct {
	ID          string    `json:"id"`
	Location    geo.Point `json:"location"`
	Severity    string    `json:"severity"`
	Description string    `json:"description,omitempty"`
}

// TrafficSnapshot is an immutable view of congestion state. Estimates are a
// pure function of a snapshot; two estimates over the same snapshot are
// identical.
type TrafficSnapshot struct {
	Version   uint64             `json:"version"`
	Factors   map[string]float64 `json:"factors,omitempty"`
	Incidents []Incident         `json:"incidents,omitempty"`
}

// Factor returns the congestion multiplier for a segment, clamped to
// [1, max]. Unknown segments are free-flowing.
func (s TrafficSnapshot) Factor(segmentID string, max float64) float64 {
	factor, ok := s.Factors[segmentID]
	if !ok || factor < 1 {
		return 1
	}
	if max > 1 && factor > max {
		return max
	}
	return factor
}

// TrafficIndex holds live congestion factors and incidents. It is mutated by
// traffic feed events only; consumers work from Snapshot copies.
type TrafficIndex struct {
	mu        sync.RWMutex
	version   uint64
	factors   map[string]float64
	incidents map[string]Incident
}

// NewTrafficIndex constructs an empty index.
func NewTrafficIndex() *TrafficIndex {
	return &TrafficIndex{
		factors:   make(map[string]float64),
		incidents: make(map[string]Incident),
	}
}

// SetFactor records the congestion multiplier for a segment. Factors at or
// below 1 clear the entry (free flow).
func (t *TrafficIndex) SetFactor(segmentID string, factor float64) {
	if t == nil || segmentID == "" {
		return
	}
	t.mu.Lock()
	if factor <= 1 {
		delete(t.factors, segmentID)
	} else {
		t.factors[segmentID] = factor
	}
	t.version++
	t.mu.Unlock()
}

// SetIncident records or refreshes an incident.
func (t *TrafficIndex) SetIncident(inc Incident) {
	if t == nil || inc.ID == "" {
		return
	}
	t.mu.Lock()
	t.incidents[inc.ID] = inc
	t.version++
	t.mu.Unlock()
}

// ClearIncident removes a resolved incident.
func (t *TrafficIndex) ClearIncident(id string) {
	if t == nil || id == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.incidents[id]; ok {
		delete(t.incidents, id)
		t.version++
	}
	t.mu.Unlock()
}

// Version returns the current mutation counter.
func (t *TrafficIndex) Version() uint64 {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Snapshot returns an immutable copy of the current state.
func (t *TrafficIndex) Snapshot() TrafficSnapshot {
	if t == nil {
		return TrafficSnapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	factors := make(map[string]float64, len(t.factors))
	for id, factor := range t.factors {
		factors[id] = factor
	}
	incidents := make([]Incident, 0, len(t.incidents))
	for _, inc := range t.incidents {
		incidents = append(incidents, inc)
	}
	return TrafficSnapshot{Version: t.version, Factors: factors, Incidents: incidents}
}
