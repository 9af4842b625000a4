// Package routing estimates ambulance travel: distance, ETA and path over a
// gridded congestion model. Estimates are deterministic given a traffic
// snapshot; the engine decides when to request a re-estimate.
package routing

import (
	"math"
	"time"

	"ambulance-cloud/internal/geo"
)

// Params is the immutable estimator configuration.
type Params struct {
	BaseSpeedKmh      float64 `yaml:"base_speed_kmh" json:"base_speed_kmh"`
	MaxCongestion     float64 `yaml:"max_congestion" json:"max_congestion"`
	SegmentSizeMeters float64 `yaml:"segment_size_meters" json:"segment_size_meters"`
	DetourThreshold   float64 `yaml:"detour_threshold" json:"detour_threshold"`
	AlertRadiusMeters float64 `yaml:"alert_radius_meters" json:"alert_radius_meters"`
}

// DefaultParams returns city-driving defaults for an emergency vehicle.
func DefaultParams() Params {
	return Params{
		BaseSpeedKmh:      35,
		MaxCongestion:     3.0,
		SegmentSizeMeters: 500,
		DetourThreshold:   1.8,
		AlertRadiusMeters: 1000,
	}
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.BaseSpeedKmh <= 0 {
		p.BaseSpeedKmh = d.BaseSpeedKmh
	}
	if p.MaxCongestion < 1 {
		p.MaxCongestion = d.MaxCongestion
	}
	if p.SegmentSizeMeters <= 0 {
		p.SegmentSizeMeters = d.SegmentSizeMeters
	}
	if p.DetourThreshold <= 1 {
		p.DetourThreshold = d.DetourThreshold
	}
	if p.AlertRadiusMeters <= 0 {
		p.AlertRadiusMeters = d.AlertRadiusMeters
	}
	return p
}

// maxSegmentsPerLeg bounds sampling for degenerate long legs.
const maxSegmentsPerLeg = 1024

// Alert surfaces an incident close to the computed path.
type Alert struct {
	IncidentID     string    `json:"incident_id"`
	Severity       string    `json:"severity"`
	Description    string    `json:"description,omitempty"`
	Location       geo.Point `json:"location"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Route is an ephemeral estimate. Routes are recomputed from fresh inputs,
// never patched in place.
type Route struct {
	DistanceMeters  float64       `json:"distance_meters"`
	ETA             time.Duration `json:"eta"`
	Path            []geo.Point   `json:"path"`
	SegmentIDs      []string      `json:"segment_ids"`
	WorstCongestion float64       `json:"worst_congestion"`
	TrafficVersion  uint64        `json:"traffic_version"`
	Detoured        bool          `json:"detoured"`
	Alerts          []Alert       `json:"alerts,omitempty"`
}

// ETAMinutes returns the estimate in minutes for display payloads.
func (r Route) ETAMinutes() float64 {
	return math.Round(r.ETA.Minutes()*10) / 10
}

// Touches reports whether a traffic update for segmentID affects this route.
func (r Route) Touches(segmentID string) bool {
	for _, id := range r.SegmentIDs {
		if id == segmentID {
			return true
		}
	}
	return false
}

// Clone returns a copy with no shared slices.
func (r Route) Clone() Route {
	out := r
	out.Path = append([]geo.Point(nil), r.Path...)
	out.SegmentIDs = append([]string(nil), r.SegmentIDs...)
	out.Alerts = append([]Alert(nil), r.Alerts...)
	return out
}

// Estimate computes the route from origin to dest under the given traffic
// snapshot. When on-path congestion reaches the detour threshold, two
// perpendicular detours through the route midpoint are evaluated and the
// cheapest of the three candidates wins; the comparison is deterministic, a
// tie keeps the direct route.
func Estimate(origin, dest geo.Point, t TrafficSnapshot, p Params) Route {
	p = p.normalized()

	direct := walk([]geo.Point{origin, dest}, t, p)
	best := direct
	if direct.WorstCongestion >= p.DetourThreshold {
		distance := geo.DistanceMeters(origin, dest)
		offset := detourOffset(distance, p)
		mid := geo.Midpoint(origin, dest)
		bearing := geo.Bearing(origin, dest)
		for _, side := range []float64{-90, 90} {
			waypoint := geo.Offset(mid, bearing+side, offset)
			candidate := walk([]geo.Point{origin, waypoint, dest}, t, p)
			candidate.Detoured = true
			if candidate.ETA < best.ETA {
				best = candidate
			}
		}
	}

	best.TrafficVersion = t.Version
	best.Alerts = collectAlerts(best.Path, t.Incidents, p.AlertRadiusMeters)
	return best
}

func detourOffset(distanceMeters float64, p Params) float64 {
	offset := distanceMeters * 0.2
	if offset < p.SegmentSizeMeters {
		offset = p.SegmentSizeMeters
	}
	if offset > 3000 {
		offset = 3000
	}
	return offset
}

// walk samples each leg of the waypoint chain onto grid segments and sums
// congestion-adjusted travel time.
func walk(waypoints []geo.Point, t TrafficSnapshot, p Params) Route {
	route := Route{Path: []geo.Point{waypoints[0]}, WorstCongestion: 1}
	speed := p.BaseSpeedKmh / 3.6 // m/s

	var seconds float64
	for i := 0; i < len(waypoints)-1; i++ {
		from, to := waypoints[i], waypoints[i+1]
		legLen := geo.DistanceMeters(from, to)
		if legLen == 0 {
			continue
		}
		n := int(math.Ceil(legLen / p.SegmentSizeMeters))
		if n < 1 {
			n = 1
		}
		if n > maxSegmentsPerLeg {
			n = maxSegmentsPerLeg
		}
		segLen := legLen / float64(n)
		for s := 0; s < n; s++ {
			midFrac := (float64(s) + 0.5) / float64(n)
			segmentID := SegmentID(geo.Interpolate(from, to, midFrac), p.SegmentSizeMeters)
			factor := t.Factor(segmentID, p.MaxCongestion)
			if factor > route.WorstCongestion {
				route.WorstCongestion = factor
			}
			seconds += segLen / speed * factor
			if last := len(route.SegmentIDs); last == 0 || route.SegmentIDs[last-1] != segmentID {
				route.SegmentIDs = append(route.SegmentIDs, segmentID)
			}
			route.Path = append(route.Path, geo.Interpolate(from, to, (float64(s)+1)/float64(n)))
		}
		route.DistanceMeters += legLen
	}

	route.ETA = time.Duration(seconds * float64(time.Second))
	return route
}

func collectAlerts(path []geo.Point, incidents []Incident, radiusMeters float64) []Alert {
	var alerts []Alert
	for _, inc := range incidents {
		closest := math.MaxFloat64
		for _, point := range path {
			if d := geo.DistanceMeters(point, inc.Location); d < closest {
				closest = d
			}
		}
		if closest <= radiusMeters {
			alerts = append(alerts, Alert{
				IncidentID:     inc.ID,
				Severity:       inc.Severity,
				Description:    inc.Description,
				Location:       inc.Location,
				DistanceMeters: math.Round(closest),
			})
		}
	}
	return alerts
}
