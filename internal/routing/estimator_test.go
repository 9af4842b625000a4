package routing

import (
	"testing"
	"time"

	"ambulance-cloud/internal/geo"
)

var (
	cityA = geo.Point{Lat: 28.6139, Lon: 77.2090}
	cityB = geo.Point{Lat: 28.5672, Lon: 77.2100}
)

func TestEstimateFreeFlow(t *testing.T) {
	route := Estimate(cityA, cityB, TrafficSnapshot{}, DefaultParams())

	if route.DistanceMeters <= 0 {
		t.Fatalf("expected positive distance, got %f", route.DistanceMeters)
	}
	if route.ETA <= 0 {
		t.Fatalf("expected positive eta, got %s", route.ETA)
	}
	if route.WorstCongestion != 1 {
		t.Fatalf("expected free-flow congestion 1, got %f", route.WorstCongestion)
	}
	// ~5.2 km at 35 km/h is about 9 minutes.
	if route.ETA < 7*time.Minute || route.ETA > 11*time.Minute {
		t.Fatalf("eta out of expected band: %s", route.ETA)
	}
}

func TestEstimateIdempotentForSameSnapshot(t *testing.T) {
	index := NewTrafficIndex()
	seed := Estimate(cityA, cityB, index.Snapshot(), DefaultParams())
	for _, id := range seed.SegmentIDs[:2] {
		index.SetFactor(id, 2.2)
	}
	snap := index.Snapshot()

	first := Estimate(cityA, cityB, snap, DefaultParams())
	second := Estimate(cityA, cityB, snap, DefaultParams())

	if first.ETA != second.ETA || first.DistanceMeters != second.DistanceMeters {
		t.Fatalf("expected identical estimates, got %s/%f vs %s/%f",
			first.ETA, first.DistanceMeters, second.ETA, second.DistanceMeters)
	}
	if len(first.SegmentIDs) != len(second.SegmentIDs) {
		t.Fatalf("expected identical segment lists, got %d vs %d", len(first.SegmentIDs), len(second.SegmentIDs))
	}
}

func TestEstimateCongestionRaisesETA(t *testing.T) {
	params := DefaultParams()
	base := Estimate(cityA, cityB, TrafficSnapshot{}, params)

	index := NewTrafficIndex()
	for _, id := range base.SegmentIDs {
		index.SetFactor(id, 1.6)
	}
	congested := Estimate(cityA, cityB, index.Snapshot(), params)

	if congested.ETA <= base.ETA {
		t.Fatalf("expected congestion to raise eta: base %s, congested %s", base.ETA, congested.ETA)
	}
}

func TestEstimateClampsCongestion(t *testing.T) {
	params := DefaultParams()
	base := Estimate(cityA, cityB, TrafficSnapshot{}, params)

	index := NewTrafficIndex()
	for _, id := range base.SegmentIDs {
		index.SetFactor(id, 50)
	}
	clamped := Estimate(cityA, cityB, index.Snapshot(), params)

	if clamped.WorstCongestion != params.MaxCongestion {
		t.Fatalf("expected congestion clamped to %f, got %f", params.MaxCongestion, clamped.WorstCongestion)
	}
	maxETA := time.Duration(float64(base.ETA) * params.MaxCongestion * 1.05)
	if clamped.ETA > maxETA {
		t.Fatalf("eta %s exceeds clamp bound %s", clamped.ETA, maxETA)
	}
}

func TestEstimateDetoursAroundHeavyCongestion(t *testing.T) {
	params := DefaultParams()
	direct := Estimate(cityA, cityB, TrafficSnapshot{}, params)

	// Jam every direct segment beyond the detour threshold.
	index := NewTrafficIndex()
	for _, id := range direct.SegmentIDs {
		index.SetFactor(id, params.MaxCongestion)
	}
	detoured := Estimate(cityA, cityB, index.Snapshot(), params)

	if !detoured.Detoured {
		t.Fatal("expected a detour under saturated congestion")
	}
	jammedETA := time.Duration(float64(direct.ETA) * params.MaxCongestion)
	if detoured.ETA >= jammedETA {
		t.Fatalf("expected detour to beat jammed direct route: %s vs %s", detoured.ETA, jammedETA)
	}
	if detoured.DistanceMeters <= direct.DistanceMeters {
		t.Fatalf("expected detour to be longer than direct path: %f vs %f",
			detoured.DistanceMeters, direct.DistanceMeters)
	}
}

func TestEstimateReportsNearbyIncidents(t *testing.T) {
	index := NewTrafficIndex()
	index.SetIncident(Incident{ID: "inc-1", Location: geo.Midpoint(cityA, cityB), Severity: "high"})
	index.SetIncident(Incident{ID: "inc-far", Location: geo.Point{Lat: 19.0760, Lon: 72.8777}, Severity: "high"})

	route := Estimate(cityA, cityB, index.Snapshot(), DefaultParams())

	if len(route.Alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(route.Alerts))
	}
	if route.Alerts[0].IncidentID != "inc-1" {
		t.Fatalf("expected inc-1 alert, got %s", route.Alerts[0].IncidentID)
	}
}

func TestRouteTouches(t *testing.T) {
	route := Estimate(cityA, cityB, TrafficSnapshot{}, DefaultParams())
	if len(route.SegmentIDs) == 0 {
		t.Fatal("expected segments on route")
	}
	if !route.Touches(route.SegmentIDs[0]) {
		t.Fatal("expected route to touch its own segment")
	}
	if route.Touches("9999:9999") {
		t.Fatal("expected route not to touch unrelated segment")
	}
}

func TestTrafficIndexSnapshotIsolation(t *testing.T) {
	index := NewTrafficIndex()
	index.SetFactor("1:1", 2.0)
	snap := index.Snapshot()

	index.SetFactor("1:1", 3.0)
	if got := snap.Factor("1:1", 5); got != 2.0 {
		t.Fatalf("expected snapshot isolated from later writes, got %f", got)
	}
	if index.Version() <= snap.Version {
		t.Fatalf("expected version to advance, got %d then %d", snap.Version, index.Version())
	}
}

func TestTrafficIndexClearsFreeFlow(t *testing.T) {
	index := NewTrafficIndex()
	index.SetFactor("2:2", 2.5)
	index.SetFactor("2:2", 1.0)
	snap := index.Snapshot()
	if len(snap.Factors) != 0 {
		t.Fatalf("expected free-flow factor to clear entry, got %v", snap.Factors)
	}
}
