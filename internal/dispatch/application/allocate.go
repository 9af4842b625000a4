package application

import (
	"time"

	"ambulance-cloud/internal/config"
	"ambulance-cloud/internal/dispatch/application/events"
	dispatch "ambulance-cloud/internal/dispatch/domain"
	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/observability/metrics"
	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/scoring"
)

// routeOrigin is the point transport time is measured from: the scene until
// pickup, the unit's live position once the patient is on board.
func (e *Engine) routeOrigin(em *dispatch.Emergency) geo.Point {
	if em.Status == dispatch.StatusEnRoute && em.AmbulanceID != "" {
		if amb, ok := e.store.Ambulance(em.AmbulanceID); ok && !amb.Location.IsZero() {
			return amb.Location
		}
	}
	return em.Location
}

func (e *Engine) estimate(origin, dest geo.Point) routing.Route {
	return routing.Estimate(origin, dest, e.traffic.Snapshot(), e.params.Routing)
}

// candidatesFor estimates transport from origin to every hospital against a
// single traffic snapshot, so one decision never mixes traffic versions.
func (e *Engine) candidatesFor(origin geo.Point, now time.Time) ([]scoring.Candidate, map[string]routing.Route) {
	hospitals := e.store.Hospitals()
	snap := e.traffic.Snapshot()
	cands := make([]scoring.Candidate, 0, len(hospitals))
	routes := make(map[string]routing.Route, len(hospitals))
	for _, h := range hospitals {
		r := routing.Estimate(origin, h.Location, snap, e.params.Routing)
		routes[h.ID] = r
		cands = append(cands, h.Candidate(r.ETA, now, e.params.Freshness))
	}
	return cands, routes
}

// pickAmbulance returns the idle unit with the shortest estimated run to the
// scene. Ties keep the lowest unit ID.
func (e *Engine) pickAmbulance(scene geo.Point) (*dispatch.Ambulance, bool) {
	snap := e.traffic.Snapshot()
	var (
		best     *dispatch.Ambulance
		bestETA  time.Duration
		foundAny bool
	)
	for _, a := range e.store.Ambulances() {
		if a.Busy() || a.Location.IsZero() {
			continue
		}
		eta := routing.Estimate(a.Location, scene, snap, e.params.Routing).ETA
		if !foundAny || eta < bestETA {
			best, bestETA, foundAny = a, eta, true
		}
	}
	return best, foundAny
}

// chooseHospital walks the decision ladder: full requirements, then relaxed
// mandatory, then plain nearest. Everything past the first rung flags the
// emergency for operator review.
func (e *Engine) chooseHospital(cands []scoring.Candidate, req scoring.Requirements) (*scoring.Score, []scoring.Score, string, bool) {
	ranked := scoring.Rank(cands, req, e.params.Weights)
	if len(ranked) > 0 {
		return &ranked[0], capScores(ranked, e.params.CandidateLimit), events.ReasonInitialAllocation, false
	}

	relaxed := scoring.Rank(cands, req.Relax(), e.params.Weights)
	if len(relaxed) > 0 {
		return &relaxed[0], capScores(relaxed, e.params.CandidateLimit), events.ReasonFallbackRelaxed, true
	}

	var nearest *scoring.Candidate
	for i := range cands {
		if nearest == nil || cands[i].ETA < nearest.ETA {
			nearest = &cands[i]
		}
	}
	if nearest == nil {
		return nil, nil, "", true
	}
	chosen, _ := scoring.Evaluate(*nearest, req, e.params.Weights)
	display := []scoring.Score{chosen}
	for i := range cands {
		if len(display) >= e.params.CandidateLimit {
			break
		}
		if cands[i].HospitalID == nearest.HospitalID {
			continue
		}
		s, _ := scoring.Evaluate(cands[i], req, e.params.Weights)
		display = append(display, s)
	}
	return &chosen, display, events.ReasonFallbackNearest, true
}

// tryAllocate assigns a reported emergency. Ambulance and hospital commit
// together or not at all; without an idle unit the emergency stays queued
// and is retried on the next availability event or sweep.
func (e *Engine) tryAllocate(em *dispatch.Emergency, now time.Time) []events.Notification {
	if em.Status != dispatch.StatusReported {
		return nil
	}
	amb, ok := e.pickAmbulance(em.Location)
	if !ok {
		e.logger.Printf("dispatch: no idle ambulance for %s, queued", em.ID)
		return nil
	}

	cands, routes := e.candidatesFor(em.Location, now)
	chosen, display, reason, review := e.chooseHospital(cands, em.Requirements)
	em.Candidates = display
	if chosen == nil {
		if !em.NeedsReview {
			em.NeedsReview = true
			e.logger.Printf("dispatch: no hospital for %s, flagged for review", em.ID)
		}
		e.store.PutEmergency(em)
		return nil
	}

	hosp, ok := e.store.Hospital(chosen.HospitalID)
	if !ok {
		e.logger.Printf("dispatch: %v", dispatch.NewInvariantViolation("allocate", "scored hospital %s missing", chosen.HospitalID))
		return nil
	}
	if err := em.Assign(amb.ID, hosp.ID, chosen.Total, now); err != nil {
		e.logger.Printf("dispatch: %v", err)
		return nil
	}
	if err := amb.Dispatch(em.ID); err != nil {
		e.logger.Printf("dispatch: %v", err)
		return nil
	}
	hosp.Reserve()

	route := routes[hosp.ID]
	em.Route = &route
	em.NeedsReview = review

	e.store.PutEmergency(em)
	e.store.PutAmbulance(amb)
	e.store.PutHospital(hosp)
	metrics.IncAllocation(reason)

	return []events.Notification{{
		Kind:         events.NotifyAssignmentChanged,
		EmergencyID:  em.ID,
		OccurredAt:   now,
		AmbulanceID:  amb.ID,
		HospitalID:   hosp.ID,
		HospitalName: hosp.Name,
		Reason:       reason,
		EtaMinutes:   route.ETAMinutes(),
	}}
}

// reviseAssignment re-evaluates a committed choice. An eligible challenger
// must clear the switch margin; a committed hospital that has itself become
// ineligible is displaced without one. Pinned assignments are never touched.
func (e *Engine) reviseAssignment(em *dispatch.Emergency, now time.Time, cause string) []events.Notification {
	if em.Pinned || !em.Assigned() {
		return nil
	}
	if em.Status != dispatch.StatusAssigned && em.Status != dispatch.StatusEnRoute {
		return nil
	}

	origin := e.routeOrigin(em)
	cands, routes := e.candidatesFor(origin, now)

	var curScore scoring.Score
	curOK := false
	for i := range cands {
		if cands[i].HospitalID == em.HospitalID {
			curScore, curOK = scoring.Evaluate(cands[i], em.Requirements, e.params.Weights)
			break
		}
	}

	ranked := scoring.Rank(cands, em.Requirements, e.params.Weights)
	em.Candidates = capScores(ranked, e.params.CandidateLimit)

	var best *scoring.Score
	if len(ranked) > 0 {
		best = &ranked[0]
	}

	switchReason := ""
	if best != nil && best.HospitalID != em.HospitalID {
		switch {
		case !curOK && cause == events.ReasonRiskUpgrade:
			switchReason = events.ReasonRiskUpgrade
		case !curOK:
			switchReason = events.ReasonHospitalUnavailable
		case best.Total > curScore.Total+e.params.SwitchMargin:
			switchReason = events.ReasonBetterOption
		}
	}

	if switchReason == "" {
		em.HospitalScore = curScore.Total
		if curOK && em.NeedsReview {
			em.NeedsReview = false
		}
		var notes []events.Notification
		if route, ok := routes[em.HospitalID]; ok {
			if note := refreshRoute(em, route, now, e.params); note != nil {
				notes = append(notes, *note)
			}
		}
		e.store.PutEmergency(em)
		return notes
	}

	prevID := em.HospitalID
	next, ok := e.store.Hospital(best.HospitalID)
	if !ok {
		return nil
	}
	if err := em.Reassign(best.HospitalID, best.Total); err != nil {
		e.logger.Printf("dispatch: %v", err)
		return nil
	}
	if prev, ok := e.store.Hospital(prevID); ok {
		prev.ReleaseReservation()
		e.store.PutHospital(prev)
	}
	next.Reserve()
	e.store.PutHospital(next)

	route := routes[best.HospitalID]
	em.Route = &route
	em.NeedsReview = false
	e.store.PutEmergency(em)
	metrics.IncReallocation(switchReason)

	return []events.Notification{{
		Kind:           events.NotifyAssignmentChanged,
		EmergencyID:    em.ID,
		OccurredAt:     now,
		AmbulanceID:    em.AmbulanceID,
		HospitalID:     next.ID,
		HospitalName:   next.Name,
		PrevHospitalID: prevID,
		Reason:         switchReason,
		EtaMinutes:     route.ETAMinutes(),
	}}
}

// refreshRoute replaces the published route only when the new estimate moves
// past the hysteresis gate, so traffic jitter cannot flood subscribers. The
// published route doubles as the comparison baseline.
func refreshRoute(em *dispatch.Emergency, next routing.Route, now time.Time, p config.Params) *events.Notification {
	if em.Route == nil {
		em.Route = &next
		return nil
	}
	prev := em.Route.ETA
	delta := next.ETA - prev
	if delta < 0 {
		delta = -delta
	}
	gate := p.EtaHysteresisFloor
	if pct := time.Duration(float64(prev) * p.EtaHysteresisPct); pct > gate {
		gate = pct
	}
	if delta < gate {
		return nil
	}
	prevMinutes := em.Route.ETAMinutes()
	em.Route = &next
	return &events.Notification{
		Kind:           events.NotifyRouteRecomputed,
		EmergencyID:    em.ID,
		OccurredAt:     now,
		HospitalID:     em.HospitalID,
		EtaMinutes:     next.ETAMinutes(),
		PrevEtaMinutes: prevMinutes,
	}
}

func capScores(scores []scoring.Score, limit int) []scoring.Score {
	if limit <= 0 || len(scores) <= limit {
		return scores
	}
	return scores[:limit:limit]
}
