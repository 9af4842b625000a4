package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ambulance-cloud/internal/config"
	"ambulance-cloud/internal/dispatch/application/events"
	dispatch "ambulance-cloud/internal/dispatch/domain"
	"ambulance-cloud/internal/dispatch/infrastructure/memory"
	"ambulance-cloud/internal/observability/metrics"
	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/scoring"
	"ambulance-cloud/internal/triage"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Notifier consumes decision notifications. Notify is called sequentially in
// decision order; implementations must not reorder.
type Notifier interface {
	Notify(ctx context.Context, n events.Notification)
}

// Archiver persists terminal emergencies.
type Archiver interface {
	Archive(ctx context.Context, e *dispatch.Emergency) error
}

// ErrQueueFull rejects intake when the queue is saturated. Callers decide
// whether to retry, drop or surface the rejection.
var ErrQueueFull = errors.New("dispatch: intake queue full")

// Engine owns the decision state. All mutations flow through a single apply
// loop, so no event ever observes another event's partial effects; readers
// get immutable snapshots published after every applied event.
type Engine struct {
	store    *memory.Store
	traffic  *routing.TrafficIndex
	params   config.Params
	clock    Clock
	logger   *log.Logger
	notifier Notifier
	archiver Archiver

	intake   chan events.Event
	archive  chan *dispatch.Emergency
	snapshot atomic.Pointer[events.Snapshot]
	seq      uint64
}

// Option customizes the engine.
type Option func(*Engine)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithNotifier assigns a notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithArchiver assigns the terminal emergency archiver.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) {
		e.archiver = a
	}
}

// WithLogger assigns a logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine constructs the engine around a seeded store and traffic index.
func NewEngine(store *memory.Store, traffic *routing.TrafficIndex, params config.Params, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("dispatch: nil store")
	}
	if traffic == nil {
		return nil, errors.New("dispatch: nil traffic index")
	}
	defaults := config.Default()
	if params.QueueCapacity <= 0 {
		params.QueueCapacity = defaults.QueueCapacity
	}
	if params.ArchiveCapacity <= 0 {
		params.ArchiveCapacity = defaults.ArchiveCapacity
	}
	if params.VitalsHistory <= 0 {
		params.VitalsHistory = defaults.VitalsHistory
	}
	if params.CandidateLimit <= 0 {
		params.CandidateLimit = defaults.CandidateLimit
	}
	if params.Freshness <= 0 {
		params.Freshness = defaults.Freshness
	}
	e := &Engine{
		store:   store,
		traffic: traffic,
		params:  params,
		clock:   systemClock{},
		logger:  log.Default(),
		intake:  make(chan events.Event, params.QueueCapacity),
		archive: make(chan *dispatch.Emergency, params.ArchiveCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publishSnapshot(e.clock.Now())
	return e, nil
}

// Params returns the runtime parameters the engine decides with.
func (e *Engine) Params() config.Params { return e.params }

// Submit enqueues an event without blocking. A saturated queue is reported
// immediately so feeds can drop and console callers can back off.
func (e *Engine) Submit(evt events.Event) error {
	if evt == nil {
		return errors.New("dispatch: nil event")
	}
	select {
	case e.intake <- evt:
		metrics.SetQueueDepth(len(e.intake))
		return nil
	default:
		metrics.IncEventDropped(evt.Kind())
		return ErrQueueFull
	}
}

// Snapshot returns the latest consistent view. It never returns nil.
func (e *Engine) Snapshot() *events.Snapshot {
	return e.snapshot.Load()
}

// Run applies intake events one at a time until ctx is cancelled. The
// archive drain runs alongside and is flushed before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.archiveLoop(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-e.intake:
			e.apply(ctx, evt)
			metrics.SetQueueDepth(len(e.intake))
		}
	}
}

// apply runs one event to completion: mutate state, publish the snapshot,
// flush notifications in decision order, then answer the caller.
func (e *Engine) apply(ctx context.Context, evt events.Event) {
	started := time.Now()
	now := e.clock.Now()

	var (
		reply chan<- events.Result
		id    string
		notes []events.Notification
		err   error
	)
	switch ev := evt.(type) {
	case events.CreateEmergency:
		reply = ev.Reply
		id, notes, err = e.applyCreate(ev, now)
	case events.VitalsUpdate:
		id = ev.EmergencyID
		notes, err = e.applyVitals(ev, now)
	case events.LocationUpdate:
		notes, err = e.applyLocation(ev, now)
	case events.HospitalStatusUpdate:
		notes, err = e.applyHospitalStatus(ev, now)
	case events.TrafficUpdate:
		notes, err = e.applyTraffic(ev, now)
	case events.Acknowledge:
		reply, id = ev.Reply, ev.EmergencyID
		err = e.applyAcknowledge(ev, now)
	case events.MarkArrived:
		reply, id = ev.Reply, ev.EmergencyID
		err = e.applyArrived(ev, now)
	case events.CloseEmergency:
		reply, id = ev.Reply, ev.EmergencyID
		notes, err = e.applyClose(ev, now)
	case events.CancelEmergency:
		reply, id = ev.Reply, ev.EmergencyID
		notes, err = e.applyCancel(ev, now)
	case events.ManualOverride:
		reply, id = ev.Reply, ev.EmergencyID
		notes, err = e.applyOverride(ev, now)
	case events.Sweep:
		notes = e.applySweep(now)
	default:
		err = dispatch.NewInvariantViolation("apply", "unhandled event type %T", evt)
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		e.logger.Printf("dispatch: apply %s: %v", evt.Kind(), err)
	}
	metrics.ObserveEvent(evt.Kind(), result, time.Since(started))

	e.seq++
	e.publishSnapshot(now)

	for _, n := range notes {
		metrics.IncNotification(n.Kind)
		if e.notifier != nil {
			e.notifier.Notify(ctx, n)
		}
	}

	if reply != nil {
		res := events.Result{Err: err}
		if id != "" {
			if snap := e.snapshot.Load(); snap != nil {
				if view, ok := snap.Emergency(id); ok {
					res.Emergency = &view
				}
			}
		}
		select {
		case reply <- res:
		default:
		}
	}
}

func (e *Engine) applyCreate(ev events.CreateEmergency, now time.Time) (string, []events.Notification, error) {
	id := ev.EmergencyID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := e.store.Emergency(id); exists {
		return id, nil, dispatch.NewValidationError("emergency_id", "duplicate id %s", id)
	}
	em, err := dispatch.NewEmergency(id, ev.Location, ev.Condition, now)
	if err != nil {
		return id, nil, err
	}

	notes := []events.Notification{{
		Kind:        events.NotifyEmergencyCreated,
		EmergencyID: id,
		OccurredAt:  now,
		Status:      string(dispatch.StatusReported),
	}}

	if ev.Vitals != nil {
		if err := ev.Vitals.Validate(); err != nil {
			return id, nil, err
		}
		v := *ev.Vitals
		if v.TakenAt.IsZero() {
			v.TakenAt = now
		}
		em.RecordVitals(v, e.params.VitalsHistory)
		em.Assessment = triage.Assess(v, e.params.Thresholds)
		if em.Assessment.Escalated(nil) {
			notes = append(notes, riskNote(em, "", now))
			metrics.IncEscalation(string(em.Assessment.Risk))
		}
		em.Requirements = scoring.DeriveRequirements(em.Condition, em.Assessment.Risk, em.Assessment.Predicted)
	}

	e.store.PutEmergency(em)
	notes = append(notes, e.tryAllocate(em, now)...)
	return id, notes, nil
}

func (e *Engine) applyVitals(ev events.VitalsUpdate, now time.Time) ([]events.Notification, error) {
	em, ok := e.store.Emergency(ev.EmergencyID)
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	if em.Status.Terminal() {
		return nil, dispatch.ErrTerminalState
	}
	if err := ev.Vitals.Validate(); err != nil {
		return nil, err
	}

	v := ev.Vitals
	if v.TakenAt.IsZero() {
		v.TakenAt = now
	}
	em.RecordVitals(v, e.params.VitalsHistory)

	prev := em.Assessment
	em.Assessment = triage.Assess(v, e.params.Thresholds)

	escalated := false
	if prev.Risk != "" {
		escalated = em.Assessment.Escalated(&prev)
	} else {
		escalated = em.Assessment.Escalated(nil)
	}

	var notes []events.Notification
	if escalated {
		notes = append(notes, riskNote(em, prev.Risk, now))
		metrics.IncEscalation(string(em.Assessment.Risk))
	}

	before := em.Requirements
	em.Requirements = scoring.DeriveRequirements(em.Condition, em.Assessment.Risk, em.Assessment.Predicted)
	e.store.PutEmergency(em)

	if escalated || !requirementsEqual(before, em.Requirements) {
		cause := ""
		if escalated {
			cause = events.ReasonRiskUpgrade
		}
		notes = append(notes, e.reviseAssignment(em, now, cause)...)
	}
	return notes, nil
}

func (e *Engine) applyLocation(ev events.LocationUpdate, now time.Time) ([]events.Notification, error) {
	at := ev.At
	if at.IsZero() {
		at = now
	}
	amb, ok := e.store.Ambulance(ev.AmbulanceID)
	if !ok {
		if ev.AmbulanceID == "" {
			return nil, dispatch.NewValidationError("ambulance_id", "empty ambulance id")
		}
		// Units self-register through telemetry, mirroring how crews come
		// online in the field.
		registered, err := dispatch.NewAmbulance(ev.AmbulanceID, "", ev.Location, at)
		if err != nil {
			return nil, err
		}
		e.store.PutAmbulance(registered)
		e.logger.Printf("dispatch: registered ambulance %s from telemetry", ev.AmbulanceID)
		return nil, nil
	}

	if err := amb.MoveTo(ev.Location, at); err != nil {
		return nil, err
	}
	e.store.PutAmbulance(amb)

	if amb.EmergencyID == "" {
		return nil, nil
	}
	em, ok := e.store.Emergency(amb.EmergencyID)
	if !ok || em.Status != dispatch.StatusEnRoute {
		// Until pickup the transport leg starts at the scene, so unit
		// movement does not shift the decision inputs.
		return nil, nil
	}
	return e.reviseAssignment(em, now, ""), nil
}

func (e *Engine) applyHospitalStatus(ev events.HospitalStatusUpdate, now time.Time) ([]events.Notification, error) {
	h, ok := e.store.Hospital(ev.HospitalID)
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	at := ev.At
	if at.IsZero() {
		at = now
	}
	if err := h.ApplyReport(ev.BedsAvailable, ev.ERLoad, at); err != nil {
		return nil, err
	}
	e.store.PutHospital(h)

	var notes []events.Notification
	for _, em := range e.store.Emergencies() {
		switch em.Status {
		case dispatch.StatusReported:
			notes = append(notes, e.tryAllocate(em, now)...)
		case dispatch.StatusAssigned, dispatch.StatusEnRoute:
			notes = append(notes, e.reviseAssignment(em, now, "")...)
		}
	}
	return notes, nil
}

func (e *Engine) applyTraffic(ev events.TrafficUpdate, now time.Time) ([]events.Notification, error) {
	touched := false
	if ev.SegmentID != "" && ev.Factor > 0 {
		e.traffic.SetFactor(ev.SegmentID, ev.Factor)
		touched = true
	}
	if ev.Incident != nil {
		if ev.Incident.ID == "" || !ev.Incident.Location.Valid() {
			return nil, dispatch.NewValidationError("incident", "missing id or invalid location")
		}
		e.traffic.SetIncident(*ev.Incident)
		touched = true
	}
	if ev.ClearIncidentID != "" {
		e.traffic.ClearIncident(ev.ClearIncidentID)
		touched = true
	}
	if !touched {
		return nil, dispatch.NewValidationError("traffic", "empty update")
	}

	var notes []events.Notification
	for _, em := range e.store.Emergencies() {
		if em.Status != dispatch.StatusAssigned && em.Status != dispatch.StatusEnRoute {
			continue
		}
		notes = append(notes, e.reviseAssignment(em, now, "")...)
	}
	return notes, nil
}

func (e *Engine) applyAcknowledge(ev events.Acknowledge, now time.Time) error {
	em, ok := e.store.Emergency(ev.EmergencyID)
	if !ok {
		return dispatch.ErrNotFound
	}
	if ev.AmbulanceID != "" && ev.AmbulanceID != em.AmbulanceID {
		return dispatch.NewValidationError("ambulance_id", "ambulance %s is not assigned to %s", ev.AmbulanceID, em.ID)
	}
	if err := em.MarkEnRoute(now); err != nil {
		return err
	}
	if amb, ok := e.store.Ambulance(em.AmbulanceID); ok {
		if err := amb.BeginTransport(); err != nil {
			e.logger.Printf("dispatch: %v", err)
		} else {
			e.store.PutAmbulance(amb)
		}
	}
	e.store.PutEmergency(em)
	return nil
}

func (e *Engine) applyArrived(ev events.MarkArrived, now time.Time) error {
	em, ok := e.store.Emergency(ev.EmergencyID)
	if !ok {
		return dispatch.ErrNotFound
	}
	if err := em.MarkArrived(now); err != nil {
		return err
	}
	if amb, ok := e.store.Ambulance(em.AmbulanceID); ok {
		amb.Release()
		e.store.PutAmbulance(amb)
	}
	if h, ok := e.store.Hospital(em.HospitalID); ok {
		h.ReleaseReservation()
		e.store.PutHospital(h)
	}
	e.store.PutEmergency(em)
	return nil
}

func (e *Engine) applyClose(ev events.CloseEmergency, now time.Time) ([]events.Notification, error) {
	em, ok := e.store.Emergency(ev.EmergencyID)
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	if err := em.Close(now); err != nil {
		return nil, err
	}
	e.enqueueArchive(em)
	e.store.RemoveEmergency(em.ID)
	return []events.Notification{{
		Kind:        events.NotifyEmergencyClosed,
		EmergencyID: em.ID,
		OccurredAt:  now,
		Status:      string(dispatch.StatusClosed),
	}}, nil
}

func (e *Engine) applyCancel(ev events.CancelEmergency, now time.Time) ([]events.Notification, error) {
	em, ok := e.store.Emergency(ev.EmergencyID)
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	if err := em.Cancel(now); err != nil {
		return nil, err
	}
	if amb, ok := e.store.Ambulance(em.AmbulanceID); ok && amb.EmergencyID == em.ID {
		amb.Release()
		e.store.PutAmbulance(amb)
	}
	if h, ok := e.store.Hospital(em.HospitalID); ok {
		h.ReleaseReservation()
		e.store.PutHospital(h)
	}
	e.enqueueArchive(em)
	e.store.RemoveEmergency(em.ID)
	return []events.Notification{{
		Kind:        events.NotifyEmergencyClosed,
		EmergencyID: em.ID,
		OccurredAt:  now,
		Status:      string(dispatch.StatusCancelled),
		Reason:      ev.Reason,
	}}, nil
}

func (e *Engine) applyOverride(ev events.ManualOverride, now time.Time) ([]events.Notification, error) {
	em, ok := e.store.Emergency(ev.EmergencyID)
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	h, ok := e.store.Hospital(ev.HospitalID)
	if !ok {
		return nil, dispatch.ErrNotFound
	}

	prevHospital := em.HospitalID
	origin := e.routeOrigin(em)
	route := e.estimate(origin, h.Location)
	cand := h.Candidate(route.ETA, now, e.params.Freshness)
	// The operator may pick an ineligible hospital; the score is recorded
	// for display, not enforced.
	score, _ := scoring.Evaluate(cand, em.Requirements, e.params.Weights)

	if err := em.Pin(ev.HospitalID, score.Total); err != nil {
		return nil, err
	}
	e.logger.Printf("dispatch: override: emergency=%s hospital=%s operator=%s reason=%s", em.ID, h.ID, ev.Operator, ev.Reason)
	if em.Requirements.Mandatory && !h.HasCapability(em.Requirements.Specialty) {
		e.logger.Printf("dispatch: override pins %s for %s without mandatory %s", h.ID, em.ID, em.Requirements.Specialty)
	}
	em.Route = &route
	em.NeedsReview = false

	if prevHospital != "" && prevHospital != ev.HospitalID {
		if prev, ok := e.store.Hospital(prevHospital); ok {
			prev.ReleaseReservation()
			e.store.PutHospital(prev)
		}
		h.Reserve()
		e.store.PutHospital(h)
	}
	e.store.PutEmergency(em)
	metrics.IncReallocation(events.ReasonManualOverride)

	if prevHospital == ev.HospitalID {
		return nil, nil
	}
	return []events.Notification{{
		Kind:           events.NotifyAssignmentChanged,
		EmergencyID:    em.ID,
		OccurredAt:     now,
		AmbulanceID:    em.AmbulanceID,
		HospitalID:     h.ID,
		HospitalName:   h.Name,
		PrevHospitalID: prevHospital,
		Reason:         events.ReasonManualOverride,
		EtaMinutes:     route.ETAMinutes(),
	}}, nil
}

func (e *Engine) applySweep(now time.Time) []events.Notification {
	var notes []events.Notification
	for _, em := range e.store.Emergencies() {
		switch em.Status {
		case dispatch.StatusReported:
			notes = append(notes, e.tryAllocate(em, now)...)
		case dispatch.StatusAssigned, dispatch.StatusEnRoute:
			notes = append(notes, e.reviseAssignment(em, now, "")...)
		}
	}
	return notes
}

func (e *Engine) enqueueArchive(em *dispatch.Emergency) {
	select {
	case e.archive <- em:
	default:
		metrics.IncArchive(metrics.ResultDropped)
		e.logger.Printf("dispatch: archive queue full, dropping record for %s", em.ID)
	}
}

func (e *Engine) archiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case em := <-e.archive:
					e.archiveOne(context.Background(), em)
				default:
					return
				}
			}
		case em := <-e.archive:
			e.archiveOne(ctx, em)
		}
	}
}

func (e *Engine) archiveOne(ctx context.Context, em *dispatch.Emergency) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.Archive(ctx, em); err != nil {
		metrics.IncArchive(metrics.ResultError)
		e.logger.Printf("dispatch: archive %s: %v", em.ID, err)
		return
	}
	metrics.IncArchive(metrics.ResultSuccess)
}

func (e *Engine) publishSnapshot(now time.Time) {
	snap := &events.Snapshot{
		Seq:     e.seq,
		TakenAt: now,
		Traffic: e.traffic.Snapshot(),
	}
	snap.TrafficVersion = snap.Traffic.Version

	counts := make(map[dispatch.Status]int)
	for _, em := range e.store.Emergencies() {
		snap.Emergencies = append(snap.Emergencies, e.viewOfEmergency(em))
		counts[em.Status]++
	}
	for _, st := range []dispatch.Status{dispatch.StatusReported, dispatch.StatusAssigned, dispatch.StatusEnRoute, dispatch.StatusArrived} {
		metrics.SetActiveEmergencies(string(st), counts[st])
	}

	stale := 0
	for _, h := range e.store.Hospitals() {
		view := viewOfHospital(h, now, e.params.Freshness)
		if !view.Fresh {
			stale++
		}
		snap.Hospitals = append(snap.Hospitals, view)
	}
	metrics.SetStaleHospitals(stale)

	for _, a := range e.store.Ambulances() {
		snap.Ambulances = append(snap.Ambulances, viewOfAmbulance(a))
	}

	e.snapshot.Store(snap)
}

func (e *Engine) viewOfEmergency(em *dispatch.Emergency) events.EmergencyView {
	view := events.EmergencyView{
		ID:            em.ID,
		Status:        string(em.Status),
		Location:      em.Location,
		Condition:     em.Condition,
		Risk:          em.Assessment.Risk,
		Flags:         em.Assessment.Flags,
		Predicted:     em.Assessment.Predicted,
		Vitals:        em.Vitals,
		AmbulanceID:   em.AmbulanceID,
		HospitalID:    em.HospitalID,
		HospitalScore: em.HospitalScore,
		Candidates:    em.Candidates,
		Route:         em.Route,
		Pinned:        em.Pinned,
		NeedsReview:   em.NeedsReview,
		ReportedAt:    em.ReportedAt,
		AssignedAt:    em.AssignedAt,
		EnRouteAt:     em.EnRouteAt,
		ArrivedAt:     em.ArrivedAt,
		ClosedAt:      em.ClosedAt,
	}
	if em.HospitalID != "" {
		if h, ok := e.store.Hospital(em.HospitalID); ok {
			view.HospitalName = h.Name
		}
	}
	return view
}

func viewOfHospital(h *dispatch.Hospital, now time.Time, window time.Duration) events.HospitalView {
	return events.HospitalView{
		ID:            h.ID,
		Name:          h.Name,
		Location:      h.Location,
		Capabilities:  h.Capabilities,
		Equipment:     h.Equipment,
		BedsTotal:     h.BedsTotal,
		BedsAvailable: h.Available(),
		Reserved:      h.Reserved,
		ERLoad:        h.ERLoad,
		Fresh:         h.Fresh(now, window),
		LastReport:    h.LastReport,
	}
}

func viewOfAmbulance(a *dispatch.Ambulance) events.AmbulanceView {
	return events.AmbulanceView{
		ID:          a.ID,
		Callsign:    a.Callsign,
		Status:      string(a.Status),
		Location:    a.Location,
		EmergencyID: a.EmergencyID,
		LastSeen:    a.LastSeen,
	}
}

func riskNote(em *dispatch.Emergency, prev triage.RiskLevel, now time.Time) events.Notification {
	return events.Notification{
		Kind:        events.NotifyRiskEscalated,
		EmergencyID: em.ID,
		OccurredAt:  now,
		Risk:        string(em.Assessment.Risk),
		PrevRisk:    string(prev),
	}
}

func requirementsEqual(a, b scoring.Requirements) bool {
	if a.Specialty != b.Specialty || a.Mandatory != b.Mandatory || len(a.Equipment) != len(b.Equipment) {
		return false
	}
	for i := range a.Equipment {
		if a.Equipment[i] != b.Equipment[i] {
			return false
		}
	}
	return true
}
