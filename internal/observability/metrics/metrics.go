package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "dispatch_"

	resultSuccess = "success"
	resultError   = "error"
	resultDropped = "dropped"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	eventsTotal   *prometheus.CounterVec
	eventLatency  *prometheus.HistogramVec
	eventsDropped *prometheus.CounterVec
	queueDepth    prometheus.Gauge

	allocationsTotal   *prometheus.CounterVec
	reallocationsTotal *prometheus.CounterVec
	escalationsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec

	activeEmergencies *prometheus.GaugeVec
	staleHospitals    prometheus.Gauge
	streamClients     *prometheus.GaugeVec

	archiveTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total applied intake events by kind and result",
			},
			[]string{"kind", "result"},
		)
		eventLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "event_apply_latency_seconds",
				Help:    "Event apply latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"kind"},
		)
		eventsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_dropped_total",
				Help: "Total events rejected at intake by kind",
			},
			[]string{"kind"},
		)
		queueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "intake_queue_depth",
				Help: "Events waiting in the intake queue",
			},
		)

		allocationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocations_total",
				Help: "Total hospital allocations by reason",
			},
			[]string{"reason"},
		)
		reallocationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reallocations_total",
				Help: "Total hospital switches by reason",
			},
			[]string{"reason"},
		)
		escalationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "risk_escalations_total",
				Help: "Total risk escalations by resulting level",
			},
			[]string{"risk"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total emitted notifications by kind",
			},
			[]string{"kind"},
		)

		activeEmergencies = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_emergencies",
				Help: "Emergencies in the working set by status",
			},
			[]string{"status"},
		)
		staleHospitals = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stale_hospitals",
				Help: "Hospitals whose capacity feed is outside the freshness window",
			},
		)
		streamClients = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_clients",
				Help: "Connected stream clients by transport",
			},
			[]string{"transport"},
		)

		archiveTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "archive_total",
				Help: "Total archived emergencies by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "handoff_export_total",
				Help: "Total handoff report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "handoff_export_latency_seconds",
				Help:    "Handoff report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			eventsTotal,
			eventLatency,
			eventsDropped,
			queueDepth,
			allocationsTotal,
			reallocationsTotal,
			escalationsTotal,
			notificationsTotal,
			activeEmergencies,
			staleHospitals,
			streamClients,
			archiveTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveEvent records one applied intake event.
func ObserveEvent(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(kind, result).Inc()
	}
	if eventLatency != nil {
		eventLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncEventDropped counts an event rejected at intake.
func IncEventDropped(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if eventsDropped != nil {
		eventsDropped.WithLabelValues(kind).Inc()
	}
}

// SetQueueDepth sets the intake queue depth.
func SetQueueDepth(depth int) {
	if queueDepth != nil {
		queueDepth.Set(float64(depth))
	}
}

// IncAllocation counts a hospital allocation.
func IncAllocation(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if allocationsTotal != nil {
		allocationsTotal.WithLabelValues(reason).Inc()
	}
}

// IncReallocation counts a hospital switch.
func IncReallocation(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if reallocationsTotal != nil {
		reallocationsTotal.WithLabelValues(reason).Inc()
	}
}

// IncEscalation counts a risk escalation.
func IncEscalation(risk string) {
	if risk == "" {
		risk = "unknown"
	}
	if escalationsTotal != nil {
		escalationsTotal.WithLabelValues(risk).Inc()
	}
}

// IncNotification counts an emitted notification.
func IncNotification(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(kind).Inc()
	}
}

// SetActiveEmergencies sets the working-set gauge for one status.
func SetActiveEmergencies(status string, count int) {
	if status == "" {
		status = "unknown"
	}
	if activeEmergencies != nil {
		activeEmergencies.WithLabelValues(status).Set(float64(count))
	}
}

// SetStaleHospitals sets the stale hospital gauge.
func SetStaleHospitals(count int) {
	if staleHospitals != nil {
		staleHospitals.Set(float64(count))
	}
}

// SetStreamClients sets the connected client gauge for one transport.
func SetStreamClients(transport string, count int) {
	if transport == "" {
		transport = "unknown"
	}
	if streamClients != nil {
		streamClients.WithLabelValues(transport).Set(float64(count))
	}
}

// IncArchive counts one archive attempt.
func IncArchive(result string) {
	if result == "" {
		result = resultSuccess
	}
	if archiveTotal != nil {
		archiveTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records handoff export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDropped = resultDropped
)
