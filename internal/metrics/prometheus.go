package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Watcher metrics
	eventsObservedTotal *prometheus.CounterVec
	eventsDedupedTotal  *prometheus.CounterVec
	handleErrorsTotal   *prometheus.CounterVec

	// Provisioner metrics
	channelsProvisionedTotal *prometheus.CounterVec
	provisionsSkippedTotal   *prometheus.CounterVec
	provisionsFailedTotal    *prometheus.CounterVec

	// Queue metrics
	queueDepth          prometheus.Gauge
	taskOutcomesTotal   *prometheus.CounterVec
	taskRetriesTotal    prometheus.Counter
	rateLimitPauses     prometheus.Counter
	rateLimitPausedSecs prometheus.Counter

	// Reminder metrics
	scansTotal      prometheus.Counter
	scanErrorsTotal prometheus.Counter
	scanDuration    prometheus.Histogram
	remindersTotal  prometheus.Counter

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Leadership metrics
	leaderStatus prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initWatcherMetrics(reg)
	s.initProvisionMetrics(reg)
	s.initQueueMetrics(reg)
	s.initReminderMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initWatcherMetrics(reg prometheus.Registerer) {
	s.eventsObservedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phmcrelay_watcher_events_observed_total",
		Help: "Total number of record events observed, by kind and source.",
	}, []string{"kind", "source"})
	s.eventsDedupedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phmcrelay_watcher_events_deduped_total",
		Help: "Total number of record events dropped by the processed-set.",
	}, []string{"kind"})
	s.handleErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phmcrelay_watcher_handle_errors_total",
		Help: "Total number of record handler failures.",
	}, []string{"kind"})

	s.register(reg, s.eventsObservedTotal, "phmcrelay_watcher_events_observed_total")
	s.register(reg, s.eventsDedupedTotal, "phmcrelay_watcher_events_deduped_total")
	s.register(reg, s.handleErrorsTotal, "phmcrelay_watcher_handle_errors_total")
}

func (s *PrometheusSink) initProvisionMetrics(reg prometheus.Registerer) {
	s.channelsProvisionedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phmcrelay_provision_channels_total",
		Help: "Total number of channels created, by record kind.",
	}, []string{"kind"})
	s.provisionsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phmcrelay_provision_skipped_total",
		Help: "Total number of provisioning runs skipped by an existing marker.",
	}, []string{"kind"})
	s.provisionsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phmcrelay_provision_failed_total",
		Help: "Total number of provisioning failures.",
	}, []string{"kind"})

	s.register(reg, s.channelsProvisionedTotal, "phmcrelay_provision_channels_total")
	s.register(reg, s.provisionsSkippedTotal, "phmcrelay_provision_skipped_total")
	s.register(reg, s.provisionsFailedTotal, "phmcrelay_provision_failed_total")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phmcrelay_queue_depth",
		Help: "Current number of tasks waiting in the delivery queue.",
	})
	s.taskOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phmcrelay_queue_task_outcomes_total",
		Help: "Total number of final task outcomes.",
	}, []string{"outcome"})
	s.taskRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phmcrelay_queue_task_retries_total",
		Help: "Total number of task retries (excludes rate-limit re-inserts).",
	})
	s.rateLimitPauses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phmcrelay_queue_rate_limit_pauses_total",
		Help: "Total number of global rate-limit pauses.",
	})
	s.rateLimitPausedSecs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phmcrelay_queue_rate_limit_paused_seconds_total",
		Help: "Total seconds spent paused on rate limits.",
	})

	s.register(reg, s.queueDepth, "phmcrelay_queue_depth")
	s.register(reg, s.taskOutcomesTotal, "phmcrelay_queue_task_outcomes_total")
	s.register(reg, s.taskRetriesTotal, "phmcrelay_queue_task_retries_total")
	s.register(reg, s.rateLimitPauses, "phmcrelay_queue_rate_limit_pauses_total")
	s.register(reg, s.rateLimitPausedSecs, "phmcrelay_queue_rate_limit_paused_seconds_total")
}

func (s *PrometheusSink) initReminderMetrics(reg prometheus.Registerer) {
	s.scansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phmcrelay_reminder_scans_total",
		Help: "Total number of reminder window scans.",
	})
	s.scanErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phmcrelay_reminder_scan_errors_total",
		Help: "Total number of failed reminder scans.",
	})
	s.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phmcrelay_reminder_scan_duration_seconds",
		Help:    "Duration of each reminder scan in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
	s.remindersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phmcrelay_reminder_fired_total",
		Help: "Total number of appointments a reminder was fired for.",
	})

	s.register(reg, s.scansTotal, "phmcrelay_reminder_scans_total")
	s.register(reg, s.scanErrorsTotal, "phmcrelay_reminder_scan_errors_total")
	s.register(reg, s.scanDuration, "phmcrelay_reminder_scan_duration_seconds")
	s.register(reg, s.remindersTotal, "phmcrelay_reminder_fired_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phmcrelay_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phmcrelay_eventbus_buffer_capacity",
		Help: "Configured event bus buffer capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phmcrelay_eventbus_emit_errors_total",
		Help: "Total number of emit errors (context cancelled while full).",
	})

	s.register(reg, s.bufferSize, "phmcrelay_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "phmcrelay_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "phmcrelay_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phmcrelay_leader_status",
		Help: "1 when this instance holds the leader lock, 0 otherwise.",
	})

	s.register(reg, s.leaderStatus, "phmcrelay_leader_status")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Watcher metrics implementation

func (s *PrometheusSink) EventObserved(kind, source string) {
	s.eventsObservedTotal.WithLabelValues(kind, source).Inc()
}

func (s *PrometheusSink) EventDeduped(kind string) {
	s.eventsDedupedTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) HandleError(kind string) {
	s.handleErrorsTotal.WithLabelValues(kind).Inc()
}

// Provisioner metrics implementation

func (s *PrometheusSink) ChannelProvisioned(kind string) {
	s.channelsProvisionedTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) ProvisionSkipped(kind string) {
	s.provisionsSkippedTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) ProvisionFailed(kind string) {
	s.provisionsFailedTotal.WithLabelValues(kind).Inc()
}

// Queue metrics implementation

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) TaskOutcome(outcome string) {
	s.taskOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) TaskRetry() {
	s.taskRetriesTotal.Inc()
}

func (s *PrometheusSink) RateLimitPause(d time.Duration) {
	s.rateLimitPauses.Inc()
	s.rateLimitPausedSecs.Add(d.Seconds())
}

// Reminder metrics implementation

func (s *PrometheusSink) ScanCompleted(duration time.Duration, fired int, err error) {
	s.scansTotal.Inc()
	s.scanDuration.Observe(duration.Seconds())
	if err != nil {
		s.scanErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) ReminderFired() {
	s.remindersTotal.Inc()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Leadership metrics implementation

func (s *PrometheusSink) LeaderStatusUpdate(leading bool) {
	if leading {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}
