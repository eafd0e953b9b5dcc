package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
// It is the union of the per-package sink interfaces, so one value can be
// handed to every component.
type Sink interface {
	// Watcher metrics
	EventObserved(kind, source string)
	EventDeduped(kind string)
	HandleError(kind string)

	// Provisioner metrics
	ChannelProvisioned(kind string)
	ProvisionSkipped(kind string)
	ProvisionFailed(kind string)

	// Queue metrics
	QueueDepthUpdate(depth int)
	TaskOutcome(outcome string)
	TaskRetry()
	RateLimitPause(d time.Duration)

	// Reminder metrics
	ScanCompleted(duration time.Duration, fired int, err error)
	ReminderFired()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Leadership metrics
	LeaderStatusUpdate(leading bool)
}
