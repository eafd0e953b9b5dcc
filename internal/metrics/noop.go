package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventObserved(kind, source string)                         {}
func (n *NoopSink) EventDeduped(kind string)                                  {}
func (n *NoopSink) HandleError(kind string)                                   {}
func (n *NoopSink) ChannelProvisioned(kind string)                            {}
func (n *NoopSink) ProvisionSkipped(kind string)                              {}
func (n *NoopSink) ProvisionFailed(kind string)                               {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                {}
func (n *NoopSink) TaskOutcome(outcome string)                                {}
func (n *NoopSink) TaskRetry()                                                {}
func (n *NoopSink) RateLimitPause(d time.Duration)                            {}
func (n *NoopSink) ScanCompleted(duration time.Duration, fired int, e error)  {}
func (n *NoopSink) ReminderFired()                                            {}
func (n *NoopSink) BufferSizeUpdate(size int)                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                            {}
func (n *NoopSink) EmitError()                                                {}
func (n *NoopSink) LeaderStatusUpdate(leading bool)                           {}
