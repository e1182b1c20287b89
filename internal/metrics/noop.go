package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncPostCreated is a no-op.
func (n *NoopRecorder) IncPostCreated() {}

// IncPostPublished is a no-op.
func (n *NoopRecorder) IncPostPublished() {}

// IncFeedCacheHit is a no-op.
func (n *NoopRecorder) IncFeedCacheHit() {}

// IncFeedCacheMiss is a no-op.
func (n *NoopRecorder) IncFeedCacheMiss() {}

// IncRateLimitDenied is a no-op.
func (n *NoopRecorder) IncRateLimitDenied(scope string) {}

// IncSubscriberConfirmed is a no-op.
func (n *NoopRecorder) IncSubscriberConfirmed() {}

// IncIssueSent is a no-op.
func (n *NoopRecorder) IncIssueSent(status string) {}

// ObserveSendBatchSize is a no-op.
func (n *NoopRecorder) ObserveSendBatchSize(size int) {}

// ObserveSendBatchDuration is a no-op.
func (n *NoopRecorder) ObserveSendBatchDuration(duration time.Duration) {}

// IncSocialDelivery is a no-op.
func (n *NoopRecorder) IncSocialDelivery(status string, network string) {}

// SetSocialQueueDepth is a no-op.
func (n *NoopRecorder) SetSocialQueueDepth(depth int64) {}
