// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Content metrics
	IncPostCreated()
	IncPostPublished()
	IncFeedCacheHit()
	IncFeedCacheMiss()

	// Rate limiting metrics
	IncRateLimitDenied(scope string) // scope: "api" or "public"

	// Newsletter pipeline metrics
	IncSubscriberConfirmed()
	IncIssueSent(status string) // status: "sent" or "failed"
	ObserveSendBatchSize(size int)
	ObserveSendBatchDuration(duration time.Duration)

	// Social cross-posting metrics
	IncSocialDelivery(status string, network string)
	SetSocialQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
