package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	PostsCreated           uint64
	PostsPublished         uint64
	FeedCacheHits          uint64
	FeedCacheMisses        uint64
	RateLimitDenied        map[string]uint64
	SubscribersConfirmed   uint64
	IssuesSent             map[string]uint64
	SendBatchCount         uint64
	SendBatchTotalSize     uint64
	SendBatchTotalDuration int64
	SocialDeliveries       map[string]uint64
	SocialQueueDepth       int64
}

// InMemoryRecorder stores metrics in memory for tests and the /metricz
// snapshot endpoint.
type InMemoryRecorder struct {
	postsCreated           uint64
	postsPublished         uint64
	feedCacheHits          uint64
	feedCacheMisses        uint64
	subscribersConfirmed   uint64
	sendBatchCount         uint64
	sendBatchTotalSize     uint64
	sendBatchTotalDuration int64
	socialQueueDepth       int64

	mu               sync.Mutex
	rateLimitDenied  map[string]uint64
	issuesSent       map[string]uint64
	socialDeliveries map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		rateLimitDenied:  make(map[string]uint64),
		issuesSent:       make(map[string]uint64),
		socialDeliveries: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	denied := copyMap(m.rateLimitDenied)
	issues := copyMap(m.issuesSent)
	social := copyMap(m.socialDeliveries)
	m.mu.Unlock()

	return Snapshot{
		PostsCreated:           atomic.LoadUint64(&m.postsCreated),
		PostsPublished:         atomic.LoadUint64(&m.postsPublished),
		FeedCacheHits:          atomic.LoadUint64(&m.feedCacheHits),
		FeedCacheMisses:        atomic.LoadUint64(&m.feedCacheMisses),
		RateLimitDenied:        denied,
		SubscribersConfirmed:   atomic.LoadUint64(&m.subscribersConfirmed),
		IssuesSent:             issues,
		SendBatchCount:         atomic.LoadUint64(&m.sendBatchCount),
		SendBatchTotalSize:     atomic.LoadUint64(&m.sendBatchTotalSize),
		SendBatchTotalDuration: atomic.LoadInt64(&m.sendBatchTotalDuration),
		SocialDeliveries:       social,
		SocialQueueDepth:       atomic.LoadInt64(&m.socialQueueDepth),
	}
}

// IncPostCreated increments the post created counter.
func (m *InMemoryRecorder) IncPostCreated() {
	atomic.AddUint64(&m.postsCreated, 1)
}

// IncPostPublished increments the post published counter.
func (m *InMemoryRecorder) IncPostPublished() {
	atomic.AddUint64(&m.postsPublished, 1)
}

// IncFeedCacheHit increments the feed cache hit counter.
func (m *InMemoryRecorder) IncFeedCacheHit() {
	atomic.AddUint64(&m.feedCacheHits, 1)
}

// IncFeedCacheMiss increments the feed cache miss counter.
func (m *InMemoryRecorder) IncFeedCacheMiss() {
	atomic.AddUint64(&m.feedCacheMisses, 1)
}

// IncRateLimitDenied increments the denial counter for a scope.
func (m *InMemoryRecorder) IncRateLimitDenied(scope string) {
	m.mu.Lock()
	m.rateLimitDenied[scope]++
	m.mu.Unlock()
}

// IncSubscriberConfirmed increments the confirmed subscriber counter.
func (m *InMemoryRecorder) IncSubscriberConfirmed() {
	atomic.AddUint64(&m.subscribersConfirmed, 1)
}

// IncIssueSent increments the issue outcome counter.
func (m *InMemoryRecorder) IncIssueSent(status string) {
	m.mu.Lock()
	m.issuesSent[status]++
	m.mu.Unlock()
}

// ObserveSendBatchSize records a newsletter batch size.
func (m *InMemoryRecorder) ObserveSendBatchSize(size int) {
	atomic.AddUint64(&m.sendBatchCount, 1)
	atomic.AddUint64(&m.sendBatchTotalSize, uint64(size))
}

// ObserveSendBatchDuration records a newsletter batch duration.
func (m *InMemoryRecorder) ObserveSendBatchDuration(duration time.Duration) {
	atomic.AddInt64(&m.sendBatchTotalDuration, duration.Nanoseconds())
}

// IncSocialDelivery increments the social delivery counter.
func (m *InMemoryRecorder) IncSocialDelivery(status string, network string) {
	m.mu.Lock()
	m.socialDeliveries[status+":"+network]++
	m.mu.Unlock()
}

// SetSocialQueueDepth records the current social queue depth.
func (m *InMemoryRecorder) SetSocialQueueDepth(depth int64) {
	atomic.StoreInt64(&m.socialQueueDepth, depth)
}

func copyMap(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
