// Package metrics defines the pluggable counter/gauge sink the aggregator
// reports catalog and subscriber statistics through. The in-memory
// implementation is grounded on the teacher's atomic counter fields on
// Room (totalDatagrams, totalBytes, skippedDatagrams, read via Stats()) —
// generalized from fixed fields to a per-boss map, since the aggregator's
// gauges are keyed by boss name rather than being a handful of globals.
package metrics

import "sync"

// Sink is the capability the aggregator reports statistics through. All
// methods must be safe to call from the aggregator's single goroutine;
// implementations that export to another system (logging, Prometheus) are
// responsible for their own internal synchronization.
type Sink interface {
	SetTotalSubscribers(n int)
	SetFollowers(bossName string, n int)
	IncTweet(bossName string)
	RemoveBoss(bossName string)
	Export() Snapshot
}

// Snapshot is a point-in-time export of the sink's state.
type Snapshot struct {
	TotalSubscribers int            `json:"total_subscribers"`
	Followers        map[string]int `json:"followers"`
	TweetCounts      map[string]int `json:"tweet_counts"`
}

// NoOp discards every update. Useful when the caller has no interest in
// metrics at all.
type NoOp struct{}

func (NoOp) SetTotalSubscribers(int)        {}
func (NoOp) SetFollowers(string, int)       {}
func (NoOp) IncTweet(string)                {}
func (NoOp) RemoveBoss(string)              {}
func (NoOp) Export() Snapshot               { return Snapshot{} }

// InMemory is a simple thread-safe sink suitable for exposing via an HTTP
// endpoint or periodic log line. It may be read concurrently with the
// aggregator's writes (Export takes its own lock), unlike the aggregator's
// own catalog state.
type InMemory struct {
	mu               sync.Mutex
	totalSubscribers int
	followers        map[string]int
	tweetCounts      map[string]int
}

// NewInMemory constructs an empty in-memory sink.
func NewInMemory() *InMemory {
	return &InMemory{
		followers:   make(map[string]int),
		tweetCounts: make(map[string]int),
	}
}

func (m *InMemory) SetTotalSubscribers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSubscribers = n
}

func (m *InMemory) SetFollowers(bossName string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		delete(m.followers, bossName)
		return
	}
	m.followers[bossName] = n
}

func (m *InMemory) IncTweet(bossName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tweetCounts[bossName]++
}

func (m *InMemory) RemoveBoss(bossName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.followers, bossName)
	delete(m.tweetCounts, bossName)
}

func (m *InMemory) Export() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		TotalSubscribers: m.totalSubscribers,
		Followers:        make(map[string]int, len(m.followers)),
		TweetCounts:      make(map[string]int, len(m.tweetCounts)),
	}
	for k, v := range m.followers {
		snap.Followers[k] = v
	}
	for k, v := range m.tweetCounts {
		snap.TweetCounts[k] = v
	}
	return snap
}
