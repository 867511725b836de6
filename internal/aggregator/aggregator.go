// Package aggregator implements the stateful core of raidhub: a single
// goroutine that parses no data itself but owns the boss catalog and all
// subscriptions, multiplexing three input streams (parsed posts, control
// requests, hash pipeline results) with no locks. This is the direct
// generalization of the teacher's Room: where Room guards a
// map[uint16]*Client behind sync.RWMutex because many goroutines (one per
// connection) touch it concurrently, the aggregator instead gives every
// piece of state to exactly one goroutine and lets every other goroutine
// talk to it only through channels — per the single-owner concurrency
// model this system requires.
package aggregator

import (
	"context"
	"errors"
	"log/slog"

	"raidhub/internal/broadcast"
	"raidhub/internal/hashpipeline"
	"raidhub/internal/idpool"
	"raidhub/internal/metrics"
	"raidhub/internal/raid"
	"raidhub/internal/ringbuffer"
)

// ErrClosed is returned by Client/Subscription methods once the aggregator
// goroutine has stopped.
var ErrClosed = errors.New("aggregator: closed")

// Subscriber is the capability a downstream consumer implements to receive
// items. Send must be non-blocking; a false return evicts the subscriber
// from every group it belongs to. This is the Go realization of the
// distilled spec's opaque "subscriber capability".
type Subscriber interface {
	Send(item any) bool
}

type bossEntry struct {
	meta      raid.Metadata
	recent    *ringbuffer.Buffer[raid.Tweet]
	followers *broadcast.Group[uint32, any]
}

// Aggregator is the running core. Construct it with a Builder; obtain a
// Client to talk to it once Run has been started in its own goroutine.
type Aggregator struct {
	historySize int
	adapter     MessageAdapter
	metrics     metrics.Sink
	hashes      *hashpipeline.Pipeline

	postCh    <-chan raid.Info
	controlCh chan controlEvent

	// Owned exclusively by the goroutine running loop(); never touched
	// from any other goroutine.
	catalog    map[string]*bossEntry
	pending    map[string]*broadcast.Group[uint32, any]
	global     *broadcast.Group[uint32, any]
	refs       map[uint32]*subscriberRef
	ids        *idpool.Pool
	bossListOK bool
	bossList   any

	closed chan struct{}
	logger *slog.Logger
}

// Client is a cheap, shareable handle used to send requests to a running
// Aggregator. All methods are safe to call from any goroutine.
type Client struct {
	control chan<- controlEvent
	done    <-chan struct{}
}

// Client returns a shareable handle for talking to the aggregator. It may
// be called before Run starts; the returned Client becomes usable as soon
// as Run begins its event loop.
func (a *Aggregator) Client() Client {
	return a.newClient()
}

func (a *Aggregator) newClient() Client {
	return Client{control: a.controlCh, done: a.closed}
}

// send submits ev on the control channel, or returns ErrClosed if the
// aggregator has already stopped.
func (c Client) send(ev controlEvent) error {
	select {
	case c.control <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Heartbeat asks the aggregator to broadcast a heartbeat item to every
// global subscriber. The item is adapted afresh on each heartbeat; it is
// not cached. Fire-and-forget.
func (c Client) Heartbeat() error {
	return c.send(evHeartbeat{})
}

// Bosses returns a snapshot of every catalog entry.
func (c Client) Bosses() ([]raid.Boss, error) {
	reply := make(chan []raid.Boss, 1)
	if err := c.send(evGetBosses{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

// Tweets returns the current recent-tweet snapshot for boss.
func (c Client) Tweets(boss string) ([]raid.Tweet, error) {
	reply := make(chan []raid.Tweet, 1)
	if err := c.send(evGetTweets{boss: boss, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

// ExportMetadata returns every catalog entry's full metadata snapshot.
func (c Client) ExportMetadata() ([]raid.Metadata, error) {
	reply := make(chan []raid.Metadata, 1)
	if err := c.send(evExportMetadata{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

// ExportMetrics returns the metrics sink's export snapshot.
func (c Client) ExportMetrics() (any, error) {
	reply := make(chan any, 1)
	if err := c.send(evExportMetrics{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

// RemoveBosses removes every catalog entry matching pred. Fire-and-forget.
func (c Client) RemoveBosses(pred func(raid.Boss) bool) error {
	return c.send(evRemoveBosses{pred: pred})
}

// Subscribe registers sub as a new global subscriber and returns a
// Subscription handle. The caller must Close the subscription when done;
// Close automatically unfollows every boss and unsubscribes.
func (c Client) Subscribe(sub Subscriber) (*Subscription, error) {
	reply := make(chan *Subscription, 1)
	if err := c.send(evSubscribe{sub: sub, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

// Run starts the aggregator's event loop and blocks until ctx is canceled
// or the post stream terminates. It is intended to be called in its own
// goroutine; Client values obtained before or after Run starts are equally
// valid.
func (a *Aggregator) Run(ctx context.Context, postCh <-chan raid.Info, hashResults <-chan hashpipeline.Result) error {
	a.postCh = postCh
	defer close(a.closed)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case info, ok := <-postCh:
			if !ok {
				return errors.New("aggregator: upstream post stream closed")
			}
			a.handleNewRaid(info)

		case ev := <-a.controlCh:
			a.handleControl(ev)

		case res, ok := <-hashResults:
			if !ok {
				// Hash pipeline shutting down is not fatal to the loop.
				hashResults = nil
				continue
			}
			a.handleNewHash(res)
			if a.hashes != nil {
				a.hashes.MarkDelivered(res.BossName)
			}
		}
	}
}

func (a *Aggregator) adapt(msg Message) (any, bool) {
	if a.adapter == nil {
		return nil, false
	}
	return a.adapter(msg)
}

func (a *Aggregator) rebuildBossList() {
	bosses := make([]raid.Boss, 0, len(a.catalog))
	for _, e := range a.catalog {
		bosses = append(bosses, e.meta.Boss)
	}
	item, ok := a.adapt(Message{Kind: KindBossList, Bosses: bosses})
	a.bossList = item
	a.bossListOK = ok
}
