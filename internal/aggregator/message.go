package aggregator

import "raidhub/internal/raid"

// Message is the internal tagged union handed to a MessageAdapter. Only one
// field is meaningful per value, selected by Kind. Slice/pointer fields
// alias the aggregator's own state for the duration of the synchronous
// adapter call — the adapter must not retain them past its return, the
// same "no queueing of messages with borrowed references" rule the
// distilled specification documents.
type Kind int

const (
	KindHeartbeat Kind = iota
	KindTweet
	KindTweetList
	KindBossUpdate
	KindBossList
	KindBossRemove
)

// Message is passed to the MessageAdapter synchronously from within an
// event handler.
type Message struct {
	Kind      Kind
	Tweet     *raid.Tweet
	Tweets    []raid.Tweet
	Boss      *raid.Boss
	Bosses    []raid.Boss
	BossName  string
}

// MessageAdapter converts an internal Message into an opaque item for
// delivery to subscribers. Returning ok=false means "skip this message" —
// no send occurs. Adapters run synchronously inside aggregator event
// handlers and must not block.
type MessageAdapter func(Message) (item any, ok bool)
