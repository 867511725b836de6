package httpapi

// streamSubscriber bridges the aggregator's synchronous Subscriber.Send
// call to a buffered channel drained by the streaming HTTP handler. A full
// channel is treated as "this subscriber cannot keep up" and reported as a
// send failure, which evicts it from every broadcast group it belongs to
// — the distilled specification's only backpressure mechanism.
type streamSubscriber struct {
	items chan any
}

func newStreamSubscriber() *streamSubscriber {
	return &streamSubscriber{items: make(chan any, 32)}
}

func (s *streamSubscriber) Send(item any) bool {
	select {
	case s.items <- item:
		return true
	default:
		return false
	}
}
