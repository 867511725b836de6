package wtapi

// sessionSubscriber bridges the aggregator's synchronous Subscriber.Send
// call to a buffered channel drained by the per-session stream writer,
// mirroring httpapi's streamSubscriber. A full channel reports a send
// failure, evicting the session from every broadcast group it belongs to.
type sessionSubscriber struct {
	items chan any
}

func newSessionSubscriber() *sessionSubscriber {
	return &sessionSubscriber{items: make(chan any, 32)}
}

func (s *sessionSubscriber) Send(item any) bool {
	select {
	case s.items <- item:
		return true
	default:
		return false
	}
}
