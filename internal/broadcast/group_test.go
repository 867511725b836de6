package broadcast

import "testing"

type fakeSub struct {
	fail     bool
	received []string
}

func (f *fakeSub) Send(item string) bool {
	if f.fail {
		return false
	}
	f.received = append(f.received, item)
	return true
}

func TestSubscribeAndSend(t *testing.T) {
	g := New[int, string]()
	a := &fakeSub{}
	g.Subscribe(1, a)
	g.Send("hello")
	if len(a.received) != 1 || a.received[0] != "hello" {
		t.Fatalf("subscriber did not receive item: %+v", a)
	}
}

func TestEvictionOnFirstFailure(t *testing.T) {
	g := New[int, string]()
	bad := &fakeSub{fail: true}
	g.Subscribe(1, bad)
	evicted := g.Send("first")
	if g.Len() != 0 {
		t.Fatalf("len = %d, want 0 after eviction", g.Len())
	}
	if len(evicted) != 1 || evicted[0] != 1 {
		t.Fatalf("evicted = %v, want [1]", evicted)
	}
	evicted = g.Send("second")
	if len(bad.received) != 0 {
		t.Fatalf("evicted subscriber should not see later sends: %+v", bad)
	}
	if evicted != nil {
		t.Fatalf("evicted = %v, want nil on empty group", evicted)
	}
}

func TestUnsubscribe(t *testing.T) {
	g := New[int, string]()
	a := &fakeSub{}
	g.Subscribe(1, a)
	g.Unsubscribe(1)
	if !g.IsEmpty() {
		t.Fatalf("expected empty group after unsubscribe")
	}
}

func TestMerge(t *testing.T) {
	g1 := New[int, string]()
	g2 := New[int, string]()
	g1.Subscribe(1, &fakeSub{})
	g2.Subscribe(2, &fakeSub{})
	g1.Merge(g2)
	if g1.Len() != 2 {
		t.Fatalf("len = %d, want 2", g1.Len())
	}
}

func TestSendToSingleSubscriber(t *testing.T) {
	g := New[int, string]()
	a := &fakeSub{}
	b := &fakeSub{}
	g.Subscribe(1, a)
	g.Subscribe(2, b)
	existed, evicted := g.SendTo(1, "only-a")
	if !existed || evicted {
		t.Fatalf("existed = %v, evicted = %v, want true, false", existed, evicted)
	}
	if len(a.received) != 1 {
		t.Fatalf("a should have received item")
	}
	if len(b.received) != 0 {
		t.Fatalf("b should not have received item")
	}

	existed, evicted = g.SendTo(99, "missing")
	if existed || evicted {
		t.Fatalf("existed = %v, evicted = %v, want false, false for missing id", existed, evicted)
	}

	c := &fakeSub{fail: true}
	g.Subscribe(3, c)
	existed, evicted = g.SendTo(3, "fails")
	if !existed || !evicted {
		t.Fatalf("existed = %v, evicted = %v, want true, true for failing subscriber", existed, evicted)
	}
	if _, ok := g.Get(3); ok {
		t.Fatalf("subscriber 3 should have been evicted from group")
	}
}
