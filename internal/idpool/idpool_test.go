package idpool

import "testing"

func TestDistinctAllocations(t *testing.T) {
	p := New()
	seen := map[uint32]bool{}
	for i := 0; i < 10; i++ {
		id := p.Get()
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestLIFORecycle(t *testing.T) {
	p := New()
	a := p.Get()
	b := p.Get()
	_ = a
	p.Recycle(b)
	got := p.Get()
	if got != b {
		t.Fatalf("Get() after recycle = %d, want %d", got, b)
	}
}

func TestRecycleOrderIsLIFO(t *testing.T) {
	p := New()
	a := p.Get()
	b := p.Get()
	c := p.Get()
	p.Recycle(a)
	p.Recycle(b)
	p.Recycle(c)
	if got := p.Get(); got != c {
		t.Fatalf("first reuse = %d, want %d", got, c)
	}
	if got := p.Get(); got != b {
		t.Fatalf("second reuse = %d, want %d", got, b)
	}
	if got := p.Get(); got != a {
		t.Fatalf("third reuse = %d, want %d", got, a)
	}
}
