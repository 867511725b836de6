package ringbuffer

import (
	"sort"
	"testing"
)

func TestPushWithinCapacity(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 3; i++ {
		b.Push(i)
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	got := b.Snapshot()
	sort.Ints(got)
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", got, want)
		}
	}
}

func TestOverwriteOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 7; i++ {
		b.Push(i)
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	got := b.Snapshot()
	sort.Ints(got)
	want := []int{5, 6, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", got, want)
		}
	}
}

func TestNeverExceedsCapacity(t *testing.T) {
	b := New[string](4)
	for i := 0; i < 100; i++ {
		b.Push("x")
		if b.Len() > b.Cap() {
			t.Fatalf("len %d exceeded cap %d", b.Len(), b.Cap())
		}
	}
}

func TestMinimumCapacity(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 1 {
		t.Fatalf("cap = %d, want 1", b.Cap())
	}
}
