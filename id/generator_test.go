package id

import (
	"sync"
	"testing"
	"time"
)

func TestMessageIDGenerator_Uniqueness(t *testing.T) {
	gen := NewMessageIDGenerator(1)

	seen := make(map[int64]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if seen[id] {
			t.Fatalf("duplicate ID generated at iteration %d: %d", i, id)
		}
		seen[id] = true
	}
}

func TestMessageIDGenerator_Monotonic(t *testing.T) {
	gen := NewMessageIDGenerator(1)

	var prev int64
	const iterations = 1000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if id <= prev {
			t.Fatalf("non-monotonic ID at iteration %d: prev=%d, curr=%d", i, prev, id)
		}
		prev = id
	}
}

func TestMessageIDGenerator_Concurrent(t *testing.T) {
	gen := NewMessageIDGenerator(7)

	const goroutines = 10
	const idsPerGoroutine = 1000

	var wg sync.WaitGroup
	idsChan := make(chan int64, goroutines*idsPerGoroutine)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < idsPerGoroutine; i++ {
				idsChan <- gen.NextID()
			}
		}()
	}
	wg.Wait()
	close(idsChan)

	seen := make(map[int64]bool)
	for id := range idsChan {
		if seen[id] {
			t.Fatalf("duplicate ID in concurrent generation: %d", id)
		}
		seen[id] = true
	}
	if len(seen) != goroutines*idsPerGoroutine {
		t.Fatalf("expected %d unique IDs, got %d", goroutines*idsPerGoroutine, len(seen))
	}
}

func TestMessageIDGenerator_NodesDoNotCollide(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	a := NewMessageIDGenerator(1)
	b := NewMessageIDGenerator(2)
	a.now = func() time.Time { return fixed }
	b.now = func() time.Time { return fixed }

	idA := a.NextID()
	idB := b.NextID()
	if idA == idB {
		t.Fatalf("ids from different nodes collided: %d", idA)
	}
	if Node(idA) != 1 || Node(idB) != 2 {
		t.Fatalf("unexpected node bits: %d %d", Node(idA), Node(idB))
	}
	if !Time(idA).Equal(fixed) {
		t.Fatalf("unexpected embedded time %v", Time(idA))
	}
}

func TestMessageIDGenerator_ClockStepBack(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	gen := NewMessageIDGenerator(3)
	gen.now = func() time.Time { return now }

	first := gen.NextID()
	now = now.Add(-time.Second)
	second := gen.NextID()
	if second <= first {
		t.Fatalf("id went backwards after clock step: %d then %d", first, second)
	}
}

func TestMessageIDGenerator_LastAndFloor(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	gen := NewMessageIDGenerator(5)
	gen.now = func() time.Time { return now }

	if got := gen.Last(); got != 0 {
		t.Fatalf("expected 0 before any id, got %d", got)
	}

	first := gen.NextID()
	second := gen.NextID()
	if got := gen.Last(); got != second {
		t.Fatalf("Last() = %d, want %d", got, second)
	}

	if floor := Floor(now); floor > first {
		t.Fatalf("floor %d above an id generated at the same time %d", floor, first)
	}
	now = now.Add(time.Millisecond)
	if floor := Floor(now); floor <= second {
		t.Fatalf("floor %d of a later millisecond not above %d", floor, second)
	}
	if next := gen.NextID(); next < Floor(now) {
		t.Fatalf("id %d below floor of its own millisecond", next)
	}
}
