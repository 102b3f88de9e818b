package mining

import (
	"errors"
	"sort"
	"sync"
	"testing"
)

func TestNonceAllocatorDisjointCoverage(t *testing.T) {
	const (
		workers   = 8
		perWorker = 200
		batch     = 64
	)
	alloc := NewNonceAllocator(batch)
	alloc.Reset(1)

	var mu sync.Mutex
	var ranges []NonceRange
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				rng, _, err := alloc.NextRange(1)
				if err != nil {
					t.Errorf("NextRange: %v", err)
					return
				}
				mu.Lock()
				ranges = append(ranges, rng)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	var next uint64
	for i, rng := range ranges {
		if rng.Start != next {
			t.Fatalf("range %d starts at %d, want %d (gap or overlap)", i, rng.Start, next)
		}
		if rng.Count != batch {
			t.Fatalf("range %d has count %d, want %d", i, rng.Count, batch)
		}
		next = rng.Start + uint64(rng.Count)
	}
	if want := uint64(workers * perWorker * batch); next != want {
		t.Fatalf("cursor covered %d nonces, want %d", next, want)
	}
}

func TestNonceAllocatorRejectsStaleJob(t *testing.T) {
	alloc := NewNonceAllocator(100)
	alloc.Reset(1)
	if _, _, err := alloc.NextRange(1); err != nil {
		t.Fatalf("current job rejected: %v", err)
	}

	alloc.Reset(2)
	_, current, err := alloc.NextRange(1)
	if !errors.Is(err, ErrStaleJob) {
		t.Fatalf("stale request returned %v, want ErrStaleJob", err)
	}
	if current != 2 {
		t.Fatalf("stale rejection reported current job %d, want 2", current)
	}

	// The stale request must not have advanced the new job's cursor.
	rng, _, err := alloc.NextRange(2)
	if err != nil {
		t.Fatalf("NextRange(2): %v", err)
	}
	if rng.Start != 0 {
		t.Fatalf("first range of new job starts at %d, want 0", rng.Start)
	}
}

func TestNonceAllocatorResetRewindsCursor(t *testing.T) {
	alloc := NewNonceAllocator(0)
	if alloc.BatchSize() != DefaultBatchSize {
		t.Fatalf("zero batch should default to %d, got %d", DefaultBatchSize, alloc.BatchSize())
	}
	alloc.Reset(7)
	for i := 0; i < 3; i++ {
		if _, _, err := alloc.NextRange(7); err != nil {
			t.Fatalf("NextRange: %v", err)
		}
	}
	alloc.Reset(8)
	rng, _, err := alloc.NextRange(8)
	if err != nil {
		t.Fatalf("NextRange(8): %v", err)
	}
	if rng.Start != 0 {
		t.Fatalf("cursor not rewound on reset: start=%d", rng.Start)
	}
}
