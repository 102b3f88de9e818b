package mining

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/stats"
)

func TestBenchmarkModeHashesWithoutShares(t *testing.T) {
	log := zaptest.NewLogger(t)
	source := NewSyntheticSource(algorithm.RandomX)
	agg := stats.NewAggregator(log.Named("stats"), stats.Config{Window: stats.BenchmarkWindow})

	var builds atomic.Int32
	factory := func(kind algorithm.Kind, seed []byte, mode algorithm.Mode) (algorithm.Context, error) {
		builds.Add(1)
		return &stubContext{kind: kind, seed: append([]byte(nil), seed...)}, nil
	}
	sched := NewScheduler(log.Named("scheduler"), SchedulerConfig{
		Algorithm: algorithm.RandomX,
		Threads:   4,
		BatchSize: 256,
	}, source, agg, WithContextFactory(factory))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		agg.Run(ctx)
	}()

	err := sched.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want deadline exceeded", err)
	}
	counts := sched.WorkerHashCounts()
	sched.Stop()
	<-aggDone

	if builds.Load() != 1 {
		t.Fatalf("benchmark built %d contexts, want 1", builds.Load())
	}
	if len(counts) != 4 {
		t.Fatalf("per-thread counts for %d workers, want 4", len(counts))
	}
	var perThread uint64
	for _, hashes := range counts {
		perThread += hashes
	}
	if perThread == 0 {
		t.Fatal("benchmark computed no hashes")
	}
	snap := agg.Snapshot()
	if snap.Accepted != 0 || snap.Rejected != 0 {
		t.Fatalf("benchmark submitted shares: accepted=%d rejected=%d", snap.Accepted, snap.Rejected)
	}
}
