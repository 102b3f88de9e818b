package mining

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/stats"
)

// easyTarget passes any digest below 2^248: the all-zero stub digest meets
// it, the all-ones miss digest never does.
func easyTarget() [32]byte {
	var t [32]byte
	t[31] = 1
	return t
}

// stubContext implements a deterministic algorithm for scheduler tests: the
// digest is all zeros when blob[0] and the nonce match the configured
// solution, all ones otherwise.
type stubContext struct {
	kind       algorithm.Kind
	seed       []byte
	solveTag   byte
	solveNonce uint64
	engines    atomic.Int32
	panicFirst bool
}

func (c *stubContext) Kind() algorithm.Kind { return c.kind }
func (c *stubContext) Seed() []byte         { return c.seed }
func (c *stubContext) MemoryUsage() uint64  { return 0 }

func (c *stubContext) NewEngine() algorithm.Engine {
	n := c.engines.Add(1)
	// Only the first engine per worker faults, so a recovered worker gets a
	// healthy replacement.
	return &stubEngine{ctx: c, panicOnce: c.panicFirst && n <= 2}
}

type stubEngine struct {
	ctx       *stubContext
	panicOnce bool
}

func (e *stubEngine) Hash(blob []byte, nonce uint64) [32]byte {
	if e.panicOnce {
		e.panicOnce = false
		panic("injected engine fault")
	}
	if len(blob) > 0 && blob[0] == e.ctx.solveTag && nonce == e.ctx.solveNonce {
		return [32]byte{}
	}
	var miss [32]byte
	for i := range miss {
		miss[i] = 0xff
	}
	return miss
}

// stubSource records submitted shares and returns a fixed verdict.
type stubSource struct {
	jobs    chan *Job
	verdict SubmitStatus

	mu     sync.Mutex
	shares []*Share
}

func newStubSource() *stubSource {
	return &stubSource{jobs: make(chan *Job, 4), verdict: SubmitAccepted}
}

func (s *stubSource) Jobs() <-chan *Job { return s.jobs }

func (s *stubSource) Submit(ctx context.Context, share *Share) (SubmitStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares = append(s.shares, share)
	return s.verdict, nil
}

func (s *stubSource) recorded() []*Share {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Share, len(s.shares))
	copy(out, s.shares)
	return out
}

type testHarness struct {
	sched   *Scheduler
	source  *stubSource
	agg     *stats.Aggregator
	aggDone chan struct{}
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, solveTag byte, solveNonce uint64, panicFirst bool) *testHarness {
	t.Helper()
	log := zaptest.NewLogger(t)
	source := newStubSource()
	agg := stats.NewAggregator(log.Named("stats"), stats.Config{Window: time.Second})

	var builds atomic.Int32
	factory := func(kind algorithm.Kind, seed []byte, mode algorithm.Mode) (algorithm.Context, error) {
		builds.Add(1)
		return &stubContext{
			kind:       kind,
			seed:       append([]byte(nil), seed...),
			solveTag:   solveTag,
			solveNonce: solveNonce,
			panicFirst: panicFirst,
		}, nil
	}

	sched := NewScheduler(log.Named("scheduler"), SchedulerConfig{
		Algorithm: algorithm.RandomX,
		Threads:   4,
		BatchSize: 128,
	}, source, agg, WithContextFactory(factory))

	ctx, cancel := context.WithCancel(context.Background())
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		agg.Run(ctx)
	}()
	sched.wg.Add(1)
	go sched.submitLoop(ctx)

	t.Cleanup(func() {
		sched.Stop()
		cancel()
		<-aggDone
	})
	return &testHarness{sched: sched, source: source, agg: agg, aggDone: aggDone, cancel: cancel}
}

func testJob(tag byte) *Job {
	return &Job{
		RemoteID:  "job",
		Blob:      []byte{tag, 0, 0, 0},
		Target:    easyTarget(),
		Seed:      []byte("seed"),
		Algorithm: algorithm.RandomX,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSchedulerFindsKnownSolution(t *testing.T) {
	const solveNonce = 4242
	h := newHarness(t, 1, solveNonce, false)

	if err := h.sched.InstallJob(testJob(1)); err != nil {
		t.Fatalf("InstallJob: %v", err)
	}
	h.sched.SetThreadCount(4)

	if !waitFor(t, 5*time.Second, func() bool { return len(h.source.recorded()) > 0 }) {
		t.Fatal("no share found for a job with a known solution")
	}
	// Give any duplicate a chance to show up before asserting uniqueness.
	time.Sleep(50 * time.Millisecond)

	shares := h.source.recorded()
	if len(shares) != 1 {
		t.Fatalf("got %d shares, want exactly 1", len(shares))
	}
	if shares[0].Nonce != solveNonce {
		t.Fatalf("share nonce = %d, want %d", shares[0].Nonce, solveNonce)
	}
	if shares[0].JobID != 1 {
		t.Fatalf("share job id = %d, want 1", shares[0].JobID)
	}
}

func TestSupersededJobNeverEmitsShares(t *testing.T) {
	// The first job has a solution inside the first batch; the second has
	// none. Both are installed before any worker runs, so the solving nonce
	// for job 1 sits in an unissued range the whole time.
	h := newHarness(t, 1, 64, false)

	if err := h.sched.InstallJob(testJob(1)); err != nil {
		t.Fatalf("InstallJob(1): %v", err)
	}
	if err := h.sched.InstallJob(testJob(2)); err != nil {
		t.Fatalf("InstallJob(2): %v", err)
	}
	h.sched.SetThreadCount(4)

	time.Sleep(300 * time.Millisecond)
	for _, share := range h.source.recorded() {
		if share.JobID == 1 {
			t.Fatalf("received share for superseded job 1, nonce %d", share.Nonce)
		}
	}
}

func TestStaleSharesConvergeToNewestJob(t *testing.T) {
	h := newHarness(t, 1, 1<<40, false)

	if err := h.sched.InstallJob(testJob(1)); err != nil {
		t.Fatalf("InstallJob(1): %v", err)
	}
	h.sched.SetThreadCount(4)
	time.Sleep(50 * time.Millisecond)

	if err := h.sched.InstallJob(testJob(2)); err != nil {
		t.Fatalf("InstallJob(2): %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	highest := h.sched.currentJobID()
	for _, share := range h.source.recorded() {
		if share.JobID < highest {
			t.Fatalf("share emitted for job %d after job %d was installed", share.JobID, highest)
		}
	}
}

func TestContextRebuiltOncePerChange(t *testing.T) {
	log := zaptest.NewLogger(t)
	source := newStubSource()
	agg := stats.NewAggregator(log.Named("stats"), stats.Config{Window: time.Second})

	var builds atomic.Int32
	factory := func(kind algorithm.Kind, seed []byte, mode algorithm.Mode) (algorithm.Context, error) {
		builds.Add(1)
		return &stubContext{kind: kind, seed: append([]byte(nil), seed...)}, nil
	}
	sched := NewScheduler(log, SchedulerConfig{
		Algorithm: algorithm.RandomX,
		Threads:   4,
		BatchSize: 128,
	}, source, agg, WithContextFactory(factory))
	defer sched.Stop()

	if err := sched.InstallJob(testJob(1)); err != nil {
		t.Fatalf("InstallJob: %v", err)
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("after first install: %d context builds, want 1", got)
	}

	// Same algorithm and seed: the existing context must be reused.
	if err := sched.InstallJob(testJob(2)); err != nil {
		t.Fatalf("InstallJob: %v", err)
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("after same-seed install: %d context builds, want 1", got)
	}

	if err := sched.SetAlgorithm(algorithm.CryptoNightV7); err != nil {
		t.Fatalf("SetAlgorithm: %v", err)
	}
	if got := builds.Load(); got != 2 {
		t.Fatalf("after algorithm switch: %d context builds, want 2", got)
	}
	if err := sched.SetAlgorithm(algorithm.CryptoNightV7); err != nil {
		t.Fatalf("SetAlgorithm repeat: %v", err)
	}
	if got := builds.Load(); got != 2 {
		t.Fatalf("repeat switch rebuilt the context: %d builds, want 2", got)
	}
}

func TestProgressDeltasAccountForEveryHash(t *testing.T) {
	// Unsolvable job: workers hash flat out and only progress flows.
	h := newHarness(t, 0xee, 1, false)

	if err := h.sched.InstallJob(testJob(1)); err != nil {
		t.Fatalf("InstallJob: %v", err)
	}
	h.sched.SetThreadCount(4)
	time.Sleep(300 * time.Millisecond)

	h.sched.mu.Lock()
	workers := make([]*Worker, 0, len(h.sched.workers))
	for _, w := range h.sched.workers {
		workers = append(workers, w)
	}
	h.sched.mu.Unlock()

	h.sched.Stop()
	h.cancel()
	<-h.aggDone

	var computed uint64
	for _, w := range workers {
		computed += w.hashes.Load()
	}
	snap := h.agg.Snapshot()
	if snap.TotalHashes != computed {
		t.Fatalf("aggregator counted %d hashes, workers computed %d", snap.TotalHashes, computed)
	}
	if computed == 0 {
		t.Fatal("workers computed no hashes")
	}
}

func TestWorkerRecoversFromEngineFault(t *testing.T) {
	// Every engine panics on its first hash. The worker must recover,
	// rebuild its engine and keep mining.
	h := newHarness(t, 1, 4242, true)

	if err := h.sched.InstallJob(testJob(1)); err != nil {
		t.Fatalf("InstallJob: %v", err)
	}
	h.sched.SetThreadCount(2)

	if !waitFor(t, 5*time.Second, func() bool { return len(h.source.recorded()) > 0 }) {
		t.Fatal("no share found after engine faults; workers did not recover")
	}
}

func TestRejectedSubmitCountsAsRejected(t *testing.T) {
	h := newHarness(t, 1, 100, false)
	h.source.verdict = SubmitRejected

	if err := h.sched.InstallJob(testJob(1)); err != nil {
		t.Fatalf("InstallJob: %v", err)
	}
	h.sched.SetThreadCount(2)

	if !waitFor(t, 5*time.Second, func() bool { return h.agg.Snapshot().Rejected == 1 }) {
		snap := h.agg.Snapshot()
		t.Fatalf("rejected=%d accepted=%d, want rejected=1", snap.Rejected, snap.Accepted)
	}
}

func TestSetThreadCountResizesPool(t *testing.T) {
	h := newHarness(t, 0xee, 1, false)

	h.sched.SetThreadCount(4)
	if got := h.sched.ThreadCount(); got != 4 {
		t.Fatalf("ThreadCount = %d, want 4", got)
	}
	h.sched.SetThreadCount(2)
	if got := h.sched.ThreadCount(); got != 2 {
		t.Fatalf("after shrink: ThreadCount = %d, want 2", got)
	}
	h.sched.SetThreadCount(6)
	if got := h.sched.ThreadCount(); got != 6 {
		t.Fatalf("after grow: ThreadCount = %d, want 6", got)
	}
}
