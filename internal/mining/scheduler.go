package mining

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/stats"
)

// SchedulerConfig is the resolved runtime configuration the scheduler needs.
type SchedulerConfig struct {
	Algorithm algorithm.Kind
	Mode      algorithm.Mode
	Threads   int
	BatchSize uint32
}

// contextHolder wraps the interface so it fits in an atomic.Pointer. Workers
// compare holder identity to detect a context swap at range boundaries.
type contextHolder struct {
	ctx algorithm.Context
}

// Scheduler owns the current job, the worker pool and the shared algorithm
// context. It installs work from the JobSource, hands the nonce space to
// workers through the allocator, and routes found shares back upstream.
//
// The hot path never takes a lock: job replacement and context swaps are
// atomic pointer stores observed by workers at their next range acquisition.
type Scheduler struct {
	log    *zap.Logger
	cfg    SchedulerConfig
	source JobSource
	agg    *stats.Aggregator
	ledger ShareRecorder

	newContext ContextFactory

	job     atomic.Pointer[Job]
	jobSeq  atomic.Uint64
	algo    atomic.Uint32 // algorithm.Kind of the active context
	context atomic.Pointer[contextHolder]
	alloc   *NonceAllocator

	mu           sync.Mutex
	workers      map[int]*Worker
	nextWorkerID int

	shares chan *Share
	stop   chan struct{}
	wg     sync.WaitGroup
}

// SchedulerOption tweaks optional collaborators.
type SchedulerOption func(*Scheduler)

// WithShareRecorder persists every submitted share and its outcome.
func WithShareRecorder(r ShareRecorder) SchedulerOption {
	return func(s *Scheduler) { s.ledger = r }
}

// ContextFactory builds algorithm contexts. Swappable so tests can mine
// with a stub hash function instead of a memory-hard dataset.
type ContextFactory func(kind algorithm.Kind, seed []byte, mode algorithm.Mode) (algorithm.Context, error)

// WithContextFactory overrides how shared algorithm contexts are built.
func WithContextFactory(f ContextFactory) SchedulerOption {
	return func(s *Scheduler) { s.newContext = f }
}

func NewScheduler(log *zap.Logger, cfg SchedulerConfig, source JobSource, agg *stats.Aggregator, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		log:     log,
		cfg:     cfg,
		source:  source,
		agg:     agg,
		alloc:   NewNonceAllocator(cfg.BatchSize),
		workers: make(map[int]*Worker),
		shares:  make(chan *Share, 64),
		stop:    make(chan struct{}),
	}
	s.newContext = algorithm.NewContext
	for _, opt := range opts {
		opt(s)
	}
	s.algo.Store(uint32(cfg.Algorithm))
	return s
}

// Run starts the worker pool and processes jobs from the source until ctx is
// cancelled or the source closes. It blocks for the lifetime of mining.
func (s *Scheduler) Run(ctx context.Context) error {
	s.SetThreadCount(s.cfg.Threads)

	s.wg.Add(1)
	go s.submitLoop(ctx)

	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-s.source.Jobs():
			if !ok {
				return ErrSourceClosed
			}
			if err := s.InstallJob(job); err != nil {
				return err
			}
		}
	}
}

// InstallJob atomically publishes new work, superseding whatever the workers
// currently hold. The expensive context rebuild, when the seed or algorithm
// changed, happens here, off the hashing path; workers keep hashing the old
// job against the old context until the pointers swap.
func (s *Scheduler) InstallJob(job *Job) error {
	if job.Algorithm != algorithm.Kind(s.algo.Load()) {
		s.algo.Store(uint32(job.Algorithm))
	}
	if err := s.ensureContext(job.Algorithm, job.Seed); err != nil {
		return err
	}

	installed := *job
	installed.ID = s.jobSeq.Add(1)

	// Publish order matters: the allocator must reject the new id until the
	// job pointer is visible, so reset the cursor last.
	s.job.Store(&installed)
	s.alloc.Reset(installed.ID)

	s.log.Info("job installed",
		zap.Uint64("job_id", installed.ID),
		zap.String("remote_id", installed.RemoteID),
		zap.Uint64("height", installed.Height),
		zap.String("algorithm", installed.Algorithm.String()),
	)
	return nil
}

// SetAlgorithm switches the active algorithm. The replacement context is
// built before anything swaps, so running workers are never stalled; they
// converge on the new context at their next range acquisition.
func (s *Scheduler) SetAlgorithm(kind algorithm.Kind) error {
	seed := []byte("kagami")
	if job := s.job.Load(); job != nil {
		seed = job.Seed
	}
	holder := s.context.Load()
	if holder != nil && holder.ctx.Kind() == kind && bytes.Equal(holder.ctx.Seed(), seed) {
		return nil
	}
	ctx, err := s.buildContext(kind, seed)
	if err != nil {
		return err
	}
	s.algo.Store(uint32(kind))
	s.context.Store(&contextHolder{ctx: ctx})
	return nil
}

// SetThreadCount grows or shrinks the worker pool to n units. Excess workers
// are asked to stop and finish within one nonce range.
func (s *Scheduler) SetThreadCount(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.workers) < n {
		id := s.nextWorkerID
		s.nextWorkerID++
		w := newWorker(id, s.log.Named(fmt.Sprintf("worker-%d", id)), s)
		s.workers[id] = w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.run()
		}()
	}
	for id, w := range s.workers {
		if len(s.workers) <= n {
			break
		}
		w.requestStop()
		delete(s.workers, id)
	}

	s.log.Info("worker pool resized", zap.Int("threads", n))
}

// ThreadCount returns the number of live worker units.
func (s *Scheduler) ThreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// WorkerHashCounts returns per-worker cumulative hash counts, used by the
// benchmark's per-thread debug report.
func (s *Scheduler) WorkerHashCounts() map[int]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[int]uint64, len(s.workers))
	for id, w := range s.workers {
		counts[id] = w.hashes.Load()
	}
	return counts
}

// Stop asks every worker to finish its current range and waits for the pool
// to drain.
func (s *Scheduler) Stop() {
	s.shutdown()
	s.wg.Wait()
}

func (s *Scheduler) shutdown() {
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}
	// Workers stay in the map so their final hash counts remain readable
	// after the pool drains; the scheduler is done either way.
	s.mu.Lock()
	for _, w := range s.workers {
		w.requestStop()
	}
	s.mu.Unlock()
}

// ensureContext rebuilds the shared context only when the algorithm kind or
// seed actually changed; everything else reuses the existing one.
func (s *Scheduler) ensureContext(kind algorithm.Kind, seed []byte) error {
	holder := s.context.Load()
	if holder != nil && holder.ctx.Kind() == kind && bytes.Equal(holder.ctx.Seed(), seed) {
		return nil
	}
	ctx, err := s.buildContext(kind, seed)
	if err != nil {
		return err
	}
	s.context.Store(&contextHolder{ctx: ctx})
	return nil
}

func (s *Scheduler) buildContext(kind algorithm.Kind, seed []byte) (algorithm.Context, error) {
	started := time.Now()
	s.log.Info("building algorithm context",
		zap.String("algorithm", kind.String()),
		zap.String("mode", s.cfg.Mode.String()),
	)
	ctx, err := s.newContext(kind, seed, s.cfg.Mode)
	if err != nil {
		return nil, err
	}
	s.log.Info("algorithm context ready",
		zap.String("algorithm", kind.String()),
		zap.Duration("took", time.Since(started)),
		zap.Uint64("context_bytes", ctx.MemoryUsage()),
	)
	return ctx, nil
}

// currentJob returns the installed job, nil while idle.
func (s *Scheduler) currentJob() *Job { return s.job.Load() }

// currentJobID returns the id of the installed job, 0 while idle.
func (s *Scheduler) currentJobID() uint64 {
	if job := s.job.Load(); job != nil {
		return job.ID
	}
	return 0
}

func (s *Scheduler) currentContext() *contextHolder { return s.context.Load() }

// reportShare hands a found share to the submit loop. Shares are rare
// relative to hashing, so a buffered channel send off the inner loop is
// cheap; it must never silently drop a solution.
func (s *Scheduler) reportShare(share *Share) {
	select {
	case s.shares <- share:
	case <-s.stop:
	}
}

// submitLoop forwards found shares to the job source and feeds the verdicts
// to the stats aggregator. A failed delivery counts as rejected; mining
// continues.
func (s *Scheduler) submitLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case share := <-s.shares:
			// The job may have been replaced while the share sat in the
			// queue; a stale share is worthless upstream.
			if share.JobID != s.currentJobID() {
				s.log.Debug("dropping stale share", zap.Uint64("job_id", share.JobID))
				continue
			}
			status, err := s.source.Submit(ctx, share)
			accepted := err == nil && status == SubmitAccepted
			if err != nil {
				serr := &SubmitError{JobID: share.JobID, Nonce: share.Nonce, Err: err}
				s.log.Warn("share submission failed", zap.Error(serr))
			} else {
				s.log.Info("share submitted",
					zap.Uint64("job_id", share.JobID),
					zap.Uint64("nonce", share.Nonce),
					zap.String("status", status.String()),
				)
			}
			s.agg.Publish(stats.ShareResult{Accepted: accepted})
			if s.ledger != nil {
				if rerr := s.ledger.Record(ctx, share, accepted); rerr != nil {
					s.log.Warn("share ledger write failed", zap.Error(rerr))
				}
			}
		}
	}
}
