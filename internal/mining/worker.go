package mining

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/stats"
)

// idlePoll is how long a worker sleeps when no job is installed yet.
const idlePoll = 100 * time.Millisecond

// Worker is one persistent hashing unit. It owns a private hash engine
// bound to the shared algorithm context and loops over nonce ranges until
// asked to stop. A panic inside the loop is recovered and the unit restarts
// with a fresh engine; one faulty worker never takes the scheduler down.
type Worker struct {
	id   int
	log  *zap.Logger
	s    *Scheduler
	stop chan struct{}

	hashes atomic.Uint64

	engine    algorithm.Engine
	engineCtx *contextHolder
}

func newWorker(id int, log *zap.Logger, s *Scheduler) *Worker {
	return &Worker{
		id:   id,
		log:  log,
		s:    s,
		stop: make(chan struct{}),
	}
}

func (w *Worker) requestStop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *Worker) run() {
	w.log.Debug("worker started")
	for {
		select {
		case <-w.stop:
			w.log.Debug("worker stopped", zap.Uint64("hashes", w.hashes.Load()))
			return
		case <-w.s.stop:
			w.log.Debug("worker stopped", zap.Uint64("hashes", w.hashes.Load()))
			return
		default:
		}
		w.step()
	}
}

// step runs one iteration of the mining loop with panic isolation. A fault
// discards the engine so the next iteration rebuilds it against the current
// context.
func (w *Worker) step() {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker fault, restarting unit",
				zap.Int("worker", w.id),
				zap.Any("panic", r),
			)
			w.engine = nil
			w.engineCtx = nil
		}
	}()
	w.mineRange()
}

func (w *Worker) mineRange() {
	job := w.s.currentJob()
	if job == nil {
		time.Sleep(idlePoll)
		return
	}
	holder := w.s.currentContext()
	if holder == nil {
		time.Sleep(idlePoll)
		return
	}

	// Rebuild the private engine when the shared context was swapped.
	// Engines are cheap; the context they bind to is not.
	if w.engineCtx != holder {
		w.engine = holder.ctx.NewEngine()
		w.engineCtx = holder
	}
	if job.Algorithm != holder.ctx.Kind() {
		// Context rebuild is still in flight for this job; retry shortly.
		time.Sleep(idlePoll)
		return
	}

	rng, _, err := w.s.alloc.NextRange(job.ID)
	if err != nil {
		// Superseded between job load and range request; refetch.
		return
	}

	var done uint64
	end := rng.Start + uint64(rng.Count)
	for nonce := rng.Start; nonce != end; nonce++ {
		select {
		case <-w.stop:
			w.flush(done)
			return
		case <-w.s.stop:
			w.flush(done)
			return
		default:
		}

		digest := w.engine.Hash(job.Blob, nonce)
		done++

		if algorithm.VerifyTarget(digest, job.Target) {
			// Re-check currency immediately before emission: a share for a
			// superseded job must never leave the worker.
			if w.s.currentJobID() != job.ID {
				w.flush(done)
				return
			}
			w.s.reportShare(&Share{
				JobID:    job.ID,
				RemoteID: job.RemoteID,
				Nonce:    nonce,
				Digest:   digest,
			})
			// Keep scanning: a range can hold more than one solution.
		}
	}
	w.flush(done)
}

// flush publishes the progress delta for the finished (or aborted) range.
// Every computed hash is reported exactly once.
func (w *Worker) flush(done uint64) {
	if done == 0 {
		return
	}
	w.hashes.Add(done)
	w.s.agg.Publish(stats.ProgressDelta{Worker: w.id, Hashes: done})
}
