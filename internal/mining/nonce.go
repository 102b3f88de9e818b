package mining

import "sync/atomic"

// DefaultBatchSize is the nonce range width handed to a worker per request.
// It bounds both staleness detection and shutdown latency.
const DefaultBatchSize = 1000

// NonceRange is a disjoint slice of the nonce space, consumed exactly once.
type NonceRange struct {
	Start uint64
	Count uint32
}

// nonceCursor pairs a job id with its allocation cursor. Job replacement
// swaps the whole cursor so stale requests can never advance the new one.
type nonceCursor struct {
	jobID uint64
	next  atomic.Uint64
}

// NonceAllocator hands out disjoint nonce ranges for the current job. The
// only state mutated on the hot path is a single fetch-and-add; issuance is
// linearizable per job id, with no duplicated or skipped subranges.
type NonceAllocator struct {
	batch  uint32
	cursor atomic.Pointer[nonceCursor]
}

func NewNonceAllocator(batch uint32) *NonceAllocator {
	if batch == 0 {
		batch = DefaultBatchSize
	}
	a := &NonceAllocator{batch: batch}
	a.cursor.Store(&nonceCursor{})
	return a
}

// BatchSize returns the configured range width.
func (a *NonceAllocator) BatchSize() uint32 { return a.batch }

// Reset points the allocator at a new job and rewinds the cursor to zero.
func (a *NonceAllocator) Reset(jobID uint64) {
	a.cursor.Store(&nonceCursor{jobID: jobID})
}

// NextRange returns the next disjoint range for jobID. If the caller's job
// has been superseded it returns ErrStaleJob together with the current job
// id, so the worker can refetch without burning a range. The nonce space
// wraps at 2^64; at real difficulty a job is replaced long before that.
func (a *NonceAllocator) NextRange(jobID uint64) (NonceRange, uint64, error) {
	cur := a.cursor.Load()
	if cur.jobID != jobID {
		return NonceRange{}, cur.jobID, ErrStaleJob
	}
	start := cur.next.Add(uint64(a.batch)) - uint64(a.batch)
	return NonceRange{Start: start, Count: a.batch}, jobID, nil
}
