package mining

import (
	"errors"
	"fmt"
)

// ErrStaleJob is returned by the nonce allocator when a range is requested
// for a job that has been superseded. Workers handle it silently by
// refetching the current job; it never reaches the operator.
var ErrStaleJob = errors.New("job superseded")

// ErrSourceClosed means the job source shut its job channel. Without a
// source there is no valid work to produce, so this stops the scheduler.
var ErrSourceClosed = errors.New("job source closed")

// SubmitError wraps a failed share delivery. The share is counted as
// rejected and mining continues.
type SubmitError struct {
	JobID uint64
	Nonce uint64
	Err   error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("share submit failed (job %d, nonce %d): %v", e.JobID, e.Nonce, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
