package mining

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
)

// Job is one unit of mining work. A Job is immutable once installed by the
// scheduler; new work replaces it, nothing ever mutates it in place.
type Job struct {
	// ID is assigned by the scheduler on install and strictly increases.
	ID uint64
	// RemoteID is the identifier the upstream pool or node knows this job by.
	RemoteID string
	// Blob is the block template to hash, without the nonce.
	Blob []byte
	// Target is the 256-bit little-endian threshold a digest must be below.
	Target [32]byte
	// Seed keys the shared algorithm context. A seed change forces a
	// context rebuild.
	Seed      []byte
	Algorithm algorithm.Kind
	Height    uint64
}

// Share is a nonce whose digest met the job target. Immutable; handed
// upstream exactly once per discovery.
type Share struct {
	JobID    uint64
	RemoteID string
	Nonce    uint64
	Digest   [32]byte
}

// SubmitStatus is the upstream verdict on a submitted share.
type SubmitStatus int

const (
	SubmitAccepted SubmitStatus = iota
	SubmitRejected
)

func (s SubmitStatus) String() string {
	if s == SubmitAccepted {
		return "accepted"
	}
	return "rejected"
}

// JobSource supplies work and accepts shares. Pool and node backends both
// satisfy it; the scheduler never sees wire formats.
type JobSource interface {
	// Jobs delivers new work as it arrives. A closed channel means the
	// source is permanently gone and mining cannot continue.
	Jobs() <-chan *Job
	// Submit hands a found share upstream and reports the outcome.
	Submit(ctx context.Context, share *Share) (SubmitStatus, error)
}

// ShareRecorder persists share outcomes for post-run audit. Optional.
type ShareRecorder interface {
	Record(ctx context.Context, share *Share, accepted bool) error
}

// ExpandTarget converts a compact pool target into the full 256-bit
// little-endian threshold. Pools commonly send only the most significant 4
// or 8 bytes; a 32-byte target is used as-is.
func ExpandTarget(compact []byte) ([32]byte, error) {
	var target [32]byte
	switch len(compact) {
	case 32:
		copy(target[:], compact)
	case 4, 8:
		copy(target[32-len(compact):], compact)
	default:
		return target, fmt.Errorf("target must be 4, 8 or 32 bytes, got %d (%s)",
			len(compact), hex.EncodeToString(compact))
	}
	return target, nil
}
