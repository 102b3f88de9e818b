package mining

import (
	"context"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
)

// SyntheticSource is the benchmark job source: one fixed job whose all-zero
// target no digest can ever be below, so workers hash flat out and nothing
// is ever submitted.
type SyntheticSource struct {
	jobs chan *Job
}

func NewSyntheticSource(kind algorithm.Kind) *SyntheticSource {
	job := &Job{
		RemoteID:  "benchmark",
		Blob:      make([]byte, 76),
		Seed:      []byte("kagami-benchmark"),
		Algorithm: kind,
	}
	jobs := make(chan *Job, 1)
	jobs <- job
	return &SyntheticSource{jobs: jobs}
}

func (s *SyntheticSource) Jobs() <-chan *Job { return s.jobs }

func (s *SyntheticSource) Submit(ctx context.Context, share *Share) (SubmitStatus, error) {
	return SubmitAccepted, nil
}
