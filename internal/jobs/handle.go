package jobs

import (
	"context"
	"sync"
)

// Handle tracks one submitted job to its terminal state.
type Handle struct {
	// JobID is the id allocated for this submission.
	JobID string

	once sync.Once
	done chan struct{}
	job  Job
	err  error
}

func newHandle(id string) *Handle {
	return &Handle{JobID: id, done: make(chan struct{})}
}

func (h *Handle) resolve(job Job, err error) {
	h.once.Do(func() {
		h.job = job
		h.err = err
		close(h.done)
	})
}

// Done is closed once the job reaches a terminal state (or the scheduler
// shuts down before the job starts).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job is terminal and returns its final record.
// A failed job returns the record together with a *ProcessingError.
// If ctx fires first, Wait returns ctx.Err(); the job itself keeps going.
func (h *Handle) Wait(ctx context.Context) (Job, error) {
	select {
	case <-h.done:
		return h.job, h.err
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}
