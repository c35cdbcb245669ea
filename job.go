package taskqueue

import (
	"context"
	"sync"
	"time"
)

// Job is what a handler receives: the submitted payload together with
// the correlation id and job type it was dispatched under.
type Job struct {
	id      string
	jobType string
	payload any
}

func (j *Job) Id() string   { return j.id }
func (j *Job) Type() string { return j.jobType }
func (j *Job) Payload() any { return j.payload }

// ResultHandle is the asynchronous half of Submit. Exactly one
// terminal outcome is ever delivered: the handler's result, a
// processing error, a timeout, a termination or crash rejection,
// or a cancellation.
type ResultHandle struct {
	done chan struct{}
	once sync.Once

	value any
	err   error

	cancel func()
}

func newResultHandle() *ResultHandle {
	return &ResultHandle{done: make(chan struct{})}
}

// complete records the terminal outcome. Later calls are no-ops, which
// is what makes a late worker response after a timeout or cancellation
// harmless.
func (h *ResultHandle) complete(value any, err error) {
	h.once.Do(func() {
		h.value = value
		h.err = err
		close(h.done)
	})
}

// Done returns a channel that is closed once the handle has reached
// its terminal outcome.
func (h *ResultHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle completes or ctx is done.
func (h *ResultHandle) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.value, h.err
	}
}

// Result reports the terminal outcome. It is only meaningful after
// the Done channel is closed.
func (h *ResultHandle) Result() (any, error) {
	return h.value, h.err
}

// Cancel withdraws the request. A request still in the wait queue is
// removed with no side effect on any worker. A request that was
// already dispatched is canceled advisorily only: the handle rejects
// with ErrJobCanceled but the worker may run the job to completion,
// and its response is discarded after the worker is freed.
func (h *ResultHandle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// pendingRequest tracks one submitted job from dispatch (or enqueue)
// until its terminal outcome.
type pendingRequest struct {
	corrId      string
	jobType     string
	payload     any
	handle      *ResultHandle
	submittedAt time.Time
	timer       *time.Timer
}

func (r *pendingRequest) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
	}
}
