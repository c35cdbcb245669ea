package taskqueue

import "context"

// A Handler processes jobs.
//
// ProcessJob should return the job's result if processing
// is successful.
//
// If ProcessJob returns a non-nil error, the job's handle is
// rejected with that error. If ProcessJob panics, the worker
// running it is considered crashed and is never reused.
type Handler interface {
	ProcessJob(context.Context, *Job) (any, error)
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as a Handler. If f is a function
// with the appropriate signature, HandlerFunc(f) is a
// Handler that calls f.
type HandlerFunc func(context.Context, *Job) (any, error)

// ProcessJob calls fn(ctx, job)
func (fn HandlerFunc) ProcessJob(ctx context.Context, job *Job) (any, error) {
	return fn(ctx, job)
}
