package taskqueue

import "errors"

var (
	// ErrInvalidConfiguration is returned by Register when the capacity bound is below 1.
	ErrInvalidConfiguration = errors.New("capacity bound must be at least 1")

	// ErrAlreadyRegistered is returned by Register when the job type already has a pool.
	ErrAlreadyRegistered = errors.New("job type is already registered")

	// ErrUnknownJobType is returned by operations on a job type that has no pool.
	ErrUnknownJobType = errors.New("job type is not registered")

	// ErrWorkerSpawnFailure is returned when a worker's init handshake fails.
	ErrWorkerSpawnFailure = errors.New("worker spawn failed")

	// ErrPoolSaturated is returned by Submit when every worker is busy and
	// the wait queue is at its configured depth.
	ErrPoolSaturated = errors.New("pool is saturated")

	// ErrJobTimeout rejects a handle whose deadline passed with no response.
	ErrJobTimeout = errors.New("job deadline exceeded")

	// ErrJobProcessing wraps an error the handler returned for a job.
	ErrJobProcessing = errors.New("job processing failed")

	// ErrWorkerTerminated rejects a handle whose worker was retired before responding.
	ErrWorkerTerminated = errors.New("worker was terminated")

	// ErrWorkerCrash rejects a handle whose worker exited unexpectedly mid-job.
	ErrWorkerCrash = errors.New("worker crashed")

	// ErrJobCanceled rejects a handle withdrawn by the caller.
	ErrJobCanceled = errors.New("job was canceled")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("manager is not active")
)
