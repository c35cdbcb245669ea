package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// The message contract between a pool and its execution units.
//
// Each worker receives exactly one initMessage at spawn and must
// acknowledge readiness before it is marked available. After that it
// receives jobMessages and emits exactly one resultMessage per
// jobMessage, never anything unsolicited. An exit for any reason
// other than a requested stop is reported through the exit-signal
// channel instead of the result channel.

type initMessage struct {
	HandlerName string
}

type jobMessage struct {
	CorrelationId string
	JobType       string
	Payload       any
}

type resultMessage struct {
	CorrelationId string
	WorkerId      string
	Result        any
	Err           error
}

// exitSignal reports a worker leaving its run loop unexpectedly,
// currently only because its handler panicked.
type exitSignal struct {
	WorkerId string
	Cause    error
}

const handshakeTimeout = 5 * time.Second

// worker is a single execution unit: one goroutine owning one inbox,
// processing at most one job at a time.
type worker struct {
	// the worker id
	id string

	// channel from which the worker consumes jobs; capacity one, so
	// assigning a job to an idle worker never blocks the dispatcher
	inbox chan jobMessage

	// channel to signal the worker to stop working
	quit chan struct{}

	results chan<- resultMessage
	exits   chan<- exitSignal
	log     *slog.Logger
}

// spawnWorker starts a new execution unit and performs the init
// handshake: the worker resolves its handler from the mux and
// acknowledges readiness before spawnWorker returns. A failed
// handshake leaves no running goroutine behind.
func spawnWorker(id string, init initMessage, mux *Mux, results chan<- resultMessage, exits chan<- exitSignal, log *slog.Logger) (*worker, error) {
	w := &worker{
		id:      id,
		inbox:   make(chan jobMessage, 1),
		quit:    make(chan struct{}),
		results: results,
		exits:   exits,
		log:     log,
	}

	ready := make(chan error, 1)
	go w.run(init, mux, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWorkerSpawnFailure, err)
		}
	case <-time.After(handshakeTimeout):
		close(w.quit)
		return nil, fmt.Errorf("%w: init handshake timed out", ErrWorkerSpawnFailure)
	}

	return w, nil
}

func (w *worker) run(init initMessage, mux *Mux, ready chan<- error) {
	h, err := mux.Handler(init.HandlerName)
	if err != nil {
		ready <- err
		return
	}
	ready <- nil

	w.log.Info("worker ready", "worker_id", w.id, "handler", init.HandlerName)

	// The job context is canceled when the worker is told to quit, so
	// a cooperating handler can bail out during teardown. The pool
	// always closes quit when it discards a handle, which also
	// releases this watcher.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.quit
		cancel()
	}()

	defer func() {
		if rec := recover(); rec != nil {
			select {
			case w.exits <- exitSignal{WorkerId: w.id, Cause: fmt.Errorf("handler panic: %v", rec)}:
			case <-w.quit:
			}
		}
	}()

	for {
		select {
		case <-w.quit:
			w.log.Info("worker stopped", "worker_id", w.id)
			return
		case msg := <-w.inbox:
			value, jobErr := h.ProcessJob(ctx, &Job{id: msg.CorrelationId, jobType: msg.JobType, payload: msg.Payload})

			select {
			case w.results <- resultMessage{CorrelationId: msg.CorrelationId, WorkerId: w.id, Result: value, Err: jobErr}:
			case <-w.quit:
				return
			}
		}
	}
}
