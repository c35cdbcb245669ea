package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)
import "github.com/stretchr/testify/require"

func TestWorker_HandshakeAndRoundTrip(t *testing.T) {
	mux := NewMux()
	mux.Handle("double", HandlerFunc(func(_ context.Context, job *Job) (any, error) {
		return job.Payload().(int) * 2, nil
	}))

	results := make(chan resultMessage, 1)
	exits := make(chan exitSignal, 1)

	w, err := spawnWorker("worker_1", initMessage{HandlerName: "double"}, mux, results, exits, slogger)
	require.NoError(t, err)
	defer close(w.quit)

	w.inbox <- jobMessage{CorrelationId: "corr_1", JobType: "double", Payload: 21}

	select {
	case res := <-results:
		require.Equal(t, "corr_1", res.CorrelationId)
		require.Equal(t, "worker_1", res.WorkerId)
		require.NoError(t, res.Err)
		require.Equal(t, 42, res.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("no response from worker")
	}
}

func TestWorker_UnknownHandlerFailsHandshake(t *testing.T) {
	results := make(chan resultMessage, 1)
	exits := make(chan exitSignal, 1)

	_, err := spawnWorker("worker_1", initMessage{HandlerName: "missing"}, NewMux(), results, exits, slogger)
	require.ErrorIs(t, err, ErrWorkerSpawnFailure)
}

func TestWorker_HandlerErrorIsAResponse(t *testing.T) {
	mux := NewMux()
	mux.Handle("failing", HandlerFunc(func(_ context.Context, _ *Job) (any, error) {
		return nil, errors.New("bad input")
	}))

	results := make(chan resultMessage, 1)
	exits := make(chan exitSignal, 1)

	w, err := spawnWorker("worker_1", initMessage{HandlerName: "failing"}, mux, results, exits, slogger)
	require.NoError(t, err)
	defer close(w.quit)

	w.inbox <- jobMessage{CorrelationId: "corr_1", JobType: "failing", Payload: nil}

	select {
	case res := <-results:
		require.Equal(t, "corr_1", res.CorrelationId)
		require.EqualError(t, res.Err, "bad input")
	case <-time.After(2 * time.Second):
		t.Fatal("no response from worker")
	}
}

func TestWorker_PanicEmitsExitSignal(t *testing.T) {
	mux := NewMux()
	mux.Handle("boom", HandlerFunc(func(_ context.Context, _ *Job) (any, error) {
		panic("boom")
	}))

	results := make(chan resultMessage, 1)
	exits := make(chan exitSignal, 1)

	w, err := spawnWorker("worker_1", initMessage{HandlerName: "boom"}, mux, results, exits, slogger)
	require.NoError(t, err)
	defer close(w.quit)

	w.inbox <- jobMessage{CorrelationId: "corr_1", JobType: "boom", Payload: nil}

	select {
	case sig := <-exits:
		require.Equal(t, "worker_1", sig.WorkerId)
		require.Contains(t, sig.Cause.Error(), "boom")
	case res := <-results:
		t.Fatalf("expected exit signal, got response %+v", res)
	case <-time.After(2 * time.Second):
		t.Fatal("no exit signal from worker")
	}
}
