package taskqueue

import (
	"context"
	"testing"
)
import "github.com/stretchr/testify/require"

func TestMux_HandleAndLookup(t *testing.T) {
	mux := NewMux()
	mux.Handle("upper", HandlerFunc(func(_ context.Context, job *Job) (any, error) {
		return job.Payload(), nil
	}))

	h, err := mux.Handler("upper")
	require.NoError(t, err)

	out, err := h.ProcessJob(context.Background(), &Job{id: "01", jobType: "upper", payload: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestMux_UnknownHandler(t *testing.T) {
	mux := NewMux()

	_, err := mux.Handler("missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing")
}

func TestMux_ReplaceHandler(t *testing.T) {
	mux := NewMux()
	mux.Handle("versioned", HandlerFunc(func(_ context.Context, _ *Job) (any, error) {
		return 1, nil
	}))
	mux.Handle("versioned", HandlerFunc(func(_ context.Context, _ *Job) (any, error) {
		return 2, nil
	}))

	h, err := mux.Handler("versioned")
	require.NoError(t, err)

	out, err := h.ProcessJob(context.Background(), &Job{})
	require.NoError(t, err)
	require.Equal(t, 2, out)
}
