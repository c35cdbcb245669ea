package taskqueue

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)
import "github.com/stretchr/testify/require"

import (
	"github.com/monpro/distributed-task-queue/queue"
	"github.com/monpro/distributed-task-queue/queue/sqlite"
)

func newTestConsumer(t *testing.T, m *Manager) (*Consumer, queue.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "taskqueue.db")
	store, err := sqlite.NewSqlite(dbPath, slogger)
	require.NoError(t, err)

	c, err := NewConsumer(&ConsumerConfig{
		Manager:      m,
		Store:        store,
		Logger:       slogger,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c, store
}

func TestNewConsumer_RequiresManagerAndStore(t *testing.T) {
	_, err := NewConsumer(nil)
	require.Error(t, err)

	_, err = NewConsumer(&ConsumerConfig{})
	require.Error(t, err)
}

func TestConsumer_EndToEnd(t *testing.T) {
	mux := NewMux()
	mux.Handle("upper", HandlerFunc(func(_ context.Context, job *Job) (any, error) {
		return strings.ToUpper(string(job.Payload().([]byte))), nil
	}))

	m := newTestManager(t, &Config{Mux: mux})
	require.NoError(t, m.Register("upper", "upper", 2))

	c, store := newTestConsumer(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	id, err := c.Enqueue(ctx, "upper", []byte("hello"), queue.EnqueueOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msg, lookupErr := store.Lookup(ctx, id)
		return lookupErr == nil && msg != nil && msg.Status == queue.StatusCompleted
	}, 5*time.Second, 50*time.Millisecond)

	metrics, err := store.Metrics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), metrics.Completed)
}

func TestConsumer_FailedJobRetriesThenFails(t *testing.T) {
	mux := NewMux()
	mux.Handle("failing", HandlerFunc(func(_ context.Context, _ *Job) (any, error) {
		return nil, errors.New("downstream unavailable")
	}))

	m := newTestManager(t, &Config{Mux: mux})
	require.NoError(t, m.Register("failing", "failing", 1))

	c, store := newTestConsumer(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	id, err := c.Enqueue(ctx, "failing", []byte("doomed"), queue.EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msg, lookupErr := store.Lookup(ctx, id)
		return lookupErr == nil && msg != nil && msg.Status == queue.StatusFailed
	}, 5*time.Second, 50*time.Millisecond)

	msg, err := store.Lookup(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, msg.Attempts)
}

func TestConsumer_UnregisteredJobTypeFailsMessage(t *testing.T) {
	m := newTestManager(t, nil)
	c, store := newTestConsumer(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	// nothing registered for this job type: its single attempt fails
	id, err := c.Enqueue(ctx, "nobody-home", []byte("lost"), queue.EnqueueOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msg, lookupErr := store.Lookup(ctx, id)
		return lookupErr == nil && msg != nil && msg.Status == queue.StatusFailed
	}, 5*time.Second, 50*time.Millisecond)
}
