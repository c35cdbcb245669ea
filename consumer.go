package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/monpro/distributed-task-queue/packer"
	"github.com/monpro/distributed-task-queue/queue"
)

const defaultPollInterval = 100 * time.Millisecond

// Consumer bridges the durable store and the in-process pools: it
// polls the store for visible messages and uses the Manager as its
// execution backend, feeding each message's terminal outcome back so
// the store can retry or archive. The store alone provides
// persistence and crash-safe retry; the pools provide bounded
// in-process execution.
type Consumer struct {
	manager *Manager
	store   queue.Store
	logger  *slog.Logger
	poll    time.Duration
}

type ConsumerConfig struct {
	Manager      *Manager
	Store        queue.Store
	Logger       *slog.Logger
	PollInterval time.Duration
}

func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || cfg.Manager == nil || cfg.Store == nil {
		return nil, errors.New("consumer requires a manager and a store")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Consumer{
		manager: cfg.Manager,
		store:   cfg.Store,
		logger:  cfg.Logger,
		poll:    cfg.PollInterval,
	}, nil
}

// Enqueue wraps payload in a routing envelope and writes it to the
// durable store under jobType's queue, creating the queue on first use.
func (c *Consumer) Enqueue(ctx context.Context, jobType string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	if !c.store.QueueExists(ctx, jobType) {
		if err := c.store.CreateQueue(ctx, jobType); err != nil {
			return "", err
		}
	}

	raw, err := packer.EncodeMessage(&packer.Envelope{JobType: jobType, Payload: payload})
	if err != nil {
		return "", err
	}

	return c.store.Enqueue(ctx, jobType, raw, opts)
}

// Start polls the store until ctx is done. Each visible message is
// submitted to its job type's pool; completion and failure are
// written back to the store.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("consumer started", "poll_interval", c.poll.String())

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return
		case <-ticker.C:
			c.pump(ctx)
		}
	}
}

// pump drains every currently visible message before going back to sleep.
func (c *Consumer) pump(ctx context.Context) {
	for {
		msg, err := c.store.Dequeue(ctx)
		if errors.Is(err, queue.ErrNoMessage) {
			return
		}
		if err != nil {
			c.logger.Error(err.Error(), "func", "store.Dequeue")
			return
		}

		c.dispatch(ctx, msg)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg queue.Message) {
	var env packer.Envelope
	if err := packer.DecodeMessage(msg.Payload, &env); err != nil {
		c.logger.Error("dropping undecodable message", "id", msg.Id, "error", err)
		c.failMessage(msg.Id)
		return
	}

	handle, err := c.manager.Submit(env.JobType, env.Payload)
	if err != nil {
		// saturated or unregistered: release the message back to the
		// store so its retry policy decides what happens next
		c.logger.Warn("submit failed", "id", msg.Id, "job_type", env.JobType, "error", err)
		c.failMessage(msg.Id)
		return
	}

	go func() {
		if _, waitErr := handle.Wait(ctx); waitErr != nil {
			c.logger.Warn("job failed", "id", msg.Id, "job_type", env.JobType, "error", waitErr)
			c.failMessage(msg.Id)
			return
		}
		c.completeMessage(msg.Id)
	}()
}

func (c *Consumer) failMessage(msgId string) {
	err := NewRetry(3, 50*time.Millisecond, func() error {
		return c.store.Fail(context.Background(), msgId)
	}).Do()
	if err != nil {
		c.logger.Error(err.Error(), "func", "store.Fail", "id", msgId)
	}
}

func (c *Consumer) completeMessage(msgId string) {
	err := NewRetry(3, 50*time.Millisecond, func() error {
		return c.store.Complete(context.Background(), msgId)
	}).Do()
	if err != nil {
		c.logger.Error(err.Error(), "func", "store.Complete", "id", msgId)
	}
}
