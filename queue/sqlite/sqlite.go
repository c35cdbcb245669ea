package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/monpro/distributed-task-queue/queue"
)

var (
	createQueues = `create table if not exists queues (
    		id TEXT not null primary key,
    		name TEXT not null unique,
    		created_at TEXT not null default (strftime('%Y-%m-%dT%H:%M:%fZ'))
		) strict;`

	createMessages = `CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL PRIMARY KEY,
			payload BLOB,
			status TEXT not null default 'waiting',
			queue_id TEXT NOT NULL,
			attempts INTEGER not null default 0,
			max_attempts INTEGER not null default 1,
			retry_delay_ms INTEGER not null default 0,
			visible_at TEXT not null,
			created_at TEXT not null default (strftime('%Y-%m-%dT%H:%M:%fZ')),
			updated_at TEXT not null default (strftime('%Y-%m-%dT%H:%M:%fZ')),
			FOREIGN KEY(queue_id) REFERENCES queues(name)
		) strict;`
)

type id struct {
	Id string `db:"id"`
}

// Sqlite is the durable store: messages survive the process and are
// dequeued by visibility time, with attempt counting for retry.
type Sqlite struct {
	logger *slog.Logger
	clock  queue.Clock
	db     *sqlx.DB
}

func NewSqlite(dbPath string, logger *slog.Logger) (*Sqlite, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec("PRAGMA journal_size_limit = 67108864;")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec("PRAGMA mmap_size = 134217728;")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec("PRAGMA cache_size = 2000;")
	if err != nil {
		return nil, err
	}

	s := &Sqlite{db: db, logger: logger, clock: queue.NewRealClock()}

	ctx := context.Background()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err = tx.ExecContext(ctx, createQueues)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, createMessages)
		if err != nil {
			return err
		}

		return nil
	})

	return s, err
}

func (s *Sqlite) CreateQueue(ctx context.Context, queueName string) (err error) {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err = tx.ExecContext(ctx, `INSERT INTO queues (id, name) values ($1, $2)`, ulid.Make().String(), queueName)
		if err != nil {
			return err
		}

		return nil
	})
}

func (s *Sqlite) QueueExists(ctx context.Context, queueName string) bool {
	var q queue.QueueRecord
	row := s.db.QueryRowxContext(ctx, `select * from queues where name = $1`, queueName)
	if row.Err() != nil {
		return false
	}

	return row.StructScan(&q) == nil
}

// Enqueue puts a message on a queue and returns its id.
func (s *Sqlite) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	msgId := ulid.Make().String()
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	visibleAt := s.clock.Now().Add(opts.Delay).UTC().Format(queue.Rfc3339Milli)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		writeQuery := `insert into messages (id, payload, queue_id, max_attempts, retry_delay_ms, visible_at) values ($1, $2, $3, $4, $5, $6)`
		_, innerErr := tx.ExecContext(ctx, writeQuery, msgId, payload, queueName, maxAttempts, opts.RetryDelay.Milliseconds(), visibleAt)
		return innerErr
	})
	if err != nil {
		return "", err
	}

	return msgId, nil
}

// Dequeue fetches the oldest visible waiting message, marks it active
// and counts the attempt. ULID ids sort by creation time, so ordering
// by id is ordering by age.
func (s *Sqlite) Dequeue(ctx context.Context) (message queue.Message, err error) {
	getFirstItem := `select id from messages where datetime(visible_at) <= CURRENT_TIMESTAMP and status = 'waiting' order by id limit 1;`
	claimItem := `update messages set status = 'active', attempts = attempts + 1, updated_at = (strftime('%Y-%m-%dT%H:%M:%fZ')) where id = $1 returning *;`

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, getFirstItem)
		if row.Err() != nil {
			return row.Err()
		}

		var rowValue id
		if rowScanErr := row.StructScan(&rowValue); rowScanErr != nil {
			return rowScanErr
		}

		row = tx.QueryRowxContext(ctx, claimItem, rowValue.Id)
		if row.Err() != nil {
			return row.Err()
		}

		return row.StructScan(&message)
	})

	if errors.Is(err, sql.ErrNoRows) {
		return message, queue.ErrNoMessage
	}

	return message, err
}

// Lookup returns the message with the given id, or nil.
func (s *Sqlite) Lookup(ctx context.Context, msgId string) (*queue.Message, error) {
	var message queue.Message
	row := s.db.QueryRowxContext(ctx, `select * from messages where id = $1`, msgId)
	if row.Err() != nil {
		return nil, row.Err()
	}

	if err := row.StructScan(&message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &message, nil
}

// Complete marks an active message completed.
func (s *Sqlite) Complete(ctx context.Context, msgId string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `update messages set status = 'completed', updated_at = (strftime('%Y-%m-%dT%H:%M:%fZ')) where id = $1 and status = 'active'`, msgId)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("message %s is not active", msgId)
		}
		return nil
	})
}

// Fail records a failed attempt. The message is made visible again
// after its retry delay, or marked failed once attempts are exhausted.
func (s *Sqlite) Fail(ctx context.Context, msgId string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `select * from messages where id = $1`, msgId)
		if row.Err() != nil {
			return row.Err()
		}

		var msg queue.Message
		if err := row.StructScan(&msg); err != nil {
			return err
		}

		if msg.Attempts >= msg.MaxAttempts {
			_, err := tx.ExecContext(ctx, `update messages set status = 'failed', updated_at = (strftime('%Y-%m-%dT%H:%M:%fZ')) where id = $1`, msgId)
			return err
		}

		retryAt := s.clock.Now().Add(time.Duration(msg.RetryDelayMs) * time.Millisecond).UTC().Format(queue.Rfc3339Milli)
		_, err := tx.ExecContext(ctx, `update messages set status = 'waiting', visible_at = $1, updated_at = (strftime('%Y-%m-%dT%H:%M:%fZ')) where id = $2`, retryAt, msgId)
		return err
	})
}

// Metrics returns aggregate message counts by status across all queues.
func (s *Sqlite) Metrics(ctx context.Context) (m queue.Metrics, err error) {
	metricsQuery := `select
		count(*) filter (where status = 'waiting') as waiting,
		count(*) filter (where status = 'active') as active,
		count(*) filter (where status = 'completed') as completed,
		count(*) filter (where status = 'failed') as failed
	from messages;`

	row := s.db.QueryRowxContext(ctx, metricsQuery)
	if row.Err() != nil {
		return m, row.Err()
	}

	err = row.StructScan(&m)
	return m, err
}

func (s *Sqlite) inTx(ctx context.Context, cb func(*sqlx.Tx) error) (err error) {
	tx, beginErr := s.db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return fmt.Errorf("cannot start tx: %w", beginErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = rollback(tx, nil)
			panic(rec)
		}
	}()

	if err = cb(tx); err != nil {
		return rollback(tx, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("cannot commit tx: %w", commitErr)
	}

	return nil
}

func rollback(tx *sqlx.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("cannot roll back tx after error (tx error: %v), original error: %w", rollbackErr, err)
	}
	return err
}
