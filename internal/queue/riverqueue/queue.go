package riverqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
)

var errNotStarted = errors.New("river queue not started")

// noJobTimeout disables River's per-job context deadline. Transports bound each delivery.
const noJobTimeout time.Duration = -1

// Config holds configuration for Queue.
type Config struct {
	// Concurrency is MaxWorkers for every category queue.
	Concurrency int
	// Migrate runs River's schema migrations in Start.
	Migrate bool
	Metrics observability.QueueMetrics
}

// Queue implements queue.Queue on River. One River queue is configured per registered
// category; with no registered categories the client is insert-only.
type Queue struct {
	pool *pgxpool.Pool
	cfg  Config

	mu       sync.RWMutex
	handlers map[datatypes.QueueCategory]queue.Handler
	client   *river.Client[pgx.Tx]
	working  bool
	stopped  bool
}

// New creates a River-backed queue on pool.
func New(pool *pgxpool.Pool, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Queue{
		pool:     pool,
		cfg:      cfg,
		handlers: make(map[datatypes.QueueCategory]queue.Handler),
	}
}

// Process registers handler for category. Call before Start.
func (q *Queue) Process(category datatypes.QueueCategory, handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[category] = handler
}

// Start migrates (when configured), builds the River client and starts working registered queues.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.client != nil {
		return queue.ErrAlreadyActive
	}

	driver := riverpgxv5.New(q.pool)

	if q.cfg.Migrate {
		migrator, err := rivermigrate.New(driver, nil)
		if err != nil {
			return fmt.Errorf("create river migrator: %w", err)
		}

		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return fmt.Errorf("migrate river schema: %w", err)
		}
	}

	riverCfg := q.riverConfig()

	client, err := river.NewClient(driver, riverCfg)
	if err != nil {
		return fmt.Errorf("create River client: %w", err)
	}

	if len(q.handlers) > 0 {
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("start River client: %w", err)
		}

		q.working = true
	}

	q.client = client

	slog.Info("River queue started", "categories", len(q.handlers), "migrate", q.cfg.Migrate)

	return nil
}

// riverConfig builds the client configuration. With no registered categories the client
// gets no queues or workers and can only insert.
func (q *Queue) riverConfig() *river.Config {
	riverCfg := &river.Config{
		ErrorHandler: &ErrorHandler{},
		JobTimeout:   noJobTimeout,
	}

	if len(q.handlers) == 0 {
		return riverCfg
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewDeliveryWorker(q.handlers, q.cfg.Metrics))

	queues := make(map[string]river.QueueConfig, len(q.handlers))
	for category := range q.handlers {
		queues[category.String()] = river.QueueConfig{MaxWorkers: q.cfg.Concurrency}
	}

	riverCfg.Queues = queues
	riverCfg.Workers = workers

	return riverCfg
}

// Enqueue inserts job into the category's River queue.
func (q *Queue) Enqueue(ctx context.Context, category datatypes.QueueCategory, job *models.DeliveryJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return queue.ErrStopped
	}

	if q.client == nil {
		return errNotStarted
	}

	if _, err := q.client.Insert(ctx, NewDeliveryJobArgs(category, job), nil); err != nil {
		return fmt.Errorf("insert river job for %s: %w", category, err)
	}

	return nil
}

// Stop stops fetching new jobs and waits for running ones or ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return nil
	}

	q.stopped = true

	if q.client == nil || !q.working {
		return nil
	}

	if err := q.client.Stop(ctx); err != nil {
		return fmt.Errorf("river stop: %w", err)
	}

	return nil
}

// Depth counts jobs waiting in the category queue.
func (q *Queue) Depth(ctx context.Context, category datatypes.QueueCategory) (int, error) {
	var count int

	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state::text IN ($2, $3, $4)`,
		category.String(),
		string(rivertype.JobStateAvailable), string(rivertype.JobStateRetryable), string(rivertype.JobStateScheduled),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count river jobs for %s: %w", category, err)
	}

	return count, nil
}

var (
	_ queue.Queue         = (*Queue)(nil)
	_ queue.DepthReporter = (*Queue)(nil)
)
