// Package redisqueue keeps one Redis list per queue category. Producers LPUSH, consumers BRPOP.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
)

const (
	defaultPopTimeout = 2 * time.Second
	errorBackoff      = time.Second
)

// Config holds configuration for Queue.
type Config struct {
	// Prefix is prepended to the category to form the list key.
	Prefix      string
	Concurrency int
	// PopTimeout bounds each BRPOP so Stop is noticed.
	PopTimeout time.Duration
	Metrics    observability.QueueMetrics
}

// Queue implements queue.Queue on Redis lists.
type Queue struct {
	client *redis.Client
	cfg    Config

	mu       sync.RWMutex
	handlers map[datatypes.QueueCategory]queue.Handler
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	slog.Info("Successfully connected to Redis", "addr", opts.Addr)

	return client, nil
}

// New creates a Redis-backed queue. The caller owns client.
func New(client *redis.Client, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}

	return &Queue{
		client:   client,
		cfg:      cfg,
		handlers: make(map[datatypes.QueueCategory]queue.Handler),
	}
}

func (q *Queue) key(category datatypes.QueueCategory) string {
	return q.cfg.Prefix + category.String()
}

// Process registers handler for category. Call before Start.
func (q *Queue) Process(category datatypes.QueueCategory, handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[category] = handler
}

// Enqueue pushes job onto the category list.
func (q *Queue) Enqueue(ctx context.Context, category datatypes.QueueCategory, job *models.DeliveryJob) error {
	q.mu.RLock()
	stopped := q.stopped
	q.mu.RUnlock()

	if stopped {
		return queue.ErrStopped
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}

	if err := q.client.LPush(ctx, q.key(category), body).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key(category), err)
	}

	return nil
}

// Start launches Concurrency poppers per registered category.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return queue.ErrAlreadyActive
	}

	q.started = true

	popCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel

	for category, handler := range q.handlers {
		for range q.cfg.Concurrency {
			q.wg.Add(1)

			go q.consume(popCtx, category, handler)
		}
	}

	return nil
}

func (q *Queue) consume(ctx context.Context, category datatypes.QueueCategory, handler queue.Handler) {
	defer q.wg.Done()

	key := q.key(category)
	handlerCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		res, err := q.client.BRPop(ctx, q.cfg.PopTimeout, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}

			slog.WarnContext(ctx, "redis queue pop failed", "queue", category, "error", err)

			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}

			continue
		}

		// res is [key, value].
		var job models.DeliveryJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.ErrorContext(ctx, "redis queue: discarding malformed job", "queue", category, "error", err)

			continue
		}

		status := "ok"
		if err := handler(handlerCtx, &job); err != nil {
			status = "error"

			slog.ErrorContext(ctx, "queue job failed", "queue", category, "app_key", job.AppKey, "error", err)
		}

		if q.cfg.Metrics != nil {
			q.cfg.Metrics.RecordJobProcessed(handlerCtx, category.String(), status)
		}
	}
}

// Stop cancels the poppers and waits for in-flight handlers or ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()

		return nil
	}

	q.stopped = true
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	done := make(chan struct{})

	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("redis queue stop: %w", ctx.Err())
	}
}

// Depth returns the length of the category list.
func (q *Queue) Depth(ctx context.Context, category datatypes.QueueCategory) (int, error) {
	n, err := q.client.LLen(ctx, q.key(category)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key(category), err)
	}

	return int(n), nil
}

var (
	_ queue.Queue         = (*Queue)(nil)
	_ queue.DepthReporter = (*Queue)(nil)
)
