// Package kafkaqueue publishes delivery jobs to one Kafka topic per queue category and consumes
// them with a consumer group.
package kafkaqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
)

const fetchErrorBackoff = time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// Config holds configuration for Queue.
type Config struct {
	Brokers     []string
	GroupID     string
	TopicPrefix string
	// Concurrency is the number of group readers per category. Each reader handles its
	// partitions sequentially.
	Concurrency int
	Metrics     observability.QueueMetrics
}

// Queue implements queue.Queue on Kafka.
type Queue struct {
	cfg       Config
	writer    messageWriter
	newReader func(topic string) messageReader

	mu       sync.Mutex
	handlers map[datatypes.QueueCategory]queue.Handler
	readers  map[datatypes.QueueCategory][]messageReader
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Kafka-backed queue.
func New(cfg Config) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka queue requires at least one broker")
	}

	if cfg.GroupID == "" {
		return nil, errors.New("kafka queue requires group id")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}

	return newQueue(cfg, writer, func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
	}), nil
}

func newQueue(cfg Config, writer messageWriter, newReader func(topic string) messageReader) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Queue{
		cfg:       cfg,
		writer:    writer,
		newReader: newReader,
		handlers:  make(map[datatypes.QueueCategory]queue.Handler),
		readers:   make(map[datatypes.QueueCategory][]messageReader),
	}
}

// Topic returns the topic for category.
func (q *Queue) Topic(category datatypes.QueueCategory) string {
	return q.cfg.TopicPrefix + category.String()
}

// Process registers handler for category. Call before Start.
func (q *Queue) Process(category datatypes.QueueCategory, handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[category] = handler
}

// Enqueue writes job to the category topic keyed by app key, so one app's jobs keep their order.
func (q *Queue) Enqueue(ctx context.Context, category datatypes.QueueCategory, job *models.DeliveryJob) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()

	if stopped {
		return queue.ErrStopped
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Topic: q.Topic(category),
		Key:   []byte(job.AppKey),
		Value: body,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("write kafka message to %s: %w", q.Topic(category), err)
	}

	return nil
}

// Start opens Concurrency group readers per registered category.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return queue.ErrAlreadyActive
	}

	q.started = true

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel

	for category, handler := range q.handlers {
		for range q.cfg.Concurrency {
			reader := q.newReader(q.Topic(category))
			q.readers[category] = append(q.readers[category], reader)
			q.wg.Add(1)

			go q.consume(readCtx, category, reader, handler)
		}
	}

	return nil
}

func (q *Queue) consume(ctx context.Context, category datatypes.QueueCategory, reader messageReader, handler queue.Handler) {
	defer q.wg.Done()

	handlerCtx := context.WithoutCancel(ctx)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}

			slog.WarnContext(ctx, "kafka queue fetch failed", "queue", category, "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorBackoff):
			}

			continue
		}

		q.handle(handlerCtx, category, msg, handler)

		if err := reader.CommitMessages(handlerCtx, msg); err != nil {
			slog.WarnContext(ctx, "kafka queue commit failed", "queue", category, "offset", msg.Offset, "error", err)
		}
	}
}

func (q *Queue) handle(ctx context.Context, category datatypes.QueueCategory, msg kafka.Message, handler queue.Handler) {
	var job models.DeliveryJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		slog.ErrorContext(ctx, "kafka queue: discarding malformed job", "queue", category, "offset", msg.Offset, "error", err)

		return
	}

	status := "ok"
	if err := handler(ctx, &job); err != nil {
		status = "error"

		slog.ErrorContext(ctx, "queue job failed", "queue", category, "app_key", job.AppKey, "error", err)
	}

	if q.cfg.Metrics != nil {
		q.cfg.Metrics.RecordJobProcessed(ctx, category.String(), status)
	}
}

// Stop cancels fetching, waits for in-flight handlers or ctx, then closes readers and the writer.
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

	var errs []error

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("kafka queue stop: %w", ctx.Err()))
	}

	for _, readers := range q.readers {
		for _, r := range readers {
			if err := r.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close kafka reader: %w", err))
			}
		}
	}

	if err := q.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kafka writer: %w", err))
	}

	return errors.Join(errs...)
}

// Depth sums the consumer lag of the category's readers. Categories without readers report 0.
func (q *Queue) Depth(_ context.Context, category datatypes.QueueCategory) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var lag int64
	for _, r := range q.readers[category] {
		lag += r.Stats().Lag
	}

	return int(lag), nil
}

var (
	_ queue.Queue         = (*Queue)(nil)
	_ queue.DepthReporter = (*Queue)(nil)
)
