// Package sqsqueue runs delivery jobs on Amazon SQS, one queue URL per category.
package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
)

const (
	waitTimeSeconds     = 20
	maxMessagesPerPoll  = 10
	receiveErrorBackoff = time.Second

	defaultJobBudget     = 30 * time.Second
	visibilityMargin     = 30 * time.Second
	maxVisibilityTimeout = 12 * time.Hour
)

// API is the subset of the SQS client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config holds configuration for Queue.
type Config struct {
	// QueueURLPrefix is joined with the category name to form the queue URL.
	QueueURLPrefix string
	Concurrency    int
	// WaitTime is the long-poll duration; SQS caps it at 20 seconds.
	WaitTime time.Duration
	// MaxMessages is taken per poll and handled in order (1 to 10).
	MaxMessages int
	// JobBudget is the longest one handler call may take.
	JobBudget time.Duration
	// VisibilityTimeout overrides the derived MaxMessages*JobBudget plus a margin. Received
	// messages stay hidden from other pollers this long, so a batch must finish within it.
	VisibilityTimeout time.Duration
	Metrics           observability.QueueMetrics
}

// Queue implements queue.Queue on SQS. Messages are deleted once their handler returns.
type Queue struct {
	client API
	cfg    Config

	mu       sync.Mutex
	handlers map[datatypes.QueueCategory]queue.Handler
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New creates an SQS-backed queue.
func New(client API, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	if cfg.WaitTime <= 0 || cfg.WaitTime > waitTimeSeconds*time.Second {
		cfg.WaitTime = waitTimeSeconds * time.Second
	}

	if cfg.MaxMessages <= 0 || cfg.MaxMessages > maxMessagesPerPoll {
		cfg.MaxMessages = maxMessagesPerPoll
	}

	if cfg.JobBudget <= 0 {
		cfg.JobBudget = defaultJobBudget
	}

	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = time.Duration(cfg.MaxMessages)*cfg.JobBudget + visibilityMargin
	}

	cfg.VisibilityTimeout = min(cfg.VisibilityTimeout, maxVisibilityTimeout)

	return &Queue{
		client:   client,
		cfg:      cfg,
		handlers: make(map[datatypes.QueueCategory]queue.Handler),
	}
}

// QueueURL returns the queue URL for category.
func (q *Queue) QueueURL(category datatypes.QueueCategory) string {
	return q.cfg.QueueURLPrefix + category.String()
}

// Process registers handler for category. Call before Start.
func (q *Queue) Process(category datatypes.QueueCategory, handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[category] = handler
}

// Enqueue sends job to the category queue.
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

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.QueueURL(category)),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send sqs message to %s: %w", category, err)
	}

	return nil
}

// Start launches Concurrency pollers per registered category.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return queue.ErrAlreadyActive
	}

	q.started = true

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel

	for category, handler := range q.handlers {
		for range q.cfg.Concurrency {
			q.wg.Add(1)

			go q.poll(pollCtx, category, handler)
		}
	}

	return nil
}

func (q *Queue) poll(ctx context.Context, category datatypes.QueueCategory, handler queue.Handler) {
	defer q.wg.Done()

	url := aws.String(q.QueueURL(category))
	handlerCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		out, err := q.client.ReceiveMessage(ctx, q.receiveInput(url))
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			slog.WarnContext(ctx, "sqs queue receive failed", "queue", category, "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveErrorBackoff):
			}

			continue
		}

		for _, msg := range out.Messages {
			q.handle(handlerCtx, category, msg, handler)

			_, err := q.client.DeleteMessage(handlerCtx, &sqs.DeleteMessageInput{
				QueueUrl:      url,
				ReceiptHandle: msg.ReceiptHandle,
			})
			if err != nil {
				slog.WarnContext(ctx, "sqs queue delete failed", "queue", category, "error", err)
			}
		}
	}
}

// receiveInput hides the received batch for the whole time it takes to handle it in order.
func (q *Queue) receiveInput(url *string) *sqs.ReceiveMessageInput {
	//nolint:gosec // G115: every value is clamped in New and fits int32
	return &sqs.ReceiveMessageInput{
		QueueUrl:            url,
		MaxNumberOfMessages: int32(q.cfg.MaxMessages),
		WaitTimeSeconds:     int32(q.cfg.WaitTime / time.Second),
		VisibilityTimeout:   int32(q.cfg.VisibilityTimeout / time.Second),
	}
}

func (q *Queue) handle(ctx context.Context, category datatypes.QueueCategory, msg types.Message, handler queue.Handler) {
	var job models.DeliveryJob
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		slog.ErrorContext(ctx, "sqs queue: discarding malformed job", "queue", category, "error", err)

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

// Stop cancels polling and waits for in-flight handlers or ctx.
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
		return fmt.Errorf("sqs queue stop: %w", ctx.Err())
	}
}

// Depth reports ApproximateNumberOfMessages for the category queue.
func (q *Queue) Depth(ctx context.Context, category datatypes.QueueCategory) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.QueueURL(category)),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("get sqs queue attributes for %s: %w", category, err)
	}

	n, err := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	if err != nil {
		return 0, fmt.Errorf("parse sqs queue depth for %s: %w", category, err)
	}

	return n, nil
}

var (
	_ queue.Queue         = (*Queue)(nil)
	_ queue.DepthReporter = (*Queue)(nil)
)
