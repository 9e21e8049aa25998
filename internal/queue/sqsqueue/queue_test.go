package sqsqueue

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/queue"
)

// fakeSQS keeps one in-memory queue per URL.
type fakeSQS struct {
	mu       sync.Mutex
	queues   map[string][]types.Message
	deleted  []string
	receives []sqs.ReceiveMessageInput
	nextID   int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{queues: make(map[string][]types.Message)}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	handle := aws.String("rh-" + strconv.Itoa(f.nextID))
	f.queues[*in.QueueUrl] = append(f.queues[*in.QueueUrl], types.Message{Body: in.MessageBody, ReceiptHandle: handle})

	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receives = append(f.receives, *in)
	msgs := f.queues[*in.QueueUrl]
	n := min(len(msgs), int(in.MaxNumberOfMessages))
	out := msgs[:n]
	f.queues[*in.QueueUrl] = msgs[n:]
	f.mu.Unlock()

	if n == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, *in.ReceiptHandle)

	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.queues[*in.QueueUrl])

	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{"ApproximateNumberOfMessages": strconv.Itoa(n)},
	}, nil
}

const prefix = "https://sqs.us-east-1.amazonaws.com/123456789012/"

func TestQueue_QueueURL(t *testing.T) {
	q := New(newFakeSQS(), Config{QueueURLPrefix: prefix})
	assert.Equal(t, prefix+"channel_vacated_webhooks", q.QueueURL(datatypes.ChannelVacatedQueue))
}

func TestQueue_EnqueueDepth(t *testing.T) {
	fake := newFakeSQS()
	q := New(fake, Config{QueueURLPrefix: prefix})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{AppKey: "a"}))
	require.NoError(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{AppKey: "b"}))

	depth, err := q.Depth(ctx, datatypes.ClientEventQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestQueue_ProcessDeletesAfterHandling(t *testing.T) {
	fake := newFakeSQS()
	q := New(fake, Config{QueueURLPrefix: prefix, WaitTime: time.Second})

	received := make(chan string, 2)

	q.Process(datatypes.MemberRemovedQueue, func(_ context.Context, job *models.DeliveryJob) error {
		received <- job.AppKey

		return nil
	})

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, datatypes.MemberRemovedQueue, &models.DeliveryJob{AppKey: "a"}))
	require.NoError(t, q.Enqueue(ctx, datatypes.MemberRemovedQueue, &models.DeliveryJob{AppKey: "b"}))
	require.NoError(t, q.Start(ctx))

	for _, want := range []string{"a", "b"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("job %s not consumed", want)
		}
	}

	require.NoError(t, q.Stop(ctx))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.deleted, 2)

	require.ErrorIs(t, q.Enqueue(ctx, datatypes.MemberRemovedQueue, &models.DeliveryJob{}), queue.ErrStopped)
}

func TestQueue_ReceiveInput(t *testing.T) {
	tests := []struct {
		name           string
		cfg            Config
		wantMax        int32
		wantVisibility int32
	}{
		{"defaults cover a full batch", Config{}, 10, 330},
		{"derived from job budget", Config{MaxMessages: 2, JobBudget: 15 * time.Second}, 2, 60},
		{"explicit timeout", Config{MaxMessages: 1, VisibilityTimeout: 5 * time.Minute}, 1, 300},
		{"capped at the sqs maximum", Config{JobBudget: 24 * time.Hour}, 10, 43200},
		{"max messages clamped", Config{MaxMessages: 50, JobBudget: time.Second}, 10, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.QueueURLPrefix = prefix
			q := New(newFakeSQS(), tt.cfg)

			in := q.receiveInput(aws.String(q.QueueURL(datatypes.ClientEventQueue)))

			assert.Equal(t, tt.wantMax, in.MaxNumberOfMessages)
			assert.Equal(t, tt.wantVisibility, in.VisibilityTimeout)
			assert.Equal(t, int32(20), in.WaitTimeSeconds)
		})
	}
}

func TestQueue_PollHidesBatchForItsBudget(t *testing.T) {
	fake := newFakeSQS()
	q := New(fake, Config{QueueURLPrefix: prefix, MaxMessages: 4, JobBudget: 15 * time.Second})

	q.Process(datatypes.ChannelOccupiedQueue, func(context.Context, *models.DeliveryJob) error { return nil })

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()

		return len(fake.receives) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, q.Stop(ctx))

	fake.mu.Lock()
	defer fake.mu.Unlock()

	in := fake.receives[0]
	assert.Equal(t, prefix+"channel_occupied_webhooks", aws.ToString(in.QueueUrl))
	assert.Equal(t, int32(4), in.MaxNumberOfMessages)
	assert.Equal(t, int32(90), in.VisibilityTimeout)
}
