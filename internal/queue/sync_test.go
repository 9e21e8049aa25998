package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
)

func TestSyncQueue_DeliversToRegisteredHandler(t *testing.T) {
	q := NewSyncQueue(2, 16, nil)

	var (
		mu   sync.Mutex
		seen []string
	)

	q.Process(datatypes.MemberAddedQueue, func(_ context.Context, job *models.DeliveryJob) error {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, job.AppKey)

		return nil
	})

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, datatypes.MemberAddedQueue, &models.DeliveryJob{AppKey: key}))
	}

	require.NoError(t, q.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestSyncQueue_NoConsumer(t *testing.T) {
	q := NewSyncQueue(1, 1, nil)
	require.NoError(t, q.Start(context.Background()))

	err := q.Enqueue(context.Background(), datatypes.ChannelVacatedQueue, &models.DeliveryJob{})
	require.ErrorIs(t, err, ErrNoConsumer)
}

func TestSyncQueue_EnqueueAfterStop(t *testing.T) {
	q := NewSyncQueue(1, 1, nil)
	q.Process(datatypes.ClientEventQueue, func(context.Context, *models.DeliveryJob) error { return nil })
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Stop(context.Background()))

	err := q.Enqueue(context.Background(), datatypes.ClientEventQueue, &models.DeliveryJob{})
	require.ErrorIs(t, err, ErrStopped)
}

func TestSyncQueue_HandlerErrorDoesNotStopWorker(t *testing.T) {
	q := NewSyncQueue(1, 4, nil)

	var calls atomic.Int32

	q.Process(datatypes.ClientEventQueue, func(context.Context, *models.DeliveryJob) error {
		calls.Add(1)

		return errors.New("boom")
	})

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{}))
	require.NoError(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{}))
	require.NoError(t, q.Stop(ctx))

	assert.Equal(t, int32(2), calls.Load())
}

func TestSyncQueue_StartTwice(t *testing.T) {
	q := NewSyncQueue(1, 1, nil)
	require.NoError(t, q.Start(context.Background()))
	require.ErrorIs(t, q.Start(context.Background()), ErrAlreadyActive)
}

func TestSyncQueue_Depth(t *testing.T) {
	q := NewSyncQueue(1, 8, nil)
	q.Process(datatypes.ClientEventQueue, func(context.Context, *models.DeliveryJob) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{}))
	require.NoError(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{}))

	depth, err := q.Depth(ctx, datatypes.ClientEventQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}
