package redisqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/queue"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestQueue_FIFOPerCategory(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		keys []string
		done = make(chan struct{})
	)

	q := New(client, Config{Prefix: "test:", Concurrency: 1, PopTimeout: 200 * time.Millisecond})
	q.Process(datatypes.ClientEventQueue, func(_ context.Context, job *models.DeliveryJob) error {
		mu.Lock()
		defer mu.Unlock()

		keys = append(keys, job.AppKey)
		if len(keys) == 3 {
			close(done)
		}

		return nil
	})

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{AppKey: k}))
	}

	depth, err := q.Depth(ctx, datatypes.ClientEventQueue)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	require.NoError(t, q.Start(ctx))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("jobs were not processed")
	}

	require.NoError(t, q.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.ErrorIs(t, q.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{}), queue.ErrStopped)
}

func TestQueue_KeyUsesPrefix(t *testing.T) {
	q := New(nil, Config{Prefix: "pushgate:queue:"})
	assert.Equal(t, "pushgate:queue:member_added_webhooks", q.key(datatypes.MemberAddedQueue))
}
