package redisqueue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/queue/queuetest"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := New(client, "test-consumer")
	require.NoError(t, err)
	return q, srv
}

func TestQueueContract(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		q, _ := newTestQueue(t)
		return q
	})
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "c")
	require.Error(t, err)

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	_, err = New(client, "")
	require.Error(t, err)
}

func TestPopParksItemInFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, srv := newTestQueue(t)
	require.NoError(t, q.Push(ctx, "snowball:comments", 100))

	lease, err := q.Pop(ctx, "snowball:comments")
	require.NoError(t, err)
	require.Equal(t, "100", string(lease.Payload))

	parked, err := srv.List("snowball:comments:inflight:test-consumer")
	require.NoError(t, err)
	require.Equal(t, []string{"100"}, parked)

	require.NoError(t, q.Ack(ctx, lease))
	parked, _ = srv.List("snowball:comments:inflight:test-consumer")
	require.Empty(t, parked)
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t)
	srv.Close()

	_, err := q.Pop(context.Background(), "q")
	require.ErrorIs(t, err, queue.ErrUnavailable)
}
