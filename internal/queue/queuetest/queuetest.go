// Package queuetest holds behavioral tests shared by every queue.Store
// implementation.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/queue"
)

// Run exercises the queue.Store contract against stores built by newStore.
// Every call to newStore must return a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) queue.Store) {
	t.Helper()

	t.Run("FIFO", func(t *testing.T) {
		ctx := context.Background()
		q := newStore(t)
		require.NoError(t, q.Push(ctx, "q", 1, 2))
		require.NoError(t, q.Push(ctx, "q", json.RawMessage(`3`)))

		for _, want := range []string{"1", "2", "3"} {
			lease, err := q.Pop(ctx, "q")
			require.NoError(t, err)
			require.Equal(t, want, string(lease.Payload))
			require.NoError(t, q.Ack(ctx, lease))
		}
		_, err := q.Pop(ctx, "q")
		require.ErrorIs(t, err, queue.ErrEmpty)
	})

	t.Run("ListDoesNotRemove", func(t *testing.T) {
		ctx := context.Background()
		q := newStore(t)
		require.NoError(t, q.Push(ctx, "q", "a", "b", "c"))

		items, err := q.List(ctx, "q", 0, -1)
		require.NoError(t, err)
		require.Equal(t, []string{`"a"`, `"b"`, `"c"`}, asStrings(items))

		items, err = q.List(ctx, "q", 1, 1)
		require.NoError(t, err)
		require.Equal(t, []string{`"b"`}, asStrings(items))

		items, err = q.List(ctx, "q", 5, 9)
		require.NoError(t, err)
		require.Empty(t, items)

		n, err := q.Len(ctx, "q")
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
	})

	t.Run("RequeueAppendsAtTail", func(t *testing.T) {
		ctx := context.Background()
		q := newStore(t)
		require.NoError(t, q.Push(ctx, "q", map[string]int{"id": 1}, map[string]int{"id": 2}))

		lease, err := q.Pop(ctx, "q")
		require.NoError(t, err)
		require.NoError(t, q.Requeue(ctx, lease, nil))

		lease, err = q.Pop(ctx, "q")
		require.NoError(t, err)
		require.JSONEq(t, `{"id":2}`, string(lease.Payload))
		require.NoError(t, q.Requeue(ctx, lease, map[string]int{"id": 2, "time": 5}))

		items, err := q.List(ctx, "q", 0, -1)
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.JSONEq(t, `{"id":1}`, string(items[0]))
		require.JSONEq(t, `{"id":2,"time":5}`, string(items[1]))
	})

	t.Run("SettlingTwiceFails", func(t *testing.T) {
		ctx := context.Background()
		q := newStore(t)
		require.NoError(t, q.Push(ctx, "q", "x"))
		lease, err := q.Pop(ctx, "q")
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, lease))
		require.ErrorIs(t, q.Ack(ctx, lease), queue.ErrUnknownLease)
		require.ErrorIs(t, q.Requeue(ctx, lease, nil), queue.ErrUnknownLease)

		n, err := q.Len(ctx, "q")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("RecoverRestoresUnsettledItems", func(t *testing.T) {
		ctx := context.Background()
		base := newStore(t)
		crashed := base.WithConsumer("worker-1")
		require.NoError(t, base.Push(ctx, "q", "a", "b", "c"))

		_, err := crashed.Pop(ctx, "q")
		require.NoError(t, err)
		_, err = crashed.Pop(ctx, "q")
		require.NoError(t, err)

		// Another consumer has nothing parked.
		n, err := base.WithConsumer("worker-2").Recover(ctx, "q")
		require.NoError(t, err)
		require.Zero(t, n)

		restarted := base.WithConsumer("worker-1")
		n, err = restarted.Recover(ctx, "q")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		items, err := base.List(ctx, "q", 0, -1)
		require.NoError(t, err)
		require.Equal(t, []string{`"a"`, `"b"`, `"c"`}, asStrings(items))
	})

	t.Run("ConcurrentPopIsExclusive", func(t *testing.T) {
		ctx := context.Background()
		base := newStore(t)
		const total = 200
		items := make([]any, total)
		for i := range items {
			items[i] = i
		}
		require.NoError(t, base.Push(ctx, "q", items...))

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(consumer queue.Store) {
				defer wg.Done()
				for {
					lease, err := consumer.Pop(ctx, "q")
					if err != nil {
						return
					}
					mu.Lock()
					seen[string(lease.Payload)]++
					mu.Unlock()
					_ = consumer.Ack(ctx, lease)
				}
			}(base.WithConsumer(fmt.Sprintf("w%d", w)))
		}
		wg.Wait()

		require.Len(t, seen, total)
		for item, count := range seen {
			require.Equal(t, 1, count, "item %s delivered more than once", item)
		}
	})
}

func asStrings(items []json.RawMessage) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = string(item)
	}
	return out
}
