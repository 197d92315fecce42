package redisstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := New(client)
	require.NoError(t, err)
	return s, srv
}

func TestUpsertClassification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	rec := store.Record{Key: "7", Value: json.RawMessage(`{"a":1}`), Timestamp: 1}
	out, err := s.Upsert(ctx, "ns", rec)
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Inserted}, out)

	out, err = s.Upsert(ctx, "ns", rec)
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Unchanged}, out)

	out, err = s.Upsert(ctx, "ns", store.Record{Key: "7", Value: json.RawMessage(`{"a":2}`), Timestamp: 2})
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Updated}, out)
}

func TestUpsertWritesWireShape(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, srv := newTestStore(t)

	_, err := s.Upsert(ctx, "snowball:comments", store.Record{
		Key:       "100",
		Value:     json.RawMessage(`{"latest_id": 5, "count": 2}`),
		Timestamp: 1700000000000,
		Tag:       ":getter",
		Hint:      "snowball:comments:",
	})
	require.NoError(t, err)

	raw := srv.HGet("snowball:comments", "100")
	require.JSONEq(t,
		`{"k":"100","v":{"count":2,"latest_id":5},"t":1700000000000,"tls":":getter","tlp":"snowball:comments:"}`,
		raw,
	)

	rec, ok, err := s.Lookup(ctx, "snowball:comments", "100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ":getter", rec.Tag)
	require.JSONEq(t, `{"count":2,"latest_id":5}`, string(rec.Value))
}

func TestUpsertBatchKeepsInputOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Upsert(ctx, "ns", store.Record{Key: "a", Value: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)

	out, err := s.Upsert(ctx, "ns",
		store.Record{Key: "b", Value: json.RawMessage(`{"x":1}`)},
		store.Record{Key: "a", Value: json.RawMessage(`{"x":1}`)},
		store.Record{Key: "a", Value: json.RawMessage(`{"x":2}`)},
	)
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Inserted, store.Unchanged, store.Updated}, out)
}

func TestReadOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, srv := newTestStore(t)

	_, err := s.Upsert(ctx, "ns",
		store.Record{Key: "2", Value: json.RawMessage(`{"latest_id":20}`)},
		store.Record{Key: "1", Value: json.RawMessage(`{"latest_id":10}`)},
	)
	require.NoError(t, err)
	// A bare value written by another producer.
	srv.HSet("ns", "3", `{"other":1}`)

	keys, err := s.Keys(ctx, "ns")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, keys)

	field, err := s.Get(ctx, "ns", "latest_id")
	require.NoError(t, err)
	require.Equal(t, map[string]json.RawMessage{
		"1": json.RawMessage(`10`),
		"2": json.RawMessage(`20`),
	}, field)

	all, err := s.GetAll(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.JSONEq(t, `{"other":1}`, string(all["3"].Value))

	_, ok, err := s.Lookup(ctx, "ns", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentUpsertsInsertOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.Upsert(ctx, "ns", store.Record{Key: "k", Value: json.RawMessage(`{"v":1}`)})
			if err != nil || len(out) != 1 {
				return
			}
			if out[0] == store.Inserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, inserted)
}

func TestUnavailableStore(t *testing.T) {
	t.Parallel()

	s, srv := newTestStore(t)
	srv.Close()

	_, err := s.Keys(context.Background(), "ns")
	require.ErrorIs(t, err, store.ErrUnavailable)
}
