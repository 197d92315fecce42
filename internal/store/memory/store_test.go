package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/store"
)

func TestStoreUpsertClassification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	first := store.Record{Key: "7", Value: json.RawMessage(`{"a":1}`), Timestamp: 1}
	out, err := s.Upsert(ctx, "ns", first)
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Inserted}, out)

	out, err = s.Upsert(ctx, "ns", first)
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Unchanged}, out)

	out, err = s.Upsert(ctx, "ns", store.Record{Key: "7", Value: json.RawMessage(`{"a":2}`), Timestamp: 2})
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Updated}, out)

	rec, ok, err := s.Lookup(ctx, "ns", "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), rec.Timestamp)
	require.JSONEq(t, `{"a":2}`, string(rec.Value))
}

func TestStoreUnchangedIgnoresTimestampKeyOrderAndNumberForm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.Upsert(ctx, "ns", store.Record{Key: "k", Value: json.RawMessage(`{"a":1,"b":2}`), Timestamp: 1})
	require.NoError(t, err)

	out, err := s.Upsert(ctx, "ns", store.Record{Key: "k", Value: json.RawMessage(`{"b":2,"a":1}`), Timestamp: 99})
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Unchanged}, out)

	out, err = s.Upsert(ctx, "ns", store.Record{Key: "k", Value: json.RawMessage(`{"a":1.0,"b":2e0}`), Timestamp: 100})
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Unchanged}, out)

	rec, _, err := s.Lookup(ctx, "ns", "k")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Timestamp)
}

func TestStoreGetKeysAndGetAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.Upsert(ctx, "ns",
		store.Record{Key: "b", Value: json.RawMessage(`{"latest_id":2}`)},
		store.Record{Key: "a", Value: json.RawMessage(`{"latest_id":1}`)},
		store.Record{Key: "c", Value: json.RawMessage(`{"other":true}`)},
	)
	require.NoError(t, err)

	keys, err := s.Keys(ctx, "ns")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, keys)

	field, err := s.Get(ctx, "ns", "latest_id")
	require.NoError(t, err)
	require.Len(t, field, 2)
	require.Equal(t, "1", string(field["a"]))

	all, err := s.GetAll(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, all, 3)

	empty, err := s.GetAll(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStoreRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	_, err := New().Upsert(context.Background(), "ns", store.Record{Key: "", Value: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, store.ErrInvalidRecord)
}
