package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/storage"
)

func TestBlobStoreWriteCopiesData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewBlobStore()
	payload := []byte("content")
	uri, err := s.Write(ctx, storage.ContainerSource, "100.json", payload, storage.Metadata{"editetime": "5"})
	require.NoError(t, err)
	require.Equal(t, "memory://source/100.json", uri)

	payload[0] = 'C'
	data, meta, err := s.Read(ctx, storage.ContainerSource, "100.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(data))
	require.Equal(t, "5", meta["editetime"])
}

func TestBlobStoreAppendLog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewBlobStore()

	err := s.Append(ctx, "source", "100.yaml", []byte("x"))
	require.ErrorIs(t, err, storage.ErrNotFound)

	loc, err := storage.EnsureLog(ctx, s, "source", "100.yaml", nil)
	require.NoError(t, err)
	require.Equal(t, "memory://source/100.yaml", loc)
	loc, err = storage.EnsureLog(ctx, s, "source", "100.yaml", nil)
	require.NoError(t, err)
	require.Equal(t, "memory://source/100.yaml", loc)
	_, err = s.Create(ctx, "source", "100.yaml", nil)
	require.ErrorIs(t, err, storage.ErrExists)

	require.NoError(t, s.Append(ctx, "source", "100.yaml", []byte("a")))
	require.NoError(t, s.Append(ctx, "source", "100.yaml", []byte("b")))
	data, _, err := s.Read(ctx, "source", "100.yaml")
	require.NoError(t, err)
	require.Equal(t, "ab", string(data))
	require.Equal(t, []string{"100.yaml"}, s.Names("source"))
}

func TestBlobStoreMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewBlobStore()
	ok, err := s.Exists(ctx, "schema", "1.json")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = s.Metadata(ctx, "schema", "1.json")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Write(ctx, "schema", "../1.json", nil, nil)
	require.Error(t, err)
}
