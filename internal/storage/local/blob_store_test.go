// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/storage"
	"github.com/JakeFAU/snowball-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		s, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, s)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "blobs")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := s.Write(ctx, storage.ContainerSource, "100.json", []byte(`{"id":100}`), storage.Metadata{"editetime": "7", "category": "1"})
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "source", "100.json"), uri)

	data, meta, err := s.Read(ctx, storage.ContainerSource, "100.json")
	require.NoError(t, err)
	assert.Equal(t, `{"id":100}`, string(data))
	assert.Equal(t, storage.Metadata{"editetime": "7", "category": "1"}, meta)

	_, err = s.Write(ctx, storage.ContainerSource, "100.json", []byte(`{}`), nil)
	require.NoError(t, err)
	meta, err = s.Metadata(ctx, storage.ContainerSource, "100.json")
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestAppendLog(t *testing.T) {
	s, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, s.Append(ctx, "source", "100.yaml", []byte("x")), storage.ErrNotFound)

	created, err := s.Create(ctx, "source", "100.yaml", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "source", "100.yaml", nil)
	require.ErrorIs(t, err, storage.ErrExists)
	loc, err := storage.EnsureLog(ctx, s, "source", "100.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, created, loc)

	require.NoError(t, s.Append(ctx, "source", "100.yaml", []byte("---\na\n...\n")))
	require.NoError(t, s.Append(ctx, "source", "100.yaml", []byte("---\nb\n...\n")))

	data, _, err := s.Read(ctx, "source", "100.yaml")
	require.NoError(t, err)
	assert.Equal(t, "---\na\n...\n---\nb\n...\n", string(data))
}

func TestRejectsTraversal(t *testing.T) {
	s, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = s.Write(context.Background(), "source", "../../etc/passwd", []byte("x"), nil)
	assert.Error(t, err)
	_, err = s.Write(context.Background(), "", "a.json", []byte("x"), nil)
	assert.Error(t, err)

	ok, err := s.Exists(context.Background(), "source", "missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, err = s.Read(context.Background(), "source", "missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
