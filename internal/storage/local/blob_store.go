// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/snowball-crawler/internal/storage"
)

const metaDir = ".meta"

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory; each container is a subdirectory.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes blobs under BaseDir/<container>/<name>. Metadata lives in
// JSON sidecars under BaseDir/.meta.
type BlobStore struct {
	baseDir string
}

// New creates a local blob store, creating BaseDir if needed and checking it
// is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Write replaces the blob and its metadata.
func (s *BlobStore) Write(_ context.Context, container, name string, data []byte, meta storage.Metadata) (string, error) {
	full, err := s.resolve(container, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := s.writeMeta(container, name, meta); err != nil {
		return "", err
	}
	return "file://" + full, nil
}

// Read returns the blob content and metadata.
func (s *BlobStore) Read(ctx context.Context, container, name string) ([]byte, storage.Metadata, error) {
	full, err := s.resolve(container, name)
	if err != nil {
		return nil, nil, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, nil, notFound(full, err)
	}
	meta, err := s.Metadata(ctx, container, name)
	if err != nil {
		return nil, nil, err
	}
	return data, meta, nil
}

// Exists reports whether the blob file is present.
func (s *BlobStore) Exists(_ context.Context, container, name string) (bool, error) {
	full, err := s.resolve(container, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", full, err)
	}
	return true, nil
}

// Metadata reads the sidecar; a blob without one has empty metadata.
func (s *BlobStore) Metadata(ctx context.Context, container, name string) (storage.Metadata, error) {
	ok, err := s.Exists(ctx, container, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("metadata %s/%s: %w", container, name, storage.ErrNotFound)
	}
	sidecar, err := s.resolve(metaDir, filepath.ToSlash(filepath.Join(container, name))+".json")
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	raw, err := os.ReadFile(sidecar)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	meta := storage.Metadata{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// Create makes an empty blob, failing when it exists.
func (s *BlobStore) Create(_ context.Context, container, name string, meta storage.Metadata) (string, error) {
	full, err := s.resolve(container, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("create %s: %w", full, storage.ErrExists)
	}
	if err != nil {
		return "", fmt.Errorf("create %s: %w", full, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", full, err)
	}
	if err := s.writeMeta(container, name, meta); err != nil {
		return "", err
	}
	return "file://" + full, nil
}

// Append writes data at the end of an existing blob.
func (s *BlobStore) Append(_ context.Context, container, name string, data []byte) error {
	full, err := s.resolve(container, name)
	if err != nil {
		return err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	f, err := os.OpenFile(full, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return notFound(full, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", full, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", full, err)
	}
	return nil
}

func (s *BlobStore) writeMeta(container, name string, meta storage.Metadata) error {
	sidecar, err := s.resolve(metaDir, filepath.ToSlash(filepath.Join(container, name))+".json")
	if err != nil {
		return err
	}
	if len(meta) == 0 {
		if err := os.Remove(sidecar); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove metadata: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(sidecar), 0o750); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := os.WriteFile(sidecar, raw, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Locator returns the file:// locator of a blob.
func (s *BlobStore) Locator(container, name string) (string, error) {
	full, err := s.resolve(container, name)
	if err != nil {
		return "", err
	}
	return "file://" + full, nil
}

// resolve maps container and name to a path inside baseDir.
func (s *BlobStore) resolve(container, name string) (string, error) {
	rel, err := storage.ObjectPath(container, name)
	if err != nil {
		return "", err
	}
	full := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(rel)))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

func notFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("open %s: %w", path, storage.ErrNotFound)
	}
	return fmt.Errorf("open %s: %w", path, err)
}
