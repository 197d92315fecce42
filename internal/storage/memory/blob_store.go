// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/snowball-crawler/internal/storage"
)

type blob struct {
	data []byte
	meta storage.Metadata
}

// BlobStore keeps blobs in a map and returns memory:// locators.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*blob
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]*blob)}
}

// Write replaces the blob.
func (s *BlobStore) Write(_ context.Context, container, name string, data []byte, meta storage.Metadata) (string, error) {
	key, err := storage.ObjectPath(container, name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = &blob{data: append([]byte(nil), data...), meta: meta.Clone()}
	return locator(key), nil
}

// Read returns copies of the blob content and metadata.
func (s *BlobStore) Read(_ context.Context, container, name string) ([]byte, storage.Metadata, error) {
	b, err := s.lookup(container, name)
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), b.data...), b.meta.Clone(), nil
}

// Exists reports whether the blob is present.
func (s *BlobStore) Exists(_ context.Context, container, name string) (bool, error) {
	key, err := storage.ObjectPath(container, name)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

// Metadata returns the blob metadata.
func (s *BlobStore) Metadata(_ context.Context, container, name string) (storage.Metadata, error) {
	b, err := s.lookup(container, name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return b.meta.Clone(), nil
}

// Create adds an empty blob.
func (s *BlobStore) Create(_ context.Context, container, name string, meta storage.Metadata) (string, error) {
	key, err := storage.ObjectPath(container, name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return "", fmt.Errorf("create %s: %w", key, storage.ErrExists)
	}
	s.blobs[key] = &blob{meta: meta.Clone()}
	return locator(key), nil
}

// Append adds data to the end of an existing blob.
func (s *BlobStore) Append(_ context.Context, container, name string, data []byte) error {
	key, err := storage.ObjectPath(container, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return fmt.Errorf("append %s: %w", key, storage.ErrNotFound)
	}
	b.data = append(b.data, data...)
	return nil
}

// Locator returns the memory:// locator of a blob.
func (s *BlobStore) Locator(container, name string) (string, error) {
	key, err := storage.ObjectPath(container, name)
	if err != nil {
		return "", err
	}
	return locator(key), nil
}

// Names lists the blobs of a container in lexical order.
func (s *BlobStore) Names(container string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := container + "/"
	var names []string
	for key := range s.blobs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			names = append(names, key[len(prefix):])
		}
	}
	sort.Strings(names)
	return names
}

func (s *BlobStore) lookup(container, name string) (*blob, error) {
	key, err := storage.ObjectPath(container, name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", key, storage.ErrNotFound)
	}
	return b, nil
}

func locator(key string) string {
	return "memory://" + key
}
