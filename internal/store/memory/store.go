// Package memory provides an in-memory versioned record store for local
// development and tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/JakeFAU/snowball-crawler/internal/store"
)

// Store keeps namespaces in maps guarded by a single mutex.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]store.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{namespaces: make(map[string]map[string]store.Record)}
}

// Upsert writes records and classifies each one.
func (s *Store) Upsert(_ context.Context, namespace string, records ...store.Record) ([]store.Outcome, error) {
	normalized := make([]store.Record, 0, len(records))
	for _, rec := range records {
		n, err := store.Normalize(rec)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]store.Record)
		s.namespaces[namespace] = ns
	}
	outcomes := make([]store.Outcome, 0, len(normalized))
	for _, rec := range normalized {
		prev, exists := ns[rec.Key]
		switch {
		case !exists:
			outcomes = append(outcomes, store.Inserted)
		case bytes.Equal(prev.Value, rec.Value):
			outcomes = append(outcomes, store.Unchanged)
			continue
		default:
			outcomes = append(outcomes, store.Updated)
		}
		ns[rec.Key] = rec
	}
	return outcomes, nil
}

// Get projects field from every record value.
func (s *Store) Get(_ context.Context, namespace, field string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for key, rec := range s.namespaces[namespace] {
		if v, ok := store.Project(rec.Value, field); ok {
			out[key] = v
		}
	}
	return out, nil
}

// GetAll returns a copy of the namespace.
func (s *Store) GetAll(_ context.Context, namespace string) (map[string]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.Record, len(s.namespaces[namespace]))
	for key, rec := range s.namespaces[namespace] {
		out[key] = rec
	}
	return out, nil
}

// Keys lists keys in lexical order.
func (s *Store) Keys(_ context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.namespaces[namespace]))
	for key := range s.namespaces[namespace] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Lookup returns a single record.
func (s *Store) Lookup(_ context.Context, namespace, key string) (store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.namespaces[namespace][key]
	return rec, ok, nil
}
