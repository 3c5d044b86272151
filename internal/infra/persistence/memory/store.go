// Package memory keeps checkpoint buckets in process memory.
package memory

import (
	"bytes"
	"context"
	"sync"
)

// Store is a map of bucket name to JSON payload.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]byte
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{buckets: make(map[string][]byte)}
}

// Load returns a copy of every bucket.
func (s *Store) Load(ctx context.Context) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = bytes.Clone(v)
	}
	return out, nil
}

// Save replaces one bucket.
func (s *Store) Save(ctx context.Context, bucket string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucket] = bytes.Clone(payload)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
