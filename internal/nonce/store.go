// Package nonce implements the replay-defense primitive: a durable set of
// one-time values with atomic insert-if-absent semantics.
package nonce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Interval is the symmetric timestamp window for v1.0/1.1 launches; a launch
// whose oauth_timestamp differs from the server clock by more than this is
// rejected. Expiry is the independent garbage-collection window: records
// older than this may be pruned, but pruning is maintenance, never a
// correctness dependency of TryInsert.
const (
	Interval = 5 * time.Minute
	Expiry   = 90 * time.Minute
)

// Record is one accepted nonce.
type Record struct {
	Value       string
	ConsumerKey string
	Timestamp   int64 // unix seconds as presented by the platform
}

// Store is the replay-defense linchpin. TryInsert must be atomic with
// respect to concurrent callers presenting the same value: exactly one
// observes ok=true, all others ok=false. Implementations must not be a
// separate existence-check plus insert.
type Store interface {
	TryInsert(ctx context.Context, value, consumerKey string, timestamp int64) (bool, error)
	Find(ctx context.Context, value string) (*Record, error)
	// PruneExpired deletes records accepted before the cutoff. Expired
	// entries that have not been pruned still block replay.
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

// ErrNotFound is returned by Find when the value was never accepted.
var ErrNotFound = errors.New("nonce: not found")

// MemoryStore is a process-local Store (dev/tests). Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Record, 256)}
}

func (s *MemoryStore) TryInsert(_ context.Context, value, consumerKey string, timestamp int64) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, errors.New("nonce: value is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[value]; exists {
		return false, nil
	}
	s.entries[value] = Record{Value: value, ConsumerKey: consumerKey, Timestamp: timestamp}
	return true, nil
}

func (s *MemoryStore) Find(_ context.Context, value string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[value]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) PruneExpired(_ context.Context, before time.Time) (int64, error) {
	cutoff := before.Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for v, rec := range s.entries {
		if rec.Timestamp < cutoff {
			delete(s.entries, v)
			n++
		}
	}
	return n, nil
}
