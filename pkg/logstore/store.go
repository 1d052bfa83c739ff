package logstore

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreClosed is returned by Append after Close.
var ErrStoreClosed = errors.New("log store is closed")

// Entry is one record of the append-only device update log.
type Entry struct {
	DeviceID   string   `json:"device_id" dynamodbav:"device_id"`
	DeviceType string   `json:"device_type,omitempty" dynamodbav:"device_type,omitempty"`
	Timestamp  int64    `json:"timestamp" dynamodbav:"timestamp"`
	Status     string   `json:"status,omitempty" dynamodbav:"status,omitempty"`
	Level      *float64 `json:"current_level,omitempty" dynamodbav:"current_level,omitempty"`
	Raw        string   `json:"raw" dynamodbav:"raw"`
	ExpiresAt  int64    `json:"expires_at,omitempty" dynamodbav:"expires_at,omitempty"`
}

// Store appends device update records.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// MemoryStore keeps the most recent entries in a bounded ring.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	closed  bool
}

// NewMemoryStore creates a ring holding up to capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{entries: make([]Entry, capacity)}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns up to n entries, newest first. n <= 0 returns all of them.
func (s *MemoryStore) Recent(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.entries)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
