// Package historystore persists request-history records: the authoritative
// per-request status feed that the engine's pruner polls.
package historystore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is one request's authoritative history row.
type Record struct {
	RequestID  string     `json:"request_id"`
	SessionID  string     `json:"session_id"`
	Status     string     `json:"status"`
	Prompt     string     `json:"prompt"`
	Answer     string     `json:"answer,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store persists and retrieves history records.
type Store interface {
	// Put inserts or replaces the record keyed by its RequestID.
	Put(ctx context.Context, rec *Record) error

	// Get retrieves a record. Returns ErrNotFound when absent.
	Get(ctx context.Context, requestID string) (*Record, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]*Record, error)

	// BySession returns a session's records in chronological order.
	BySession(ctx context.Context, sessionID string) ([]*Record, error)

	// Close releases any resources.
	Close() error
}

// ErrNotFound is returned when a record doesn't exist in the store.
type ErrNotFound struct {
	RequestID string
}

func (e ErrNotFound) Error() string {
	if e.RequestID == "" {
		return "history record not found"
	}
	return "history record not found: " + e.RequestID
}

// MemoryStore is an in-memory Store for tests and ephemeral dev servers.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.RequestID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, requestID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[requestID]
	if !ok {
		return nil, ErrNotFound{RequestID: requestID}
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) BySession(_ context.Context, sessionID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.SessionID == sessionID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
