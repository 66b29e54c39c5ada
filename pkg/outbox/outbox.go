// Package outbox owns the set of in-flight optimistic requests: locally
// identified placeholders for outgoing sends that exist before any
// backend-confirmed id does. A primary map keyed by client id plus a
// secondary alias map associate the client id, the backend request id,
// and the latency instrumentation slot for one logical request.
package outbox

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/courier/pkg/chat"
)

// Hints carries the optional routing metadata captured at submission time.
type Hints struct {
	ForcedTool     string
	ForcedProvider string
	ForcedIntent   string
	Simple         bool
	Mode           chat.Mode
}

// Request is one optimistic placeholder. Exactly one instance exists per
// client id until dropped.
type Request struct {
	ClientID  string
	ServerID  string // empty until linked
	Prompt    string
	CreatedAt time.Time // wall clock
	StartedAt time.Time // monotonic reading taken at enqueue
	Confirmed bool
	Hints     Hints
}

// Timing is the latency instrumentation slot for a request. The slot is
// addressable by client id or, after linking, by server id - it is moved,
// never duplicated.
type Timing struct {
	T0         time.Time
	TTFTMs     int64
	HistoryMs  int64
	HasTTFT    bool
	HasHistory bool
}

// Store holds placeholders and their timing slots. Operations are discrete
// synchronous steps; the mutex keeps them atomic under concurrent sends.
type Store struct {
	mu       sync.Mutex
	requests map[string]*Request // keyed by client id
	order    []string            // client ids in enqueue order
	alias    map[string]string   // client id -> server id, set on link
	timings  map[string]*Timing  // keyed by client id, moved on link
	counter  uint64              // fallback suffix when randomness is unavailable
	now      func() time.Time
}

// New creates an empty store. now may be nil, defaulting to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		requests: make(map[string]*Request),
		alias:    make(map[string]string),
		timings:  make(map[string]*Timing),
		now:      now,
	}
}

// Enqueue appends an unconfirmed placeholder and starts its timing slot.
// Pure and synchronous - no network call happens here, so the caller's UI
// can reflect the outgoing message with no perceived latency. The returned
// client id is unique for the store's lifetime.
func (s *Store) Enqueue(prompt string, hints Hints) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := s.newClientID(now)
	s.requests[id] = &Request{
		ClientID:  id,
		Prompt:    prompt,
		CreatedAt: now,
		StartedAt: now,
		Hints:     hints,
	}
	s.order = append(s.order, id)
	s.timings[id] = &Timing{T0: now}
	return id
}

// newClientID builds a time-prefixed id with a random suffix, falling back
// to a monotonic counter suffix if secure randomness is unavailable.
func (s *Store) newClientID(now time.Time) string {
	suffix := ""
	if u, err := uuid.NewRandom(); err == nil {
		suffix = u.String()[:8]
	} else {
		s.counter++
		suffix = "f" + strconv.FormatUint(s.counter, 10)
	}
	return fmt.Sprintf("c%d-%s", now.UnixMilli(), suffix)
}

// Link marks the placeholder confirmed and, when serverID differs from the
// client id, moves the timing slot to the new key and records an alias so
// later lookups by either id resolve to the same slot. Unknown client ids
// are a silent no-op to tolerate races with concurrent drops. Re-linking
// with the same server id is a no-op.
func (s *Store) Link(clientID, serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[clientID]
	if !ok {
		return
	}
	req.Confirmed = true
	if serverID == "" || serverID == clientID || req.ServerID == serverID {
		return
	}
	req.ServerID = serverID
	if t, ok := s.timings[clientID]; ok {
		delete(s.timings, clientID)
		s.timings[serverID] = t
	}
	s.alias[clientID] = serverID
}

// Drop removes the placeholder, its alias, and its timing slot. The timing
// key is resolved through the alias first, else the raw id is used. No-op
// on unknown ids.
func (s *Store) Drop(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[clientID]; !ok {
		return
	}
	delete(s.requests, clientID)
	for i, id := range s.order {
		if id == clientID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	key := clientID
	if a, ok := s.alias[clientID]; ok {
		key = a
	}
	delete(s.timings, key)
	delete(s.alias, clientID)
}

// Get returns a copy of the placeholder for clientID.
func (s *Store) Get(clientID string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[clientID]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// Pending returns copies of all live placeholders in enqueue order.
func (s *Store) Pending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.order))
	for _, id := range s.order {
		if req, ok := s.requests[id]; ok {
			out = append(out, *req)
		}
	}
	return out
}

// Len reports the number of live placeholders.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
