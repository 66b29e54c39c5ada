// Package transcript owns the ordered list of UI-visible chat entries and
// the reconciliation operations that keep a locally generated request id
// and its backend-confirmed counterpart pointing at one logical entry.
package transcript

import (
	"sync"
	"time"

	"github.com/driftline/courier/pkg/chat"
)

// Transcript is a mutable, ordered collection of chat entries. All mutation
// goes through its own operations, each a discrete synchronous step.
type Transcript struct {
	mu      sync.Mutex
	entries []chat.Entry
	notify  func()
}

// New creates an empty transcript. notify, if non-nil, is invoked after
// every mutation; change detection is the caller's concern.
func New(notify func()) *Transcript {
	return &Transcript{notify: notify}
}

// Upsert finds the entry matching (RequestID, Role) and replaces its content
// and status; the timestamp is filled only if previously empty. If no entry
// matches, a new one is appended. Repeated calls with identical input never
// create duplicates.
func (t *Transcript) Upsert(e chat.Entry) {
	t.mu.Lock()
	for i := range t.entries {
		if t.entries[i].RequestID == e.RequestID && t.entries[i].Role == e.Role {
			t.entries[i].Content = e.Content
			if e.Status != "" {
				t.entries[i].Status = e.Status
			}
			if t.entries[i].Timestamp.IsZero() {
				t.entries[i].Timestamp = e.Timestamp
			}
			if t.entries[i].SessionID == "" {
				t.entries[i].SessionID = e.SessionID
			}
			t.mu.Unlock()
			t.changed()
			return
		}
	}
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	t.changed()
}

// ReassignUser rewrites every user entry bearing fromID to bear toID,
// unifying the local and backend ids for the same human message.
func (t *Transcript) ReassignUser(fromID, toID string) {
	t.mu.Lock()
	for i := range t.entries {
		if t.entries[i].RequestID == fromID && t.entries[i].Role == chat.RoleUser {
			t.entries[i].RequestID = toID
		}
	}
	t.mu.Unlock()
	t.changed()
}

// Has reports whether an entry matching (requestID, role) exists.
func (t *Transcript) Has(requestID, role string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].RequestID == requestID && t.entries[i].Role == role {
			return true
		}
	}
	return false
}

// Entries returns a snapshot copy of the transcript in order.
func (t *Transcript) Entries() []chat.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chat.Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// AppendedAt returns the local timestamp of the (requestID, role) entry.
func (t *Transcript) AppendedAt(requestID, role string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].RequestID == requestID && t.entries[i].Role == role {
			return t.entries[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

func (t *Transcript) changed() {
	if t.notify != nil {
		t.notify()
	}
}
