// Package chat provides the internal representations of chat transcript
// entries, request statuses, and history records which are then further
// mutated and handled by the courier engine.
package chat

import "time"

// Roles for transcript entries.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Status of a streamed assistant reply.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Mode selects how a send is dispatched.
type Mode string

const (
	ModeNormal  Mode = "normal"  // queued-task path
	ModeDirect  Mode = "direct"  // streaming path when no forced routing applies
	ModeComplex Mode = "complex" // queued-task path with a fixed forced intent
)

// Entry is a single message in the rendered transcript.
type Entry struct {
	RequestID string    `json:"request_id"`
	Role      string    `json:"role"` // "system", "user", "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Status    Status    `json:"status,omitempty"` // assistant entries only
}
