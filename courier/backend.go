package courier

import (
	"context"
	"io"
	"time"

	"github.com/driftline/courier/pkg/chat"
)

// StreamRequest is the payload of a streaming send.
type StreamRequest struct {
	Content     string  `json:"content"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	SessionID   string  `json:"session_id"`
}

// StreamResponse is an accepted streaming send: the correlation id from the
// x-request-id response header (may be empty) and the event-stream body.
// The body is exclusively owned by its one read loop and must be released
// exactly once on every exit path.
type StreamResponse struct {
	RequestID string
	Body      io.ReadCloser
}

// QueuedTask is the payload of a queued-task send.
type QueuedTask struct {
	Content           string            `json:"content"`
	StoreKnowledge    bool              `json:"store_knowledge"`
	Params            GenerationParams  `json:"params"`
	Runtime           *RuntimeInfo      `json:"runtime,omitempty"`
	ForcedRoute       string            `json:"forced_route,omitempty"`
	ForcedIntent      string            `json:"forced_intent,omitempty"`
	PreferredLanguage string            `json:"preferred_language,omitempty"`
	SessionID         string            `json:"session_id"`
	PreferenceScope   string            `json:"preference_scope,omitempty"`
}

// GenerationParams are the model inference parameters carried by a task.
type GenerationParams struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// TaskReceipt acknowledges a queued send.
type TaskReceipt struct {
	TaskID string `json:"task_id"`
}

// RuntimeInfo is the correlation metadata captured from a runtime switch,
// attached to at most the next send.
type RuntimeInfo struct {
	ConfigHash string `json:"config_hash"`
	RuntimeID  string `json:"runtime_id"`
}

// MemoryRecord is the best-effort memory ingestion payload.
type MemoryRecord struct {
	Text       string    `json:"text"`
	Category   string    `json:"category"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	Pinned     bool      `json:"pinned"`
	MemoryType string    `json:"memory_type,omitempty"`
	Scope      string    `json:"scope,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Backend is the outbound collaborator contract the engine drives. The
// HTTP implementation lives in this package; tests substitute fakes.
type Backend interface {
	// SendStreaming submits content for an incremental event-stream reply.
	SendStreaming(ctx context.Context, req StreamRequest) (*StreamResponse, error)

	// SendQueuedTask submits content for asynchronous processing.
	SendQueuedTask(ctx context.Context, task QueuedTask) (TaskReceipt, error)

	// SwitchRuntime activates a different provider/model pairing.
	SwitchRuntime(ctx context.Context, provider, model string) (RuntimeInfo, error)

	// IngestMemory stores conversational memory. Best-effort: callers log
	// failures and never surface them.
	IngestMemory(ctx context.Context, rec MemoryRecord) error

	// NewSession obtains a fresh session id.
	NewSession(ctx context.Context) (string, error)

	// History fetches the authoritative request history snapshot.
	History(ctx context.Context) ([]chat.HistoryEntry, error)

	// SessionHistory fetches the per-session transcript.
	SessionHistory(ctx context.Context, sessionID string) ([]chat.Entry, error)
}
