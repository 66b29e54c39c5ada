package chat

import "time"

// Backend request statuses as reported by the authoritative history feed.
const (
	HistoryProcessing = "PROCESSING"
	HistoryCompleted  = "COMPLETED"
	HistoryFailed     = "FAILED"
	HistoryLost       = "LOST"
)

// HistoryEntry is one record from the authoritative per-user history feed.
// It is pruning input only and is never mutated locally.
type HistoryEntry struct {
	RequestID  string     `json:"request_id"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether no further updates will arrive for a status.
func Terminal(status string) bool {
	switch status {
	case HistoryCompleted, HistoryFailed, HistoryLost:
		return true
	}
	return false
}
