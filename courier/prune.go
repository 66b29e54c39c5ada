package courier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/metrics"
)

// Prune compares live placeholders against a freshly fetched authoritative
// history snapshot and retires those whose backend id matches a terminal
// entry. Placeholders without a backend id, or whose match is not yet
// terminal, are retained unchanged. The most recently retired entry's
// duration is reported through the retirement callback exactly once per
// pass, last-wins when several retire together. Called on the caller's
// refresh cadence, never by an internal timer.
func (e *Engine) Prune(history []chat.HistoryEntry) int {
	byID := make(map[string]chat.HistoryEntry, len(history))
	for _, h := range history {
		byID[h.RequestID] = h
	}

	var (
		retired      int
		lastID       string
		lastDuration time.Duration
	)
	for _, req := range e.outbox.Pending() {
		if req.ServerID == "" {
			continue
		}
		h, ok := byID[req.ServerID]
		if !ok || !chat.Terminal(h.Status) {
			continue
		}

		terminalAt := req.CreatedAt
		switch {
		case h.FinishedAt != nil:
			terminalAt = *h.FinishedAt
		case !h.CreatedAt.IsZero():
			terminalAt = h.CreatedAt
		}

		e.outbox.Drop(req.ClientID)
		retired++
		lastID = req.ServerID
		lastDuration = terminalAt.Sub(req.StartedAt)

		metrics.RequestsRetired.Inc()
		metrics.RetiredDurationSeconds.Observe(lastDuration.Seconds())
		e.logger.Debug("placeholder retired",
			zap.String("request_id", req.ServerID),
			zap.String("status", h.Status),
			zap.Duration("duration", lastDuration),
		)
	}

	if retired > 0 && e.onRetired != nil {
		e.onRetired(lastID, lastDuration)
	}
	return retired
}

// RefreshHistory fetches the authoritative history and prunes against it.
func (e *Engine) RefreshHistory(ctx context.Context) error {
	history, err := e.backend.History(ctx)
	if err != nil {
		e.logger.Warn("history refresh failed", zap.Error(err))
		return err
	}
	e.Prune(history)
	return nil
}

// SyncSessionHistory folds the authoritative per-session transcript into
// the local one and records, once per request, the latency between the
// local transcript append and the message's appearance in the feed.
// Queued replies surface here: their assistant entries arrive only
// through this feed, never through a stream.
func (e *Engine) SyncSessionHistory(ctx context.Context) error {
	sessionID := e.SessionID()
	if sessionID == "" {
		return nil
	}
	entries, err := e.backend.SessionHistory(ctx, sessionID)
	if err != nil {
		e.logger.Warn("session history refresh failed", zap.Error(err))
		return err
	}
	now := e.now()
	for _, entry := range entries {
		if entry.Role == chat.RoleUser {
			if appended, ok := e.transcript.AppendedAt(entry.RequestID, chat.RoleUser); ok {
				d := now.Sub(appended)
				if e.outbox.RecordHistoryLatency(entry.RequestID, d) {
					metrics.HistoryLatencySeconds.Observe(d.Seconds())
				}
			}
		}
		// Upsert is idempotent on (RequestID, Role): known entries keep
		// their local timestamp, missing ones are appended.
		e.transcript.Upsert(entry)
	}
	return nil
}
