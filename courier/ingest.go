package courier

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/eventstream"
	"github.com/driftline/courier/pkg/metrics"
)

// contentEvent is the payload of a "content" event: an additive delta
// appended to the running buffer.
type contentEvent struct {
	Text string `json:"text"`
}

// errorEvent is the payload of a terminal "error" event.
type errorEvent struct {
	Error string `json:"error"`
}

// consumeStream reads one event-stream body sequentially, folding content
// deltas into the assistant transcript entry. Upserts are throttled to one
// per throttle interval; the first and the final write are exempt. The body
// is released exactly once on every exit path.
func (e *Engine) consumeStream(clientID, requestID, sessionID string, body io.ReadCloser) error {
	if body == nil {
		return newError(KindStream, nil, "The response stream was missing.")
	}
	defer body.Close()

	var (
		parser    eventstream.Parser
		buf       strings.Builder
		lastWrite time.Time
		wrote     bool
	)
	throttle := e.throttle()

	push := func(final bool) {
		now := e.now()
		if !final && wrote && throttle > 0 && now.Sub(lastWrite) < throttle {
			return
		}
		lastWrite = now
		wrote = true
		status := chat.StatusInProgress
		if final {
			status = chat.StatusCompleted
		}
		e.transcript.Upsert(chat.Entry{
			RequestID: requestID,
			Role:      chat.RoleAssistant,
			Content:   buf.String(),
			Timestamp: now,
			SessionID: sessionID,
			Status:    status,
		})
	}

	handle := func(ev eventstream.Event) error {
		metrics.StreamEvents.Inc()
		switch ev.Name {
		case "content":
			var delta contentEvent
			if err := json.Unmarshal([]byte(ev.Data), &delta); err != nil {
				return newError(KindStream, err, "The response could not be decoded.")
			}
			buf.WriteString(delta.Text)
			if t, ok := e.outbox.Timing(requestID); ok && !t.HasTTFT {
				d := e.now().Sub(t.T0)
				if e.outbox.RecordTTFT(requestID, d) {
					metrics.TTFTSeconds.Observe(d.Seconds())
				}
			}
			push(false)
			return nil
		case "error":
			var fail errorEvent
			_ = json.Unmarshal([]byte(ev.Data), &fail)
			if fail.Error == "" {
				fail.Error = "The assistant reported an error."
			}
			return newError(KindStream, nil, "%s", fail.Error)
		}
		// Unknown event names are skipped, not failed.
		return nil
	}

	chunk := make([]byte, 4096)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if perr := parser.Feed(chunk[:n], handle); perr != nil {
				return perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return newError(KindStream, err, "The response stream was interrupted.")
		}
	}
	if err := parser.Close(handle); err != nil {
		return err
	}

	// Final write is exempt from throttling and marks the entry terminal.
	push(true)
	return nil
}
