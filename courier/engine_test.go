package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/courier/pkg/chat"
)

// fakeBackend records every call and replays canned responses.
type fakeBackend struct {
	mu sync.Mutex

	streamResp  *StreamResponse
	streamErr   error
	streamReqs  []StreamRequest
	taskReceipt TaskReceipt
	taskErr     error
	tasks       []QueuedTask
	switchInfo  RuntimeInfo
	switchErr   error
	switchCalls int
	sessionID   string
	sessionErr  error
	sessions    int
	history     []chat.HistoryEntry
	entries     []chat.Entry
	memories    []MemoryRecord
}

func (b *fakeBackend) SendStreaming(ctx context.Context, req StreamRequest) (*StreamResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamReqs = append(b.streamReqs, req)
	if b.streamErr != nil {
		return nil, b.streamErr
	}
	return b.streamResp, nil
}

func (b *fakeBackend) SendQueuedTask(ctx context.Context, task QueuedTask) (TaskReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
	if b.taskErr != nil {
		return TaskReceipt{}, b.taskErr
	}
	return b.taskReceipt, nil
}

func (b *fakeBackend) SwitchRuntime(ctx context.Context, provider, model string) (RuntimeInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.switchCalls++
	if b.switchErr != nil {
		return RuntimeInfo{}, b.switchErr
	}
	return b.switchInfo, nil
}

func (b *fakeBackend) IngestMemory(ctx context.Context, rec MemoryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memories = append(b.memories, rec)
	return nil
}

func (b *fakeBackend) NewSession(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	if b.sessionErr != nil {
		return "", b.sessionErr
	}
	return b.sessionID, nil
}

func (b *fakeBackend) History(ctx context.Context) ([]chat.HistoryEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history, nil
}

func (b *fakeBackend) SessionHistory(ctx context.Context, sessionID string) ([]chat.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries, nil
}

func (b *fakeBackend) streamed() []StreamRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StreamRequest(nil), b.streamReqs...)
}

func (b *fakeBackend) queued() []QueuedTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]QueuedTask(nil), b.tasks...)
}

func (b *fakeBackend) ingested() []MemoryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]MemoryRecord(nil), b.memories...)
}

func (b *fakeBackend) sessionCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

// countingCloser tracks how many times a stream body was released.
type countingCloser struct {
	io.Reader
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

// sseBody frames tokens as a content event stream.
func sseBody(tokens ...string) string {
	var b strings.Builder
	for _, tok := range tokens {
		data, _ := json.Marshal(contentEvent{Text: tok})
		fmt.Fprintf(&b, "event: content\ndata: %s\n\n", data)
	}
	return b.String()
}

func newTestEngine(cfg Config, backend Backend, notify func()) *Engine {
	return New(cfg, backend, zap.NewNop(), notify)
}

// fakeClock is a manually advanced clock for throttle and latency tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
