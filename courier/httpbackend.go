package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/courier/pkg/chat"
)

// RequestIDHeader carries the backend-assigned correlation id on streaming
// responses.
const RequestIDHeader = "x-request-id"

// HTTPBackend implements Backend against the courier HTTP API.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPBackend creates a backend client for baseURL.
func NewHTTPBackend(baseURL string, logger *zap.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Replies can be slow, especially with thinking-heavy models.
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// SendStreaming submits a streaming chat request. The returned body is the
// raw event stream; the caller owns it and must close it.
func (b *HTTPBackend) SendStreaming(ctx context.Context, req StreamRequest) (*StreamResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	url := b.baseURL + "/v1/chat/stream"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	b.logger.Debug("sending streaming request",
		zap.String("url", url),
		zap.String("session_id", req.SessionID),
	)

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("backend returned %d: %s", httpResp.StatusCode, payload)
	}

	return &StreamResponse{
		RequestID: httpResp.Header.Get(RequestIDHeader),
		Body:      httpResp.Body,
	}, nil
}

// SendQueuedTask submits a queued task and returns its receipt.
func (b *HTTPBackend) SendQueuedTask(ctx context.Context, task QueuedTask) (TaskReceipt, error) {
	var receipt TaskReceipt
	if err := b.postJSON(ctx, "/v1/tasks", task, &receipt); err != nil {
		return TaskReceipt{}, err
	}
	return receipt, nil
}

// SwitchRuntime activates provider/model and returns its correlation
// metadata.
func (b *HTTPBackend) SwitchRuntime(ctx context.Context, provider, model string) (RuntimeInfo, error) {
	var info RuntimeInfo
	payload := map[string]string{"provider": provider, "model": model}
	if err := b.postJSON(ctx, "/v1/runtime/switch", payload, &info); err != nil {
		return RuntimeInfo{}, err
	}
	return info, nil
}

// IngestMemory stores a memory record.
func (b *HTTPBackend) IngestMemory(ctx context.Context, rec MemoryRecord) error {
	return b.postJSON(ctx, "/v1/memory", rec, nil)
}

// NewSession obtains a fresh session id.
func (b *HTTPBackend) NewSession(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := b.postJSON(ctx, "/v1/sessions", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// History fetches the authoritative request history.
func (b *HTTPBackend) History(ctx context.Context) ([]chat.HistoryEntry, error) {
	var resp struct {
		Entries []chat.HistoryEntry `json:"entries"`
	}
	if err := b.getJSON(ctx, "/v1/history", &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// SessionHistory fetches the transcript for one session.
func (b *HTTPBackend) SessionHistory(ctx context.Context, sessionID string) ([]chat.Entry, error) {
	var resp struct {
		Entries []chat.Entry `json:"entries"`
	}
	if err := b.getJSON(ctx, "/v1/sessions/"+sessionID+"/history", &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (b *HTTPBackend) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.doJSON(req, out)
}

func (b *HTTPBackend) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return b.doJSON(req, out)
}

func (b *HTTPBackend) doJSON(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
