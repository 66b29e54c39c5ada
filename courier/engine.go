// Package courier implements the optimistic-request lifecycle and
// streaming-reconciliation engine: a send creates a locally identified
// placeholder before any backend id exists, the placeholder is linked to
// the backend id once known, stream deltas fold into UI-visible state
// under a rate limit, and placeholders retire once the independently
// polled authoritative history confirms completion.
package courier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/directive"
	"github.com/driftline/courier/pkg/outbox"
	"github.com/driftline/courier/pkg/transcript"
)

// Config tunes the engine.
type Config struct {
	// Model, MaxTokens and Temperature are the default generation
	// parameters attached to every send.
	Model       string
	MaxTokens   int
	Temperature float64

	// Provider is the initially active provider. A forced-provider
	// directive naming a different one triggers a confirmation prompt.
	Provider string

	// ComplexIntent is the fixed forced-intent tag attached to every send
	// made in complex mode.
	ComplexIntent string

	// ThrottleInterval caps assistant transcript upserts during streaming.
	// Zero means DefaultThrottle; negative disables throttling.
	ThrottleInterval time.Duration

	PreferredLanguage string
	PreferenceScope   string
	StoreKnowledge    bool
}

// DefaultThrottle is the assistant-upsert rate limit during streaming.
const DefaultThrottle = 60 * time.Millisecond

// Engine coordinates sends: it parses directives, resolves session and
// runtime preconditions, chooses the streaming or queued dispatch path,
// and drives the outbox, transcript and pruner.
type Engine struct {
	cfg        Config
	backend    Backend
	logger     *zap.Logger
	outbox     *outbox.Store
	transcript *transcript.Transcript
	parser     directive.Parser
	now        func() time.Time

	confirm   func(prompt string) bool                 // provider-switch confirmation
	onMessage func(msg string)                         // last-write-wins user message slot
	onRetired func(requestID string, d time.Duration) // one call per pruning pass
	refresh   []func(context.Context) error            // fire-and-forget after queued sends

	mu              sync.Mutex
	sessionID       string
	provider        string
	mode            chat.Mode
	simple          bool
	runtimeOverride *RuntimeInfo // consumed by the next send
	lastMessage     string
	model           string
	maxTokens       int
	temperature     float64

	wg sync.WaitGroup
}

// New creates an engine over backend. notify, if non-nil, fires after every
// transcript mutation.
func New(cfg Config, backend Backend, logger *zap.Logger, notify func()) *Engine {
	if cfg.ComplexIntent == "" {
		cfg.ComplexIntent = "deep-analysis"
	}
	if cfg.ThrottleInterval == 0 {
		cfg.ThrottleInterval = DefaultThrottle
	}
	return &Engine{
		cfg:         cfg,
		backend:     backend,
		logger:      logger,
		outbox:      outbox.New(nil),
		transcript:  transcript.New(notify),
		parser:      directive.SlashParser{},
		now:         time.Now,
		provider:    cfg.Provider,
		mode:        chat.ModeNormal,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Generation returns the current default generation parameters.
func (e *Engine) Generation() (model string, maxTokens int, temperature float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model, e.maxTokens, e.temperature
}

// UpdateGeneration swaps the default generation parameters, e.g. after a
// configuration reload. In-flight sends keep the values they captured.
func (e *Engine) UpdateGeneration(model string, maxTokens int, temperature float64) {
	e.mu.Lock()
	e.model = model
	e.maxTokens = maxTokens
	e.temperature = temperature
	e.mu.Unlock()
}

// Outbox exposes the placeholder store.
func (e *Engine) Outbox() *outbox.Store { return e.outbox }

// Transcript exposes the UI-visible transcript.
func (e *Engine) Transcript() *transcript.Transcript { return e.transcript }

// SetMode switches the chat mode for subsequent sends.
func (e *Engine) SetMode(mode chat.Mode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
}

// Mode returns the current chat mode.
func (e *Engine) Mode() chat.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetSimple toggles the simple-mode flag captured on placeholders.
func (e *Engine) SetSimple(simple bool) {
	e.mu.Lock()
	e.simple = simple
	e.mu.Unlock()
}

// SetDirectiveParser replaces the default slash-grammar parser.
func (e *Engine) SetDirectiveParser(p directive.Parser) { e.parser = p }

// SetConfirmFunc installs the provider-switch confirmation prompt. Without
// one, switches are declined.
func (e *Engine) SetConfirmFunc(fn func(prompt string) bool) { e.confirm = fn }

// SetMessageFunc installs the user-facing message sink. Messages are
// last-write-wins: each send failure surfaces exactly one.
func (e *Engine) SetMessageFunc(fn func(msg string)) { e.onMessage = fn }

// SetRetiredFunc installs the retirement report callback, invoked at most
// once per pruning pass with the most recently retired request's duration.
func (e *Engine) SetRetiredFunc(fn func(requestID string, d time.Duration)) {
	e.onRetired = fn
}

// SetRefreshFuncs installs the fire-and-forget refreshes run after a
// successful queued send (tasks, queue, history, session history).
func (e *Engine) SetRefreshFuncs(fns ...func(context.Context) error) {
	e.refresh = fns
}

// SessionID returns the resolved session id, or "".
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Provider returns the currently active provider.
func (e *Engine) Provider() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider
}

// LastMessage returns the current content of the user message slot.
func (e *Engine) LastMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastMessage
}

// Wait blocks until all in-flight sends and refreshes have finished.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) say(msg string) {
	e.mu.Lock()
	e.lastMessage = msg
	fn := e.onMessage
	e.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (e *Engine) throttle() time.Duration {
	if e.cfg.ThrottleInterval < 0 {
		return 0
	}
	return e.cfg.ThrottleInterval
}
