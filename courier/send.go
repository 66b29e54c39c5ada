package courier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/metrics"
	"github.com/driftline/courier/pkg/outbox"
)

// Send submits raw input. The synchronous part covers everything that can
// reject the send - validation, the provider-switch confirmation, session
// resolution - and the optimistic enqueue, so the returned client id is
// already visible in the transcript. The network call and all
// reconciliation proceed asynchronously.
func (e *Engine) Send(ctx context.Context, raw string) (string, error) {
	dirs, prompt := e.parser.Parse(raw)
	if strings.TrimSpace(prompt) == "" {
		err := newError(KindValidation, nil, "Nothing to send.")
		e.say(err.Message)
		return "", err
	}

	// A forced provider different from the active one needs confirmation
	// and a runtime switch before any optimistic state is created.
	if dirs.Provider != "" && dirs.Provider != e.Provider() {
		if err := e.switchProvider(ctx, dirs.Provider, dirs.Model); err != nil {
			e.say(UserMessage(err))
			return "", err
		}
	}

	sessionID, err := e.resolveSession(ctx, dirs.Reset)
	if err != nil {
		e.say(UserMessage(err))
		return "", err
	}

	mode := e.Mode()
	forcedIntent := dirs.Intent
	if mode == chat.ModeComplex {
		forcedIntent = e.cfg.ComplexIntent
	}

	e.mu.Lock()
	simple := e.simple
	runtime := e.runtimeOverride
	e.runtimeOverride = nil
	model, maxTokens, temperature := e.model, e.maxTokens, e.temperature
	e.mu.Unlock()

	clientID := e.outbox.Enqueue(prompt, outbox.Hints{
		ForcedTool:     dirs.Tool,
		ForcedProvider: dirs.Provider,
		ForcedIntent:   forcedIntent,
		Simple:         simple,
		Mode:           mode,
	})
	e.transcript.Upsert(chat.Entry{
		RequestID: clientID,
		Role:      chat.RoleUser,
		Content:   prompt,
		Timestamp: e.now(),
		SessionID: sessionID,
	})

	streaming := mode == chat.ModeDirect && dirs.Tool == "" && dirs.Provider == "" && !dirs.Reset

	e.wg.Add(1)
	if streaming {
		metrics.SendsTotal.WithLabelValues("stream").Inc()
		go e.runStreaming(ctx, clientID, StreamRequest{
			Content:     prompt,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			SessionID:   sessionID,
		})
	} else {
		metrics.SendsTotal.WithLabelValues("queued").Inc()
		go e.runQueued(ctx, clientID, QueuedTask{
			Content:        prompt,
			StoreKnowledge: e.cfg.StoreKnowledge,
			Params: GenerationParams{
				Model:       model,
				MaxTokens:   maxTokens,
				Temperature: temperature,
			},
			Runtime:           runtime,
			ForcedRoute:       dirs.Tool,
			ForcedIntent:      forcedIntent,
			PreferredLanguage: e.cfg.PreferredLanguage,
			SessionID:         sessionID,
			PreferenceScope:   e.cfg.PreferenceScope,
		})
	}
	return clientID, nil
}

// switchProvider prompts for confirmation, then invokes the runtime switch
// and captures its correlation metadata as a single-send override.
func (e *Engine) switchProvider(ctx context.Context, provider, model string) error {
	prompt := fmt.Sprintf("Switch provider to %q for this send?", provider)
	if e.confirm == nil || !e.confirm(prompt) {
		return newError(KindRuntimeSwitch, nil, "Send cancelled: provider switch declined.")
	}
	if model == "" {
		model, _, _ = e.Generation()
	}
	info, err := e.backend.SwitchRuntime(ctx, provider, model)
	if err != nil {
		return newError(KindRuntimeSwitch, err, "Could not switch to provider %q.", provider)
	}
	e.mu.Lock()
	e.provider = provider
	e.runtimeOverride = &info
	e.mu.Unlock()
	e.logger.Info("runtime switched",
		zap.String("provider", provider),
		zap.String("runtime_id", info.RuntimeID),
	)
	return nil
}

// resolveSession returns the active session id, obtaining a fresh one on
// reset or when none exists. A session is a hard precondition.
func (e *Engine) resolveSession(ctx context.Context, reset bool) (string, error) {
	e.mu.Lock()
	current := e.sessionID
	e.mu.Unlock()
	if current != "" && !reset {
		return current, nil
	}
	id, err := e.backend.NewSession(ctx)
	if err != nil || id == "" {
		return "", newError(KindValidation, err, "No active session; could not start one.")
	}
	e.mu.Lock()
	e.sessionID = id
	e.mu.Unlock()
	e.logger.Debug("session resolved", zap.String("session_id", id))
	return id, nil
}

// runStreaming drives one streaming send to completion: request, link,
// ingest, and failure cleanup.
func (e *Engine) runStreaming(ctx context.Context, clientID string, req StreamRequest) {
	defer e.wg.Done()

	resp, err := e.backend.SendStreaming(ctx, req)
	if err != nil {
		e.failStreaming(clientID, clientID, req.SessionID,
			newError(KindStream, err, "The request could not be sent."))
		return
	}

	requestID := resp.RequestID
	if requestID == "" {
		requestID = "simple-" + clientID
	}
	e.outbox.Link(clientID, requestID)
	e.transcript.ReassignUser(clientID, requestID)

	e.ingestMemory(ctx, req.Content, req.SessionID)

	if err := e.consumeStream(clientID, requestID, req.SessionID, resp.Body); err != nil {
		e.failStreaming(clientID, requestID, req.SessionID, err)
		return
	}

	e.logger.Debug("stream complete",
		zap.String("client_id", clientID),
		zap.String("request_id", requestID),
	)
}

// failStreaming resolves a streaming failure: the placeholder is dropped,
// one message surfaces, and the transcript is left with a terminal
// assistant entry so no bubble stays pending forever.
func (e *Engine) failStreaming(clientID, requestID, sessionID string, err error) {
	e.logger.Error("streaming send failed",
		zap.String("client_id", clientID),
		zap.Error(err),
	)
	metrics.SendFailures.WithLabelValues(string(KindOf(err))).Inc()

	msg := UserMessage(err)
	e.transcript.Upsert(chat.Entry{
		RequestID: requestID,
		Role:      chat.RoleAssistant,
		Content:   msg,
		Timestamp: e.now(),
		Status:    chat.StatusFailed,
		SessionID: sessionID,
	})
	e.outbox.Drop(clientID)
	e.say(msg)
}

// runQueued drives one queued-task send: dispatch, link to the task id,
// then fire-and-forget refreshes.
func (e *Engine) runQueued(ctx context.Context, clientID string, task QueuedTask) {
	defer e.wg.Done()

	receipt, err := e.backend.SendQueuedTask(ctx, task)
	if err != nil {
		werr := newError(KindTaskDispatch, err, "The request could not be queued.")
		e.logger.Error("queued send failed", zap.String("client_id", clientID), zap.Error(werr))
		metrics.SendFailures.WithLabelValues(string(KindTaskDispatch)).Inc()
		e.outbox.Drop(clientID)
		e.say(werr.Message)
		return
	}

	e.outbox.Link(clientID, receipt.TaskID)
	e.transcript.ReassignUser(clientID, receipt.TaskID)
	e.logger.Info("task queued",
		zap.String("client_id", clientID),
		zap.String("task_id", receipt.TaskID),
	)

	e.ingestMemory(ctx, task.Content, task.SessionID)

	for _, fn := range e.refresh {
		fn := fn
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := fn(ctx); err != nil {
				e.logger.Warn("refresh failed", zap.Error(err))
			}
		}()
	}
}

// ingestMemory stores the outgoing prompt as conversational memory.
// Best-effort: failures are logged and never alter visible state.
func (e *Engine) ingestMemory(ctx context.Context, text, sessionID string) {
	err := e.backend.IngestMemory(ctx, MemoryRecord{
		Text:      text,
		Category:  "chat",
		SessionID: sessionID,
		Pinned:    false,
		Scope:     e.cfg.PreferenceScope,
		Timestamp: e.now(),
	})
	if err != nil {
		e.logger.Warn("memory ingestion failed",
			zap.String("session_id", sessionID),
			zap.Error(newError(KindBestEffort, err, "memory ingestion failed")),
		)
	}
}
