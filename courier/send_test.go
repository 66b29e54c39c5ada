package courier

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/directive"
)

func streamingBackend(requestID string, tokens ...string) *fakeBackend {
	return &fakeBackend{
		sessionID: "s1",
		streamResp: &StreamResponse{
			RequestID: requestID,
			Body:      io.NopCloser(strings.NewReader(sseBody(tokens...))),
		},
	}
}

func TestSendRejectsEmptyPrompt(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1"}
	e := newTestEngine(Config{}, backend, nil)

	_, err := e.Send(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "Nothing to send.", e.LastMessage())
	assert.Equal(t, 0, e.Outbox().Len())
	assert.Equal(t, 0, backend.sessionCalls())
}

func TestSendRejectsDirectiveOnlyInput(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1"}
	e := newTestEngine(Config{}, backend, nil)

	_, err := e.Send(context.Background(), "/new")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 0, backend.sessionCalls())
}

func TestSendStreamingHappyPath(t *testing.T) {
	backend := streamingBackend("r1", "Hello ", "world")
	e := newTestEngine(Config{Model: "llama3", MaxTokens: 512}, backend, nil)
	e.SetMode(chat.ModeDirect)

	clientID, err := e.Send(context.Background(), "hi there")
	require.NoError(t, err)
	require.NotEmpty(t, clientID)

	// The placeholder exists before the network settles.
	assert.Equal(t, 1, e.Outbox().Len())

	e.Wait()

	req, ok := e.Outbox().Get(clientID)
	require.True(t, ok)
	assert.True(t, req.Confirmed)
	assert.Equal(t, "r1", req.ServerID)

	// Both halves of the exchange share the backend id.
	entries := e.Transcript().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "r1", entries[0].RequestID)
	assert.Equal(t, chat.RoleUser, entries[0].Role)
	assert.Equal(t, "r1", entries[1].RequestID)
	assert.Equal(t, "Hello world", entries[1].Content)
	assert.Equal(t, chat.StatusCompleted, entries[1].Status)

	streamed := backend.streamed()
	require.Len(t, streamed, 1)
	assert.Equal(t, "hi there", streamed[0].Content)
	assert.Equal(t, "llama3", streamed[0].Model)
	assert.Equal(t, "s1", streamed[0].SessionID)
	assert.Empty(t, backend.queued())
}

func TestSendStreamingFallbackRequestID(t *testing.T) {
	backend := streamingBackend("", "ok")
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeDirect)

	clientID, err := e.Send(context.Background(), "hi")
	require.NoError(t, err)
	e.Wait()

	req, _ := e.Outbox().Get(clientID)
	assert.Equal(t, "simple-"+clientID, req.ServerID)
	assert.True(t, e.Transcript().Has("simple-"+clientID, chat.RoleUser))
}

func TestSendStreamingNetworkFailure(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", streamErr: errors.New("connection refused")}
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeDirect)

	clientID, err := e.Send(context.Background(), "hi")
	require.NoError(t, err)
	e.Wait()

	// The placeholder is gone and a terminal failed bubble remains.
	assert.Equal(t, 0, e.Outbox().Len())
	entries := e.Transcript().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, clientID, entries[1].RequestID)
	assert.Equal(t, chat.StatusFailed, entries[1].Status)
	assert.Equal(t, "The request could not be sent.", entries[1].Content)
	assert.Equal(t, "The request could not be sent.", e.LastMessage())
}

func TestSendStreamingErrorEvent(t *testing.T) {
	backend := &fakeBackend{
		sessionID: "s1",
		streamResp: &StreamResponse{
			RequestID: "r1",
			Body:      io.NopCloser(strings.NewReader("event: error\ndata: {\"error\":\"model exploded\"}\n\n")),
		},
	}
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeDirect)

	_, err := e.Send(context.Background(), "hi")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 0, e.Outbox().Len())
	entries := e.Transcript().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "r1", entries[1].RequestID)
	assert.Equal(t, chat.StatusFailed, entries[1].Status)
	assert.Equal(t, "model exploded", entries[1].Content)
}

func TestSendReusesResolvedSession(t *testing.T) {
	backend := streamingBackend("r1", "a")
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeDirect)

	_, err := e.Send(context.Background(), "first")
	require.NoError(t, err)
	e.Wait()

	backend.mu.Lock()
	backend.streamResp = &StreamResponse{
		RequestID: "r2",
		Body:      io.NopCloser(strings.NewReader(sseBody("b"))),
	}
	backend.mu.Unlock()

	_, err = e.Send(context.Background(), "second")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 1, backend.sessionCalls())
	assert.Equal(t, "s1", e.SessionID())
}

func TestSendSessionFailureBlocksSend(t *testing.T) {
	backend := &fakeBackend{sessionErr: errors.New("backend down")}
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeDirect)

	_, err := e.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "No active session; could not start one.", e.LastMessage())
	assert.Equal(t, 0, e.Outbox().Len())
	assert.Empty(t, backend.streamed())
}

func TestSendQueuedPathInNormalMode(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{Model: "llama3"}, backend, nil)

	clientID, err := e.Send(context.Background(), "do the thing")
	require.NoError(t, err)
	e.Wait()

	tasks := backend.queued()
	require.Len(t, tasks, 1)
	assert.Equal(t, "do the thing", tasks[0].Content)
	assert.Equal(t, "llama3", tasks[0].Params.Model)
	assert.Equal(t, "s1", tasks[0].SessionID)
	assert.Empty(t, tasks[0].ForcedIntent)
	assert.Empty(t, backend.streamed())

	req, _ := e.Outbox().Get(clientID)
	assert.Equal(t, "t1", req.ServerID)
	assert.True(t, e.Transcript().Has("t1", chat.RoleUser))
}

func TestSendForcedToolUsesQueuedPath(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeDirect)

	_, err := e.Send(context.Background(), "/tool=search find it")
	require.NoError(t, err)
	e.Wait()

	assert.Empty(t, backend.streamed())
	tasks := backend.queued()
	require.Len(t, tasks, 1)
	assert.Equal(t, "search", tasks[0].ForcedRoute)
	assert.Equal(t, "find it", tasks[0].Content)
}

func TestSendResetUsesQueuedPath(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeDirect)

	_, err := e.Send(context.Background(), "/new hi again")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 1, backend.sessionCalls())
	assert.Empty(t, backend.streamed())
	assert.Len(t, backend.queued(), 1)
}

func TestSendComplexModeForcesIntent(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{}, backend, nil)
	e.SetMode(chat.ModeComplex)

	_, err := e.Send(context.Background(), "/intent=quick think hard")
	require.NoError(t, err)
	e.Wait()

	tasks := backend.queued()
	require.Len(t, tasks, 1)
	// Complex mode overrides any intent directive.
	assert.Equal(t, "deep-analysis", tasks[0].ForcedIntent)
}

func TestSendQueuedDispatchFailureDropsPlaceholder(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskErr: errors.New("queue full")}
	e := newTestEngine(Config{}, backend, nil)

	_, err := e.Send(context.Background(), "hi")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 0, e.Outbox().Len())
	assert.Equal(t, "The request could not be queued.", e.LastMessage())
}

func TestSendProviderSwitchDeclined(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1"}
	e := newTestEngine(Config{Provider: "local"}, backend, nil)
	e.SetMode(chat.ModeDirect)
	e.SetConfirmFunc(func(string) bool { return false })

	_, err := e.Send(context.Background(), "/provider=anthropic hi")
	require.Error(t, err)
	assert.Equal(t, KindRuntimeSwitch, KindOf(err))
	assert.Equal(t, "Send cancelled: provider switch declined.", e.LastMessage())

	// Nothing optimistic was created and no network call happened.
	assert.Equal(t, 0, e.Outbox().Len())
	assert.Empty(t, e.Transcript().Entries())
	assert.Equal(t, 0, backend.switchCalls)
	assert.Equal(t, 0, backend.sessionCalls())
	assert.Equal(t, "local", e.Provider())
}

func TestSendProviderSwitchDeclinedWithoutConfirmFunc(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1"}
	e := newTestEngine(Config{Provider: "local"}, backend, nil)

	_, err := e.Send(context.Background(), "/provider=anthropic hi")
	require.Error(t, err)
	assert.Equal(t, KindRuntimeSwitch, KindOf(err))
}

func TestSendProviderSwitchConfirmed(t *testing.T) {
	backend := &fakeBackend{
		sessionID:   "s1",
		taskReceipt: TaskReceipt{TaskID: "t1"},
		switchInfo:  RuntimeInfo{ConfigHash: "h1", RuntimeID: "rt1"},
	}
	e := newTestEngine(Config{Provider: "local"}, backend, nil)
	e.SetMode(chat.ModeDirect)
	e.SetConfirmFunc(func(string) bool { return true })

	_, err := e.Send(context.Background(), "/provider=anthropic:claude hi")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, "anthropic", e.Provider())
	assert.Equal(t, 1, backend.switchCalls)

	// A forced provider routes through the queued path even in direct mode,
	// carrying the switch correlation metadata.
	assert.Empty(t, backend.streamed())
	tasks := backend.queued()
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].Runtime)
	assert.Equal(t, "rt1", tasks[0].Runtime.RuntimeID)
	assert.Equal(t, "h1", tasks[0].Runtime.ConfigHash)
}

func TestSendRuntimeOverrideConsumedOnce(t *testing.T) {
	backend := &fakeBackend{
		sessionID:   "s1",
		taskReceipt: TaskReceipt{TaskID: "t1"},
		switchInfo:  RuntimeInfo{RuntimeID: "rt1"},
	}
	e := newTestEngine(Config{Provider: "local"}, backend, nil)
	e.SetConfirmFunc(func(string) bool { return true })

	_, err := e.Send(context.Background(), "/provider=anthropic hi")
	require.NoError(t, err)
	e.Wait()

	_, err = e.Send(context.Background(), "plain follow-up")
	require.NoError(t, err)
	e.Wait()

	tasks := backend.queued()
	require.Len(t, tasks, 2)
	assert.NotNil(t, tasks[0].Runtime)
	assert.Nil(t, tasks[1].Runtime)
}

func TestSendMatchingProviderSkipsConfirmation(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{Provider: "local"}, backend, nil)
	e.SetMode(chat.ModeDirect)
	// No confirm func installed: a matching provider must not need one.

	_, err := e.Send(context.Background(), "/provider=local hi")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 0, backend.switchCalls)
	assert.Len(t, backend.queued(), 1)
}

func TestSendRuntimeSwitchFailure(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", switchErr: errors.New("no such provider")}
	e := newTestEngine(Config{Provider: "local"}, backend, nil)
	e.SetConfirmFunc(func(string) bool { return true })

	_, err := e.Send(context.Background(), "/provider=bogus hi")
	require.Error(t, err)
	assert.Equal(t, KindRuntimeSwitch, KindOf(err))
	assert.Equal(t, `Could not switch to provider "bogus".`, e.LastMessage())
	assert.Equal(t, 0, e.Outbox().Len())
	assert.Equal(t, "local", e.Provider())
}

func TestSendQueuedRunsRefreshFuncs(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{}, backend, nil)

	var refreshes atomic.Int32
	e.SetRefreshFuncs(
		func(context.Context) error { refreshes.Add(1); return nil },
		func(context.Context) error { refreshes.Add(1); return nil },
	)

	_, err := e.Send(context.Background(), "hi")
	require.NoError(t, err)
	e.Wait()

	assert.EqualValues(t, 2, refreshes.Load())
}

func TestSendCapturesSimpleHint(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{}, backend, nil)
	e.SetSimple(true)

	clientID, err := e.Send(context.Background(), "hi")
	require.NoError(t, err)

	req, ok := e.Outbox().Get(clientID)
	require.True(t, ok)
	assert.True(t, req.Hints.Simple)
	e.Wait()
}

func TestSendVerbatimParserKeepsSlashTokens(t *testing.T) {
	backend := &fakeBackend{sessionID: "s1", taskReceipt: TaskReceipt{TaskID: "t1"}}
	e := newTestEngine(Config{}, backend, nil)
	e.SetDirectiveParser(directive.VerbatimParser{})

	_, err := e.Send(context.Background(), "/tool=search literally this")
	require.NoError(t, err)
	e.Wait()

	tasks := backend.queued()
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].ForcedRoute)
	assert.Equal(t, "/tool=search literally this", tasks[0].Content)
}

func TestSendIngestsPromptAsMemory(t *testing.T) {
	backend := streamingBackend("r1", "ok")
	e := newTestEngine(Config{PreferenceScope: "personal"}, backend, nil)
	e.SetMode(chat.ModeDirect)

	_, err := e.Send(context.Background(), "remember this")
	require.NoError(t, err)
	e.Wait()

	memories := backend.ingested()
	require.Len(t, memories, 1)
	assert.Equal(t, "remember this", memories[0].Text)
	assert.Equal(t, "chat", memories[0].Category)
	assert.Equal(t, "s1", memories[0].SessionID)
	assert.Equal(t, "personal", memories[0].Scope)
}
