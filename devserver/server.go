// Package devserver is a local stand-in for the courier backend API: it
// accepts streaming and queued sends, assigns request ids, streams replies
// as server-sent events, and serves the authoritative history feed from a
// SQLite-backed store.
package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/driftline/courier/courier"
	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/historystore"
)

// Server implements the backend contracts the engine consumes, for local
// development and tests.
type Server struct {
	config Config
	store  historystore.Store
	logger *zap.Logger
	server *fiber.App
}

// New creates a new Server.
func New(config Config, logger *zap.Logger) (*Server, error) {
	var store historystore.Store
	var err error

	if config.DBPath != "" {
		store, err = historystore.NewSQLiteStore(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", config.DBPath))
	} else {
		store = historystore.NewMemoryStore()
		logger.Info("using in-memory storage")
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})

	s := &Server{
		config: config,
		store:  store,
		logger: logger,
		server: app,
	}

	app.Post("/v1/chat/stream", s.handleStream)
	app.Post("/v1/tasks", s.handleTask)
	app.Post("/v1/runtime/switch", s.handleRuntimeSwitch)
	app.Post("/v1/memory", s.handleMemory)
	app.Post("/v1/sessions", s.handleNewSession)
	app.Get("/v1/history", s.handleHistory)
	app.Get("/v1/sessions/:id/history", s.handleSessionHistory)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return s, nil
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.server }

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting dev backend",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.server.Listen(s.config.ListenAddr)
}

// Close shuts down the server and releases resources.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) reply(prompt string) string {
	if s.config.Reply != nil {
		return s.config.Reply(prompt)
	}
	return "You said: " + prompt
}

// handleStream accepts a streaming send, records a PROCESSING history row,
// and streams the reply as content events. The request id travels back in
// the x-request-id response header before the first event is written.
func (s *Server) handleStream(c *fiber.Ctx) error {
	var req courier.StreamRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Error("failed to parse stream request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "empty content"})
	}

	requestID := "r-" + uuid.NewString()[:13]
	now := time.Now()
	rec := &historystore.Record{
		RequestID: requestID,
		SessionID: req.SessionID,
		Status:    chat.HistoryProcessing,
		Prompt:    req.Content,
		CreatedAt: now,
	}
	if err := s.store.Put(c.Context(), rec); err != nil {
		s.logger.Error("failed to store history row", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "internal error"})
	}

	s.logger.Debug("streaming reply",
		zap.String("request_id", requestID),
		zap.String("session_id", req.SessionID),
	)

	answer := s.reply(req.Content)
	delay := s.config.StreamDelay

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set(courier.RequestIDHeader, requestID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for _, token := range tokenize(answer) {
			data, _ := json.Marshal(map[string]string{"text": token})
			fmt.Fprintf(w, "event: content\ndata: %s\n\n", data)
			w.Flush()
			if delay > 0 {
				time.Sleep(delay)
			}
		}

		finished := time.Now()
		rec.Status = chat.HistoryCompleted
		rec.Answer = answer
		rec.FinishedAt = &finished
		if err := s.store.Put(context.Background(), rec); err != nil {
			s.logger.Error("failed to finish history row", zap.Error(err))
		}
	}))

	return nil
}

// tokenize splits an answer into streamable deltas, keeping the separating
// spaces so concatenation reproduces the answer exactly.
func tokenize(answer string) []string {
	words := strings.SplitAfter(answer, " ")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// handleTask accepts a queued send. The dev backend has no real worker, so
// the task resolves immediately with a canned answer.
func (s *Server) handleTask(c *fiber.Ctx) error {
	var task courier.QueuedTask
	if err := json.Unmarshal(c.Body(), &task); err != nil {
		s.logger.Error("failed to parse task", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(task.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "empty content"})
	}

	taskID := "t-" + uuid.NewString()[:13]
	now := time.Now()
	finished := now
	rec := &historystore.Record{
		RequestID:  taskID,
		SessionID:  task.SessionID,
		Status:     chat.HistoryCompleted,
		Prompt:     task.Content,
		Answer:     s.reply(task.Content),
		CreatedAt:  now,
		FinishedAt: &finished,
	}
	if err := s.store.Put(c.Context(), rec); err != nil {
		s.logger.Error("failed to store task", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "internal error"})
	}

	s.logger.Info("task accepted",
		zap.String("task_id", taskID),
		zap.String("intent", task.ForcedIntent),
	)
	return c.JSON(courier.TaskReceipt{TaskID: taskID})
}

func (s *Server) handleRuntimeSwitch(c *fiber.Ctx) error {
	var req struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Provider == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "provider required"})
	}
	info := courier.RuntimeInfo{
		ConfigHash: uuid.NewString(),
		RuntimeID:  "rt-" + req.Provider,
	}
	s.logger.Info("runtime switch",
		zap.String("provider", req.Provider),
		zap.String("model", req.Model),
	)
	return c.JSON(info)
}

func (s *Server) handleMemory(c *fiber.Ctx) error {
	var rec courier.MemoryRecord
	if err := json.Unmarshal(c.Body(), &rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}
	s.logger.Debug("memory ingested", zap.String("session_id", rec.SessionID))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleNewSession(c *fiber.Ctx) error {
	return c.JSON(map[string]string{"session_id": "s-" + uuid.NewString()[:13]})
}

// handleHistory serves the authoritative history snapshot, newest first.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	records, err := s.store.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "failed to list history"})
	}
	entries := make([]chat.HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, chat.HistoryEntry{
			RequestID:  rec.RequestID,
			Status:     rec.Status,
			CreatedAt:  rec.CreatedAt,
			FinishedAt: rec.FinishedAt,
		})
	}
	return c.JSON(map[string]any{"entries": entries})
}

// handleSessionHistory serves one session's transcript in order.
func (s *Server) handleSessionHistory(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	records, err := s.store.BySession(c.Context(), sessionID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "failed to list session history"})
	}
	entries := make([]chat.Entry, 0, 2*len(records))
	for _, rec := range records {
		entries = append(entries, chat.Entry{
			RequestID: rec.RequestID,
			Role:      chat.RoleUser,
			Content:   rec.Prompt,
			Timestamp: rec.CreatedAt,
			SessionID: rec.SessionID,
		})
		if rec.Answer != "" {
			ts := rec.CreatedAt
			if rec.FinishedAt != nil {
				ts = *rec.FinishedAt
			}
			entries = append(entries, chat.Entry{
				RequestID: rec.RequestID,
				Role:      chat.RoleAssistant,
				Content:   rec.Answer,
				Timestamp: ts,
				SessionID: rec.SessionID,
				Status:    chat.StatusCompleted,
			})
		}
	}
	return c.JSON(map[string]any{"entries": entries})
}
