package chatcmder

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/driftline/courier/courier"
	"github.com/driftline/courier/pkg/config"
)

const chatLongDesc string = `Open an interactive chat session.

Messages appear in the transcript immediately and reconcile with the
backend as the reply streams in. Leading directives control routing:

  /tool=NAME           force a tool route (queued path)
  /provider=NAME       force a provider (asks for confirmation)
  /intent=NAME         force an intent tag
  /new                 start a fresh session

Examples:
  courier chat
  courier chat --base-url http://localhost:7000 --mode direct`

const chatShortDesc string = "Open an interactive chat session"

type chatCommander struct {
	baseURL string
	mode    string
	simple  bool
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.baseURL, "base-url", "", "Backend base URL")
	cmd.Flags().StringVar(&cmder.mode, "mode", "direct", "Chat mode: normal, direct, or complex")
	cmd.Flags().BoolVar(&cmder.simple, "simple", false, "Mark every send with the simple-processing hint")

	return cmd
}

func (c *chatCommander) run(cmd *cobra.Command) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("chat requires an interactive terminal")
	}

	debug, _ := cmd.Flags().GetBool("debug")
	configPath, _ := cmd.Flags().GetString("config")

	log, err := fileLogger(debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	baseURL := cfg.Chat.BaseURL
	if c.baseURL != "" {
		baseURL = c.baseURL
	}

	backend := courier.NewHTTPBackend(baseURL, log)
	notify := make(chan struct{}, 1)
	engine := courier.New(courier.Config{
		Model:             cfg.Chat.Model,
		MaxTokens:         cfg.Chat.MaxTokens,
		Temperature:       cfg.Chat.Temperature,
		Provider:          cfg.Chat.Provider,
		PreferredLanguage: cfg.Chat.Language,
	}, backend, log, func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	engine.SetRefreshFuncs(engine.RefreshHistory, engine.SyncSessionHistory)
	engine.SetSimple(c.simple)

	// Hot-reload generation parameters while the session is open.
	go func() {
		err := config.Watch(configPath, log, func(next config.File) {
			engine.UpdateGeneration(next.Chat.Model, next.Chat.MaxTokens, next.Chat.Temperature)
		})
		if err != nil {
			log.Debug("config watch unavailable", zap.Error(err))
		}
	}()

	model := newChatModel(engine, log, c.mode, notify)
	program := tea.NewProgram(model, tea.WithAltScreen())
	model.attach(program)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat UI failed: %w", err)
	}
	engine.Wait()
	return nil
}

// fileLogger writes logs to ~/.courier/chat.log so they don't tear the TUI.
func fileLogger(debug bool) (*zap.Logger, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return zap.NewNop(), nil
	}
	dir := filepath.Join(home, ".courier")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zap.NewNop(), nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "chat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zap.NewNop(), nil
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(f),
		level,
	)
	return zap.New(core), nil
}
