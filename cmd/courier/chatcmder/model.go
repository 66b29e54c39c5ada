package chatcmder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"go.uber.org/zap"

	"github.com/driftline/courier/courier"
	"github.com/driftline/courier/pkg/chat"
)

const refreshCadence = 2 * time.Second

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
)

// Messages delivered into the update loop.
type (
	redrawMsg  struct{}
	statusMsg  string
	tickMsg    time.Time
	confirmMsg struct {
		prompt string
		reply  chan bool
	}
)

type chatModel struct {
	engine  *courier.Engine
	logger  *zap.Logger
	program *tea.Program
	notify  <-chan struct{}

	input    textinput.Model
	view     viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	status  string
	confirm *confirmMsg
	width   int
	height  int
	ready   bool
}

func newChatModel(engine *courier.Engine, logger *zap.Logger, mode string, notify <-chan struct{}) *chatModel {
	input := textinput.New()
	input.Placeholder = "Say something (/new for a fresh session)"
	input.PromptStyle = promptStyle
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot

	style := "notty"
	if termenv.ColorProfile() != termenv.Ascii {
		style = "dark"
		if !termenv.HasDarkBackground() {
			style = "light"
		}
	}
	renderer, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style))
	if err != nil {
		renderer = nil
	}

	engine.SetMode(chat.Mode(mode))

	m := &chatModel{
		engine:   engine,
		logger:   logger,
		notify:   notify,
		input:    input,
		spin:     spin,
		renderer: renderer,
	}
	return m
}

// attach wires the engine's callbacks to the running program. Callbacks
// fire from send goroutines, so they cross into the update loop via Send.
func (m *chatModel) attach(program *tea.Program) {
	m.program = program
	m.engine.SetMessageFunc(func(msg string) {
		program.Send(statusMsg(msg))
	})
	m.engine.SetRetiredFunc(func(requestID string, d time.Duration) {
		program.Send(statusMsg(fmt.Sprintf("done in %s", d.Round(time.Millisecond))))
	})
	m.engine.SetConfirmFunc(func(prompt string) bool {
		reply := make(chan bool, 1)
		program.Send(confirmMsg{prompt: prompt, reply: reply})
		return <-reply
	})
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.tick(), m.waitRedraw(), textinput.Blink)
}

// waitRedraw surfaces transcript mutations as redraws; it re-arms itself
// through the redrawMsg case in Update.
func (m *chatModel) waitRedraw() tea.Cmd {
	return func() tea.Msg {
		<-m.notify
		return redrawMsg{}
	}
}

func (m *chatModel) tick() tea.Cmd {
	return tea.Tick(refreshCadence, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.ready {
			m.view = viewport.New(msg.Width, msg.Height-3)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = msg.Height - 3
		}
		m.redraw()
		return m, nil

	case tea.KeyMsg:
		if m.confirm != nil {
			switch msg.String() {
			case "y", "Y":
				m.confirm.reply <- true
				m.confirm = nil
			case "n", "N", "esc", "ctrl+c":
				m.confirm.reply <- false
				m.confirm = nil
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			raw := m.input.Value()
			if strings.TrimSpace(raw) == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.send(raw)
		}

	case redrawMsg:
		m.redraw()
		return m, m.waitRedraw()

	case statusMsg:
		m.status = string(msg)
		m.redraw()
		return m, nil

	case confirmMsg:
		m.confirm = &msg
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.engine.Outbox().Len() > 0 {
			m.redraw()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send dispatches through the engine off the update loop. The placeholder
// is enqueued synchronously inside Send, so the transcript reflects the
// message before the command returns.
func (m *chatModel) send(raw string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.engine.Send(context.Background(), raw); err != nil {
			m.logger.Warn("send rejected", zap.Error(err))
		}
		return redrawMsg{}
	}
}

// refresh drives the caller-side reconciliation cadence: prune retired
// placeholders against fresh history and record history latencies.
func (m *chatModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshCadence)
		defer cancel()
		_ = m.engine.RefreshHistory(ctx)
		_ = m.engine.SyncSessionHistory(ctx)
		return redrawMsg{}
	}
}

func (m *chatModel) redraw() {
	if !m.ready {
		return
	}
	atBottom := m.view.AtBottom()
	m.view.SetContent(m.renderTranscript())
	if atBottom {
		m.view.GotoBottom()
	}
}

func (m *chatModel) renderTranscript() string {
	var b strings.Builder
	pending := make(map[string]bool)
	for _, req := range m.engine.Outbox().Pending() {
		id := req.ClientID
		if req.ServerID != "" {
			id = req.ServerID
		}
		pending[id] = true
	}

	for _, entry := range m.engine.Transcript().Entries() {
		switch entry.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("you") + "  " + entry.Content + "\n")
			if pending[entry.RequestID] && !m.engine.Transcript().Has(entry.RequestID, chat.RoleAssistant) {
				b.WriteString(pendingStyle.Render(m.spin.View()+" waiting for reply") + "\n")
			}
		case chat.RoleAssistant:
			switch entry.Status {
			case chat.StatusFailed:
				b.WriteString(failedStyle.Render("err") + "  " + entry.Content + "\n")
			case chat.StatusCompleted:
				b.WriteString(assistantStyle.Render("bot") + "  " + m.renderMarkdown(entry.Content) + "\n")
			default:
				b.WriteString(assistantStyle.Render("bot") + "  " + entry.Content + m.spin.View() + "\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *chatModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(out)
}

func (m *chatModel) View() string {
	if !m.ready {
		return "loading..."
	}
	var footer string
	switch {
	case m.confirm != nil:
		footer = statusStyle.Render(m.confirm.prompt + " [y/n]")
	case m.status != "":
		footer = statusStyle.Render(ansi.Strip(m.status))
	default:
		footer = pendingStyle.Render(fmt.Sprintf("mode:%s provider:%s", m.engine.Mode(), m.engine.Provider()))
	}
	return m.view.View() + "\n" + m.input.View() + "\n" + footer
}
