package mcpcmder

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/driftline/courier/courier"
	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/config"
	"github.com/driftline/courier/pkg/directive"
	"github.com/driftline/courier/pkg/logger"
)

const mcpLongDesc string = `Expose the send engine as an MCP server over stdio.

The server offers a single send_message tool that submits a prompt
through the optimistic-send engine and returns the streamed reply once
it completes.

Examples:
  courier mcp
  courier mcp --base-url http://localhost:7000`

const mcpShortDesc string = "Run an MCP server over stdio"

type mcpCommander struct {
	baseURL string
}

type sendArgs struct {
	Prompt string `json:"prompt" jsonschema:"the message to send"`
	Mode   string `json:"mode,omitempty" jsonschema:"chat mode: normal, direct, or complex"`
}

func NewMCPCmd() *cobra.Command {
	cmder := &mcpCommander{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.baseURL, "base-url", "", "Backend base URL")

	return cmd
}

func (c *mcpCommander) run(cmd *cobra.Command) error {
	debug, _ := cmd.Flags().GetBool("debug")
	configPath, _ := cmd.Flags().GetString("config")

	log := logger.NewLogger(debug)
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
	engine := courier.New(courier.Config{
		Model:             cfg.Chat.Model,
		MaxTokens:         cfg.Chat.MaxTokens,
		Temperature:       cfg.Chat.Temperature,
		Provider:          cfg.Chat.Provider,
		PreferredLanguage: cfg.Chat.Language,
	}, backend, log, nil)
	engine.SetMode(chat.ModeDirect)
	// MCP clients send programmatic prompts; never reinterpret slash
	// tokens as directives.
	engine.SetDirectiveParser(directive.VerbatimParser{})

	server := mcp.NewServer(&mcp.Implementation{Name: "courier", Version: "0.1.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a chat message and return the assistant's reply",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sendArgs) (*mcp.CallToolResult, any, error) {
		return handleSend(ctx, engine, args)
	})

	return server.Run(cmd.Context(), &mcp.StdioTransport{})
}

func handleSend(ctx context.Context, engine *courier.Engine, args sendArgs) (*mcp.CallToolResult, any, error) {
	if args.Mode != "" {
		engine.SetMode(chat.Mode(args.Mode))
	}
	if _, err := engine.Send(ctx, args.Prompt); err != nil {
		return nil, nil, fmt.Errorf("send rejected: %s", courier.UserMessage(err))
	}
	engine.Wait()

	// The reply is the newest assistant entry; streaming sends complete
	// before Wait returns.
	entries := engine.Transcript().Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role != chat.RoleAssistant {
			continue
		}
		if entries[i].Status == chat.StatusFailed {
			return nil, nil, fmt.Errorf("send failed: %s", entries[i].Content)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: entries[i].Content}},
		}, nil, nil
	}

	// Queued sends resolve later; report acceptance.
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "request queued"}},
	}, nil, nil
}
