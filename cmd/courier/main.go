package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftline/courier/cmd/courier/chatcmder"
	"github.com/driftline/courier/cmd/courier/mcpcmder"
	"github.com/driftline/courier/cmd/courier/servecmder"
)

func main() {
	root := &cobra.Command{
		Use:           "courier",
		Short:         "Optimistic chat-send engine and dev backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().String("config", defaultConfigPath(), "Path to TOML config file")

	root.AddCommand(chatcmder.NewChatCmd())
	root.AddCommand(servecmder.NewServeCmd())
	root.AddCommand(mcpcmder.NewMCPCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "courier.toml"
	}
	return filepath.Join(home, ".courier", "courier.toml")
}
