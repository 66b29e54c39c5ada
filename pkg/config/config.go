// Package config loads the courier TOML configuration file and optionally
// watches it for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// File is the on-disk configuration.
type File struct {
	Chat   Chat   `toml:"chat"`
	Server Server `toml:"server"`
}

// Chat configures the send engine and the CLI client.
type Chat struct {
	BaseURL     string  `toml:"base_url"`
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Language    string  `toml:"language"`
}

// Server configures the dev backend.
type Server struct {
	Listen string `toml:"listen"`
	DBPath string `toml:"db"`
}

// Default returns the configuration used when no file is present.
func Default() File {
	return File{
		Chat: Chat{
			BaseURL:     "http://localhost:6160",
			Provider:    "local",
			Model:       "llama3",
			MaxTokens:   1024,
			Temperature: 0.7,
			Language:    "en",
		},
		Server: Server{
			Listen: ":6160",
		},
	}
}

// Load reads path, layering it over the defaults. A missing file is not an
// error; a malformed one is.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Watch re-loads path whenever it changes and hands the result to onChange.
// It blocks until the watcher fails or its channel closes, so callers run
// it in its own goroutine. Reload errors are logged and skipped.
func Watch(path string, logger *zap.Logger, onChange func(File)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("could not watch %s: %w", path, err)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", path))
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
