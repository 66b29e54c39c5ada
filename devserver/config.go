package devserver

import "time"

// Config is the dev backend configuration.
type Config struct {
	// Address to listen on (e.g., ":6160")
	ListenAddr string

	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database, or empty for in-memory.
	DBPath string

	// StreamDelay is the pause between streamed tokens. Zero streams the
	// whole reply at once, which tests rely on.
	StreamDelay time.Duration

	// Reply generates the assistant answer for a prompt. Nil uses a
	// canned echo reply.
	Reply func(prompt string) string
}
