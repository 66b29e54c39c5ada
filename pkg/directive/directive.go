// Package directive extracts embedded routing directives from raw chat
// input before it is submitted.
package directive

import "strings"

// Set holds the directives recognized in one input.
type Set struct {
	Tool     string // /tool=NAME forces a tool route
	Provider string // /provider=NAME[:MODEL] forces a provider
	Model    string // model part of a provider directive
	Intent   string // /intent=NAME forces an intent tag
	Reset    bool   // /new requests a fresh session
}

// Parser turns raw input into a directive set and the cleaned prompt.
type Parser interface {
	Parse(raw string) (Set, string)
}

// VerbatimParser recognizes no directives: the whole input is the prompt.
// Programmatic hosts install it so a prompt that happens to start with a
// slash token is sent as written.
type VerbatimParser struct{}

func (VerbatimParser) Parse(raw string) (Set, string) {
	return Set{}, strings.TrimSpace(raw)
}

// SlashParser is the default grammar: leading whitespace-separated tokens
// of the form /key=value (or the bare /new). Parsing stops at the first
// token that is not a directive; the remainder is the prompt.
type SlashParser struct{}

func (SlashParser) Parse(raw string) (Set, string) {
	var set Set
	rest := strings.TrimSpace(raw)
	for rest != "" {
		token := rest
		if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
			token = rest[:i]
		}
		if !consume(&set, token) {
			break
		}
		rest = strings.TrimSpace(rest[len(token):])
	}
	return set, rest
}

func consume(set *Set, token string) bool {
	if token == "/new" {
		set.Reset = true
		return true
	}
	key, value, ok := strings.Cut(token, "=")
	if !ok || value == "" {
		return false
	}
	switch key {
	case "/tool":
		set.Tool = value
	case "/provider":
		provider, model, _ := strings.Cut(value, ":")
		set.Provider = provider
		set.Model = model
	case "/intent":
		set.Intent = value
	default:
		return false
	}
	return true
}
