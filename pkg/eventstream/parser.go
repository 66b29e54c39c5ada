// Package eventstream parses text/event-stream framing incrementally.
// Chunks are fed as they arrive off the wire; events split across chunk
// boundaries - including multi-byte sequences split mid-rune - are buffered
// until complete and emitted in arrival order only.
package eventstream

import (
	"bytes"
	"strings"
)

// Event captures one complete SSE event envelope.
type Event struct {
	Name string
	Data string
}

// Parser accumulates raw bytes across Feed calls and emits complete events.
// The zero value is ready to use. A Parser serves exactly one stream.
type Parser struct {
	buf       []byte // bytes not yet terminated by a newline
	eventName string
	dataLines []string
}

// Feed appends chunk to the parse buffer and emits every event completed by
// it, in order. Bytes belonging to a partial line stay buffered, so a rune
// or an event split across two chunks yields exactly one parsed result.
// A non-nil error from fn stops parsing and is returned as-is.
func (p *Parser) Feed(chunk []byte, fn func(Event) error) error {
	p.buf = append(p.buf, chunk...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return nil
		}
		line := string(bytes.TrimSuffix(p.buf[:i], []byte("\r")))
		p.buf = p.buf[i+1:]
		if err := p.consumeLine(line, fn); err != nil {
			return err
		}
	}
}

// Close flushes a trailing unterminated line and any pending event at
// end-of-stream.
func (p *Parser) Close(fn func(Event) error) error {
	if len(p.buf) > 0 {
		line := string(bytes.TrimSuffix(p.buf, []byte("\r")))
		p.buf = nil
		if err := p.consumeLine(line, fn); err != nil {
			return err
		}
	}
	return p.flush(fn)
}

func (p *Parser) consumeLine(line string, fn func(Event) error) error {
	if line == "" {
		return p.flush(fn)
	}
	if strings.HasPrefix(line, ":") {
		return nil
	}
	switch {
	case strings.HasPrefix(line, "event:"):
		p.eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		p.dataLines = append(p.dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
	}
	return nil
}

func (p *Parser) flush(fn func(Event) error) error {
	if len(p.dataLines) == 0 {
		p.eventName = ""
		return nil
	}
	ev := Event{
		Name: strings.TrimSpace(p.eventName),
		Data: strings.Join(p.dataLines, "\n"),
	}
	p.eventName = ""
	p.dataLines = p.dataLines[:0]
	return fn(ev)
}
