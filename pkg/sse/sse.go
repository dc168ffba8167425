// Package sse implements a minimal Server-Sent-Events reader over the raw
// `data: ...` line protocol used by streaming chat-completions endpoints.
// Grounded on the teacher's pkg/sse: hand-rolled bufio.Scanner line parsing,
// no SSE client library, matching the corpus's own choice for this concern.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Event is one parsed SSE event: the raw JSON payload from its `data:`
// line(s), joined on newlines when a single event spans several lines.
type Event struct {
	Raw []byte
}

// ParseStream scans r for `data: ...` lines, joining continuation lines
// within one event (blank line terminates an event) and invoking emit for
// each non-empty, non-"[DONE]" payload. Comment lines (leading ':') and
// blank separators are otherwise ignored, matching the SSE spec's minimum.
func ParseStream(r io.Reader, emit func(Event) error) error {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)

	var dataLines []string
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		joined := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		trimmed := strings.TrimSpace(joined)
		if trimmed == "" || trimmed == "[DONE]" {
			return nil
		}
		return emit(Event{Raw: []byte(joined)})
	}

	for s.Scan() {
		line := s.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	return flush()
}

// DecodeJSON is a small helper for unmarshaling an Event's raw payload,
// returning ok=false (no error) when the payload isn't valid JSON so callers
// can skip malformed chunks the way the teacher's translation layer does.
func DecodeJSON(ev Event, v any) (ok bool) {
	if err := json.Unmarshal(ev.Raw, v); err != nil {
		return false
	}
	return true
}
