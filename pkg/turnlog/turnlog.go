// Package turnlog wraps a turn.Engine with structured JSONL event logging,
// generalizing the teacher's pkg/harness/logger.go loggerHarness pattern
// (one file per turn, "turn_start"/"event"/"turn_end" entries, per-event
// latency, optional field redaction) from a Harness to a turn.Engine.
package turnlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/pretty"

	"agentcore/pkg/turn"
)

// Config configures the logging wrapper.
type Config struct {
	// Dir is the output directory; one .jsonl file is created per turn.
	Dir string

	// Redact shortens the system instruction and user message text in the
	// logged turn_start entry to their first 20 characters followed by a
	// redaction marker, the way loggerHarness redacts Instructions and
	// UserContext fields.
	Redact bool

	// Pretty pretty-prints the JSON of Turn.DebugResponses (spec §3) with
	// tidwall/pretty before it is stored in turn_end; either way the
	// debug_responses field holds those bytes base64-encoded, as
	// encoding/json writes a []byte.
	Pretty bool

	// OnEvent is an optional real-time hook for live debugging, invoked
	// with every event in addition to the caller's own onEvent.
	OnEvent func(turn.Event)
}

// entry is a single line in the JSONL log file.
type entry struct {
	Timestamp      string       `json:"ts"`
	Type           string       `json:"type"` // turn_start | event | turn_end
	PromptID       string       `json:"prompt_id,omitempty"`
	Model          string       `json:"model,omitempty"`
	SystemPreview  string       `json:"system_instruction,omitempty"`
	UserPreview    string       `json:"user_message,omitempty"`
	Kind           string       `json:"kind,omitempty"`
	Event          *turn.Event  `json:"event,omitempty"`
	LatencyMs      int64        `json:"latency_ms,omitempty"`
	TotalMs        int64        `json:"total_ms,omitempty"`
	FinalState     string       `json:"final_state,omitempty"`
	DebugResponses []byte       `json:"debug_responses,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Logger wraps a *turn.Engine, recording every turn it runs to Dir as a
// JSONL file.
type Logger struct {
	engine  *turn.Engine
	cfg     Config
	turnSeq atomic.Int64
}

// Wrap returns a Logger that drives engine's turns with JSONL logging.
func Wrap(engine *turn.Engine, cfg Config) *Logger {
	return &Logger{engine: engine, cfg: cfg}
}

// Run drives one turn through the wrapped engine, logging its lifecycle,
// and otherwise behaves exactly like turn.Engine.Run.
func (l *Logger) Run(ctx context.Context, tc turn.Context, abort <-chan struct{}, onEvent func(turn.Event) error) (*turn.Turn, error) {
	seq := l.turnSeq.Add(1)
	w, err := l.openLog(seq)
	if err != nil {
		return l.engine.Run(ctx, tc, abort, onEvent)
	}
	defer w.Close()

	start := time.Now()
	startEntry := entry{
		Timestamp: start.Format(time.RFC3339Nano),
		Type:      "turn_start",
		PromptID:  tc.PromptID,
		Model:     tc.Model,
	}
	if l.cfg.Redact {
		startEntry.SystemPreview = redact(tc.SystemInstruction)
		startEntry.UserPreview = redact(tc.UserMessage.Text())
	} else {
		startEntry.SystemPreview = tc.SystemInstruction
		startEntry.UserPreview = tc.UserMessage.Text()
	}
	l.writeLine(w, startEntry)

	last := start
	t, runErr := l.engine.Run(ctx, tc, abort, func(ev turn.Event) error {
		now := time.Now()
		latency := now.Sub(last).Milliseconds()
		last = now

		l.writeLine(w, entry{
			Timestamp: now.Format(time.RFC3339Nano),
			Type:      "event",
			Kind:      string(ev.Kind),
			Event:     &ev,
			LatencyMs: latency,
		})
		if l.cfg.OnEvent != nil {
			l.cfg.OnEvent(ev)
		}
		return onEvent(ev)
	})

	end := entry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Type:      "turn_end",
		TotalMs:   time.Since(start).Milliseconds(),
	}
	if t != nil {
		end.FinalState = string(t.State)
		if raw, err := json.Marshal(t.DebugResponses); err == nil {
			if l.cfg.Pretty {
				raw = pretty.Pretty(raw)
			}
			end.DebugResponses = raw
		}
	}
	if runErr != nil {
		end.Error = runErr.Error()
	}
	l.writeLine(w, end)

	return t, runErr
}

func (l *Logger) openLog(seq int64) (*os.File, error) {
	if err := os.MkdirAll(l.cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("turn-%s-%04d.jsonl", time.Now().Format("2006-01-02"), seq)
	return os.Create(filepath.Join(l.cfg.Dir, name))
}

func (l *Logger) writeLine(w *os.File, e entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	w.Write(data)
	w.Write([]byte("\n"))
}

// redact keeps the first 20 characters of s and replaces the rest, mirroring
// loggerHarness.redactString.
func redact(s string) string {
	if len(s) <= 20 {
		return s
	}
	return s[:20] + strings.Repeat("*", 10) + fmt.Sprintf(" [%d chars redacted]", len(s)-20)
}

// LogData holds a parsed JSONL log file produced by a Logger.
type LogData struct {
	PromptID string
	Model    string
	Events   []turn.Event
	// Entries contains every raw log entry, for detailed offline analysis.
	Entries []entry
}

// LoadLog reads a JSONL log file produced by Logger.Run and returns the
// parsed prompt id, model, and event sequence, adapted from
// pkg/harness/replay.go's LoadLog to this package's entry shape. This
// enables offline replay and debugging of a logged turn.
func LoadLog(path string) (*LogData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("turnlog: loadlog: %w", err)
	}
	defer f.Close()

	data := &LogData{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		data.Entries = append(data.Entries, e)

		switch e.Type {
		case "turn_start":
			data.PromptID = e.PromptID
			data.Model = e.Model
		case "event":
			if e.Event != nil {
				data.Events = append(data.Events, *e.Event)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("turnlog: loadlog: scan error: %w", err)
	}

	return data, nil
}
