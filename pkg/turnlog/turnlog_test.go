package turnlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentcore/pkg/message"
	"agentcore/pkg/provider"
	"agentcore/pkg/scheduler"
	"agentcore/pkg/tool"
	"agentcore/pkg/turn"
)

// echoProvider replies with a fixed text and never calls a tool.
type echoProvider struct{ reply string }

func (p *echoProvider) Name() string                        { return "echo" }
func (p *echoProvider) SupportsStreaming(hasTools bool) bool { return true }
func (p *echoProvider) ContextLimit(model string) int        { return 1000000 }
func (p *echoProvider) CountTokens(ctx context.Context, req provider.Request) (int, error) {
	return 0, nil
}
func (p *echoProvider) GenerateContentStream(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk) error) error {
	if err := onChunk(provider.StreamChunk{TextDelta: p.reply}); err != nil {
		return err
	}
	return onChunk(provider.StreamChunk{Done: true})
}
func (p *echoProvider) GenerateContent(ctx context.Context, req provider.Request) (provider.Response, error) {
	return provider.Response{}, nil
}

func baseContext(dir string) turn.Context {
	reg := tool.NewRegistry()
	sched := scheduler.New(reg, nil, nil, true)
	_ = sched
	return turn.Context{
		PromptID:           "p1",
		UserMessage:        message.NewMessage(message.RoleUser, "hello there this is a long user message"),
		Model:              "mock-model",
		Provider:           &echoProvider{reply: "hi"},
		ToolRegistry:       reg,
		SystemInstruction:  "You are a helpful assistant with a long system prompt for redaction testing.",
		AutoConfirm:        true,
	}
}

func TestLoggerWritesTurnStartEventAndEnd(t *testing.T) {
	dir := t.TempDir()
	reg := tool.NewRegistry()
	sched := scheduler.New(reg, nil, nil, true)
	engine := turn.NewEngine(sched)
	logger := Wrap(engine, Config{Dir: dir})

	tc := baseContext(dir)
	tc.ToolRegistry = reg

	gotTurn, err := logger.Run(context.Background(), tc, nil, func(e turn.Event) error { return nil })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if gotTurn == nil || gotTurn.State != turn.Completed {
		t.Fatalf("expected completed turn, got %+v", gotTurn)
	}

	files, err := os.ReadDir(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("expected exactly one log file, got %v (err=%v)", files, err)
	}

	f, err := os.Open(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("failed to unmarshal log line %q: %v", sc.Text(), err)
		}
		types = append(types, e.Type)
		if e.Type == "turn_end" && e.FinalState != string(turn.Completed) {
			t.Fatalf("expected turn_end final_state=completed, got %q", e.FinalState)
		}
	}
	if len(types) < 2 || types[0] != "turn_start" || types[len(types)-1] != "turn_end" {
		t.Fatalf("expected turn_start ... turn_end, got %v", types)
	}
}

func TestLoggerRedactsLongFields(t *testing.T) {
	dir := t.TempDir()
	reg := tool.NewRegistry()
	sched := scheduler.New(reg, nil, nil, true)
	engine := turn.NewEngine(sched)
	logger := Wrap(engine, Config{Dir: dir, Redact: true})

	tc := baseContext(dir)
	tc.ToolRegistry = reg

	if _, err := logger.Run(context.Background(), tc, nil, func(e turn.Event) error { return nil }); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	files, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	first := strings.SplitN(string(data), "\n", 2)[0]
	var e entry
	if err := json.Unmarshal([]byte(first), &e); err != nil {
		t.Fatalf("failed to unmarshal turn_start line: %v", err)
	}
	if !strings.Contains(e.SystemPreview, "*") {
		t.Fatalf("expected redacted system_instruction, got %q", e.SystemPreview)
	}
}

func TestLoadLogParsesEventsBackOut(t *testing.T) {
	dir := t.TempDir()
	reg := tool.NewRegistry()
	sched := scheduler.New(reg, nil, nil, true)
	engine := turn.NewEngine(sched)
	logger := Wrap(engine, Config{Dir: dir})

	tc := baseContext(dir)
	tc.ToolRegistry = reg
	if _, err := logger.Run(context.Background(), tc, nil, func(e turn.Event) error { return nil }); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	files, _ := os.ReadDir(dir)
	data, err := LoadLog(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	if data.PromptID != "p1" || data.Model != "mock-model" {
		t.Fatalf("expected prompt_id/model from turn_start, got %q/%q", data.PromptID, data.Model)
	}
	if len(data.Events) == 0 {
		t.Fatal("expected at least one parsed event")
	}
}
