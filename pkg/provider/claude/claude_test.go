package claude

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"agentcore/pkg/message"
	"agentcore/pkg/provider"
)

type fakeStreamer struct {
	events []anthropic.MessageStreamEventUnion
	err    error
}

func (f *fakeStreamer) streamMessages(ctx context.Context, params anthropic.MessageNewParams, onEvent func(anthropic.MessageStreamEventUnion) error) error {
	if f.err != nil {
		return f.err
	}
	for _, ev := range f.events {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func makeTestEvent(t *testing.T, jsonStr string) anthropic.MessageStreamEventUnion {
	t.Helper()
	var ev anthropic.MessageStreamEventUnion
	if err := ev.UnmarshalJSON([]byte(jsonStr)); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	return ev
}

func TestGenerateContentStreamTextAndUsage(t *testing.T) {
	a := New("test-key", "")
	a.streamer = &fakeStreamer{events: []anthropic.MessageStreamEventUnion{
		makeTestEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		makeTestEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}`),
		makeTestEvent(t, `{"type":"content_block_stop","index":0}`),
		makeTestEvent(t, `{"type":"message_start","message":{"id":"m","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-20250514","usage":{"input_tokens":10,"output_tokens":0}}}`),
		makeTestEvent(t, `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`),
		makeTestEvent(t, `{"type":"message_stop"}`),
	}}

	var text string
	var usage *provider.Usage
	var done bool
	err := a.GenerateContentStream(context.Background(), provider.Request{Model: "claude-sonnet-4-20250514"}, func(c provider.StreamChunk) error {
		text += c.TextDelta
		if c.Usage != nil {
			usage = c.Usage
		}
		if c.Done {
			done = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	if text != "hello" {
		t.Fatalf("expected text 'hello', got %q", text)
	}
	if usage == nil || usage.TotalTokens != 13 {
		t.Fatalf("expected total tokens 13, got %+v", usage)
	}
	if !done {
		t.Fatal("expected a terminal Done chunk")
	}
}

func TestGenerateContentStreamToolUse(t *testing.T) {
	a := New("test-key", "")
	a.streamer = &fakeStreamer{events: []anthropic.MessageStreamEventUnion{
		makeTestEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"c1","name":"read_file","input":{}}}`),
		makeTestEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"a\"}"}}`),
		makeTestEvent(t, `{"type":"content_block_stop","index":0}`),
		makeTestEvent(t, `{"type":"message_stop"}`),
	}}

	var gotCall *provider.StreamChunk
	err := a.GenerateContentStream(context.Background(), provider.Request{Model: "claude-sonnet-4-20250514"}, func(c provider.StreamChunk) error {
		if c.FunctionCall != nil {
			cp := c
			gotCall = &cp
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	if gotCall == nil || gotCall.FunctionCall.Name != "read_file" {
		t.Fatalf("expected read_file function call chunk, got %+v", gotCall)
	}
	if gotCall.FunctionCall.Args["path"] != "a" {
		t.Fatalf("expected path arg 'a', got %+v", gotCall.FunctionCall.Args)
	}
}

func TestGenerateContentStreamPropagatesStreamError(t *testing.T) {
	a := New("test-key", "")
	a.streamer = &fakeStreamer{err: context.DeadlineExceeded}
	err := a.GenerateContentStream(context.Background(), provider.Request{Model: "claude-sonnet-4-20250514"}, func(provider.StreamChunk) error { return nil })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerateContentAssemblesTextResponse(t *testing.T) {
	a := New("test-key", "")
	a.streamer = &fakeStreamer{events: []anthropic.MessageStreamEventUnion{
		makeTestEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		makeTestEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi there"}}`),
		makeTestEvent(t, `{"type":"content_block_stop","index":0}`),
		makeTestEvent(t, `{"type":"message_stop"}`),
	}}
	resp, err := a.GenerateContent(context.Background(), provider.Request{Model: "claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if resp.Text() != "hi there" {
		t.Fatalf("expected text 'hi there', got %q", resp.Text())
	}
}

func TestHistoryToMessagesRoutesUserToolResponsesToToolResult(t *testing.T) {
	// The Turn Engine appends tool results as RoleUser, never RoleTool
	// (pkg/turn/engine.go); this must still become a tool_result block or
	// the preceding tool_use block goes unanswered (Messages API 400).
	history := []message.Message{
		{Role: message.RoleModel, Parts: []message.Part{message.FunctionCallPart("t1", "read_file", map[string]any{"path": "a"})}},
		{Role: message.RoleUser, Parts: []message.Part{message.FunctionResponsePart("t1", "read_file", map[string]any{"output": "data"})}},
	}

	msgs, err := historyToMessages(history)
	if err != nil {
		t.Fatalf("historyToMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	b, err := json.Marshal(msgs[1])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	js := string(b)
	if !strings.Contains(js, `"tool_result"`) {
		t.Fatalf("expected a tool_result block, got %s", js)
	}
	if !strings.Contains(js, `"user"`) {
		t.Fatalf("expected role user, got %s", js)
	}
}
