package tool

import (
	"context"
	"testing"
)

type stubTool struct {
	name string
}

func (s stubTool) Name() string            { return s.name }
func (s stubTool) DisplayName() string     { return s.name }
func (s stubTool) Description() string     { return "stub" }
func (s stubTool) Icon() string            { return "" }
func (s stubTool) Schema() map[string]any  { return map[string]any{"type": "object"} }
func (s stubTool) IsOutputMarkdown() bool  { return false }
func (s stubTool) CanUpdateOutput() bool   { return false }
func (s stubTool) IsReadOnly() bool        { return true }
func (s stubTool) Validate(params map[string]any) string { return "" }
func (s stubTool) Describe(params map[string]any) string { return s.name }
func (s stubTool) Locations(params map[string]any) []Location { return nil }
func (s stubTool) ShouldConfirmExecute(ctx context.Context, params map[string]any) (ConfirmationDetails, bool) {
	return ConfirmationDetails{}, false
}
func (s stubTool) Execute(ctx context.Context, params map[string]any, liveOutput func(string)) Result {
	return Result{LLMContent: "ok", Success: true}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(stubTool{name: "a"}, stubTool{name: "b"})
	if _, ok := r.Get("a"); !ok {
		t.Fatal("expected tool a to be registered")
	}
	if len(r.List()) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(r.List()))
	}
}

func TestRegistryFilteredKeepsOrderAndSkipsUnknown(t *testing.T) {
	r := NewRegistry(stubTool{name: "a"}, stubTool{name: "b"}, stubTool{name: "c"})
	filtered := r.Filtered([]string{"c", "a", "nope"})
	names := make([]string, 0)
	for _, t := range filtered.List() {
		names = append(names, t.Name())
	}
	if len(names) != 2 || names[0] != "c" || names[1] != "a" {
		t.Fatalf("unexpected filtered order: %v", names)
	}
}

func TestRegistryFilteredEmptyReturnsAll(t *testing.T) {
	r := NewRegistry(stubTool{name: "a"})
	if r.Filtered(nil) != r {
		t.Fatal("expected empty allowlist to return the same registry")
	}
}

func TestWrapLLMContentString(t *testing.T) {
	got := WrapLLMContent("a\nb")
	resp := got["response"].(map[string]any)
	if resp["output"] != "a\nb" {
		t.Fatalf("unexpected wrap: %v", got)
	}
}

func TestWrapLLMContentList(t *testing.T) {
	got := WrapLLMContent([]any{"first", map[string]any{"mimeType": "image/png"}})
	resp := got["response"].(map[string]any)
	if resp["output"] != "first" {
		t.Fatalf("unexpected first element wrap: %v", got)
	}
	extra := got["extra_parts"].([]any)
	if len(extra) != 1 {
		t.Fatalf("expected 1 extra part, got %v", extra)
	}
}

func TestWrapLLMContentPassthrough(t *testing.T) {
	in := map[string]any{"function_response": map[string]any{"id": "c1"}}
	got := WrapLLMContent(in)
	if got["function_response"] == nil {
		t.Fatalf("expected passthrough, got %v", got)
	}
}
