// Package tool defines the southbound contract every tool implementation
// satisfies (spec §6.1). Tool implementations themselves (read/write/list/
// edit/shell/grep/glob/web) are external collaborators, out of scope per
// spec §1; this package only fixes the interface the Scheduler calls
// through. Grounded on spec §6.1 and the teacher's
// pkg/harness/codex/tools.go tool-spec-literal style.
package tool

import "context"

// Location identifies a file position a tool call touches, used to surface
// "where" a tool acted without re-parsing its arguments.
type Location struct {
	Path   string
	Line   int
	Column int
}

// ConfirmationKind classifies what kind of user approval a tool call needs.
type ConfirmationKind string

const (
	ConfirmExec    ConfirmationKind = "exec"
	ConfirmEdit    ConfirmationKind = "edit"
	ConfirmWrite   ConfirmationKind = "write"
	ConfirmGeneric ConfirmationKind = "generic"
)

// ConfirmationDetails is returned by ShouldConfirmExecute when a call needs
// user approval before running.
type ConfirmationDetails struct {
	Kind          ConfirmationKind
	Title         string
	Description   string
	CommandOrDiff string
}

// ConfirmationOutcome is the user's (or auto-confirm policy's) decision.
type ConfirmationOutcome string

const (
	ProceedOnce           ConfirmationOutcome = "proceed_once"
	ProceedAlways         ConfirmationOutcome = "proceed_always"
	ProceedAlwaysForTool  ConfirmationOutcome = "proceed_always_for_tool"
	ModifyWithEditor      ConfirmationOutcome = "modify_with_editor"
	Cancel                ConfirmationOutcome = "cancel"
)

// Result is the neutral outcome of a tool execution (spec §6.1).
// LLMContent is what gets wrapped in a FunctionResponse payload: a plain
// string is wrapped as {response:{output:<string>}}; a []any's first
// element is treated as the function response wrapper and the rest
// appended as additional parts (for media); a map already shaped as
// {"function_response": ...} passes through unchanged.
type Result struct {
	LLMContent    any
	ReturnDisplay string
	Success       bool
	Error         string
}

// Tool is the interface every tool implementation satisfies.
type Tool interface {
	Name() string
	DisplayName() string
	Description() string
	Icon() string
	Schema() map[string]any
	IsOutputMarkdown() bool
	CanUpdateOutput() bool
	IsReadOnly() bool

	// Validate returns a non-empty diagnostic if params fail the tool's
	// own parameter validation.
	Validate(params map[string]any) string

	// Describe renders a short human-readable description of this
	// invocation for confirmation prompts and logs.
	Describe(params map[string]any) string

	// Locations reports file positions this call will touch, if any.
	Locations(params map[string]any) []Location

	// ShouldConfirmExecute returns ConfirmationDetails when this call
	// needs user approval before running, or ok=false when it doesn't.
	ShouldConfirmExecute(ctx context.Context, params map[string]any) (details ConfirmationDetails, ok bool)

	// Execute runs the tool. liveOutput, when non-nil and CanUpdateOutput
	// is true, receives incremental output chunks as they're produced.
	Execute(ctx context.Context, params map[string]any, liveOutput func(chunk string)) Result
}

// WrapLLMContent normalizes a Result's LLMContent into the
// {"function_response": {...}} shaped map the Turn Engine sends back to
// the model (spec §6.1): a string becomes {response:{output:<string>}}; a
// []any treats its first element as the wrapper and appends the rest as
// additional parts under "extra_parts"; a map already holding
// "function_response" passes through unchanged.
func WrapLLMContent(content any) map[string]any {
	switch c := content.(type) {
	case nil:
		return map[string]any{"response": map[string]any{"output": ""}}
	case string:
		return map[string]any{"response": map[string]any{"output": c}}
	case []any:
		if len(c) == 0 {
			return map[string]any{"response": map[string]any{"output": ""}}
		}
		wrapped := WrapLLMContent(c[0])
		if len(c) > 1 {
			wrapped["extra_parts"] = c[1:]
		}
		return wrapped
	case map[string]any:
		if _, ok := c["function_response"]; ok {
			return c
		}
		if resp, ok := c["response"]; ok {
			return map[string]any{"response": resp}
		}
		return map[string]any{"response": c}
	default:
		return map[string]any{"response": map[string]any{"output": content}}
	}
}

// Registry is the immutable-during-a-turn set of tools available to a
// conversation (spec §3 Tool).
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from a set of tools, preserving
// registration order for deterministic tool-list serialization.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, overwriting any prior registration under the same
// name (last registration wins, matching map-assignment semantics).
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Filtered returns a new Registry containing only the named tools, per
// spec §6.3's allowed_tools config key. Unknown names are silently
// skipped (the registry only ever exposes tools it actually has).
func (r *Registry) Filtered(allowed []string) *Registry {
	if len(allowed) == 0 {
		return r
	}
	out := &Registry{tools: make(map[string]Tool, len(allowed))}
	for _, name := range allowed {
		if t, ok := r.tools[name]; ok {
			out.Register(t)
		}
	}
	return out
}
