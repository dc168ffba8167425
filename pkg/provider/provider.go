// Package provider defines the neutral interface every LLM backend adapter
// implements (spec §4.1): Gemini-native and OpenAI-style Chat Completions
// wire formats both reduce to this shape so the Turn Engine never branches
// on which provider is in play. Grounded on godex pkg/backend.Backend.
package provider

import (
	"context"

	"agentcore/pkg/message"
)

// Tool is the provider-agnostic function declaration passed alongside a
// generation request.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema, cleaned per-provider before send
}

// GenerationConfig carries the sampling/limits knobs common to every
// provider, translated into each wire format's own field names.
type GenerationConfig struct {
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int
	StopSequences   []string
}

// Request is a single generation request: history plus the system
// instruction, tool declarations, and sampling config for this turn.
type Request struct {
	Model             string
	SystemInstruction string
	History           []message.Message
	Tools             []Tool
	Generation        GenerationConfig
}

// Usage reports token accounting returned by the provider for a single
// exchange, when available.
type Usage struct {
	PromptTokens     int
	CandidateTokens  int
	TotalTokens      int
}

// Candidate is one generated alternative. Providers that return a single
// completion populate exactly one Candidate.
type Candidate struct {
	Message      message.Message
	FinishReason string
}

// Response is the neutral shape every adapter normalizes its wire response
// into before handing it back to the Turn Engine.
type Response struct {
	Candidates []Candidate
	Usage      *Usage
}

// Text returns the first candidate's concatenated text, or "" if there are
// no candidates.
func (r Response) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].Message.Text()
}

// FunctionCalls returns the first candidate's function calls, or nil.
func (r Response) FunctionCalls() []message.FunctionCall {
	if len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].Message.FunctionCalls()
}

// StreamChunk is one incremental update emitted while streaming a
// generation. Exactly one of TextDelta/ThoughtDelta/FunctionCall/Usage is
// meaningfully populated per chunk; Done marks stream completion.
type StreamChunk struct {
	TextDelta    string
	ThoughtDelta string // reasoning/thinking summary text, when the model emits one
	FunctionCall *message.FunctionCall
	Usage        *Usage
	Done         bool
}

// Provider is the interface every wire-format adapter implements.
type Provider interface {
	// Name identifies the provider for logging and error attribution
	// (e.g. "gemini", "moonshot").
	Name() string

	// GenerateContent performs a single non-streaming generation call.
	GenerateContent(ctx context.Context, req Request) (Response, error)

	// GenerateContentStream performs a streaming generation call, invoking
	// onChunk for every incremental update. Implementations that cannot
	// stream tool calls fall back to a single non-streaming call internally
	// and replay its result as a sequence of chunks ending in a Done chunk
	// (spec §4.1.3).
	GenerateContentStream(ctx context.Context, req Request, onChunk func(StreamChunk) error) error

	// CountTokens estimates the token cost of req without performing
	// generation, when the provider can do so cheaply; otherwise it
	// returns an error, and callers fall back to the tokens package's
	// estimator.
	CountTokens(ctx context.Context, req Request) (int, error)

	// ContextLimit returns the provider's total context window in tokens
	// for the given model, or 0 if unknown.
	ContextLimit(model string) int

	// SupportsStreaming reports whether this provider can stream tool
	// calls incrementally, or must fall back to non-streaming when tools
	// are present.
	SupportsStreaming(hasTools bool) bool
}
