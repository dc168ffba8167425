// Package message defines the neutral conversation data model shared by
// every provider adapter, the token manager, the scheduler, and the turn
// engine: a Message is a {role, parts} record and a Part is a tagged union
// over the five shapes a provider can emit or consume.
package message

import "fmt"

// Role identifies who authored a Message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// Part is a tagged union: exactly one of the typed fields is non-nil.
// This mirrors the teacher's Event struct (pkg/harness/events.go), which
// forces the same discipline on its own tagged union of streamed events.
type Part struct {
	Text             *string           `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
}

// FunctionCall is a structured request, made by the model, to invoke a
// named tool with JSON-compatible arguments. ID is the identifier that
// flows unchanged into the matching FunctionResponse.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// FunctionResponse carries a previously requested tool's output back to
// the model, keyed by the original call's ID.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

// InlineData is raw media content embedded directly in a message.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Bytes    []byte `json:"bytes"`
}

// FileData references media content by URI rather than embedding it.
type FileData struct {
	MimeType string `json:"mimeType"`
	URI      string `json:"uri"`
}

// Message is a single turn of conversation content.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextPart builds a Part carrying plain text.
func TextPart(text string) Part { return Part{Text: &text} }

// FunctionCallPart builds a Part carrying a model function-call request.
func FunctionCallPart(id, name string, args map[string]any) Part {
	return Part{FunctionCall: &FunctionCall{ID: id, Name: name, Args: args}}
}

// FunctionResponsePart builds a Part carrying a tool's response.
func FunctionResponsePart(id, name string, response map[string]any) Part {
	return Part{FunctionResponse: &FunctionResponse{ID: id, Name: name, Response: response}}
}

// Text concatenates every text part's text, in part order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Text != nil {
			out += *p.Text
		}
	}
	return out
}

// FunctionCalls returns every FunctionCall part carried by this message,
// in part order.
func (m Message) FunctionCalls() []FunctionCall {
	var out []FunctionCall
	for _, p := range m.Parts {
		if p.FunctionCall != nil {
			out = append(out, *p.FunctionCall)
		}
	}
	return out
}

// FunctionResponses returns every FunctionResponse part carried by this
// message, in part order.
func (m Message) FunctionResponses() []FunctionResponse {
	var out []FunctionResponse
	for _, p := range m.Parts {
		if p.FunctionResponse != nil {
			out = append(out, *p.FunctionResponse)
		}
	}
	return out
}

// NewMessage builds a text-only message, the common case for user input
// and plain model replies.
func NewMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart(text)}}
}

// CheckWellFormed verifies the conversation well-formedness invariant from
// spec §3: every FunctionCall in a Model message must be matched by a
// later FunctionResponse with the same ID, appearing before any further
// Model message.
func CheckWellFormed(history []Message) error {
	pending := map[string]bool{}
	for i, msg := range history {
		if msg.Role == RoleModel {
			if len(pending) > 0 {
				return fmt.Errorf("message %d: Model message appears while %d function call(s) remain unanswered", i, len(pending))
			}
			for _, fc := range msg.FunctionCalls() {
				if fc.ID == "" {
					continue
				}
				if pending[fc.ID] {
					return fmt.Errorf("message %d: duplicate pending function call id %q", i, fc.ID)
				}
				pending[fc.ID] = true
			}
			continue
		}
		for _, fr := range msg.FunctionResponses() {
			if fr.ID != "" {
				delete(pending, fr.ID)
			}
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("history ends with %d unanswered function call(s)", len(pending))
	}
	return nil
}
