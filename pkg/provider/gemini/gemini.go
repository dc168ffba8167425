// Package gemini implements the Gemini-style Provider adapter (spec
// §4.1.1) over the real Google Generative AI Go SDK. Grounded on
// taipm-go-deep-agent/agent/adapters/gemini_adapter.go for the
// genai.GenerativeModel / streaming-iterator usage pattern, generalized to
// full multi-turn history, function-call/function-response round-tripping,
// and the neutral provider.Provider contract.
package gemini

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"agentcore/pkg/agenterr"
	"agentcore/pkg/message"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/schema"
)

// Adapter implements provider.Provider for Gemini's native function-calling
// wire format.
type Adapter struct {
	client *genai.Client

	// NativeSystemInstruction controls whether the system prompt is sent
	// via genai's dedicated SystemInstruction field (the default, always
	// available on the real SDK) or, when explicitly disabled, prepended
	// as a synthetic first User message per spec §4.1.1's documented
	// fallback — exercised for future non-genai Gemini transports.
	NativeSystemInstruction bool
}

// New constructs a Gemini Adapter authenticated with an API key.
func New(ctx context.Context, apiKey string) (*Adapter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, agenterr.Authentication("failed to create Gemini client", agenterr.WithCause(err))
	}
	return &Adapter{client: client, NativeSystemInstruction: true}, nil
}

func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) SupportsStreaming(hasTools bool) bool { return true }

func (a *Adapter) ContextLimit(model string) int {
	switch {
	case model == "gemini-1.5-pro":
		return 2000000
	default:
		return 1000000
	}
}

func (a *Adapter) CountTokens(ctx context.Context, req provider.Request) (int, error) {
	model, history := a.buildModel(req)
	parts := historyToParts(history)
	resp, err := model.CountTokens(ctx, parts...)
	if err != nil {
		return 0, agenterr.Classify(err)
	}
	return int(resp.TotalTokens), nil
}

func (a *Adapter) GenerateContent(ctx context.Context, req provider.Request) (provider.Response, error) {
	model, history := a.buildModel(req)
	cs := model.StartChat()
	cs.History = historyToContents(history[:len(history)-1])

	resp, err := cs.SendMessage(ctx, historyToParts(history[len(history)-1:])...)
	if err != nil {
		return provider.Response{}, agenterr.Classify(err)
	}
	return convertResponse(resp), nil
}

func (a *Adapter) GenerateContentStream(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk) error) error {
	model, history := a.buildModel(req)
	cs := model.StartChat()
	cs.History = historyToContents(history[:len(history)-1])

	iter := cs.SendMessageStream(ctx, historyToParts(history[len(history)-1:])...)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			return onChunk(provider.StreamChunk{Done: true})
		}
		if err != nil {
			return agenterr.Classify(err)
		}
		for _, chunk := range streamChunksFromResponse(resp) {
			if err := onChunk(chunk); err != nil {
				return err
			}
		}
	}
}

// buildModel constructs a configured GenerativeModel and, when
// NativeSystemInstruction is false, prepends the system instruction as a
// synthetic User message to the returned history (spec §4.1.1 fallback).
func (a *Adapter) buildModel(req provider.Request) (*genai.GenerativeModel, []message.Message) {
	model := a.client.GenerativeModel(req.Model)

	if req.Generation.Temperature != nil {
		model.SetTemperature(float32(*req.Generation.Temperature))
	}
	if req.Generation.TopP != nil {
		model.SetTopP(float32(*req.Generation.TopP))
	}
	if req.Generation.MaxOutputTokens != nil {
		model.SetMaxOutputTokens(int32(*req.Generation.MaxOutputTokens))
	}
	if len(req.Generation.StopSequences) > 0 {
		model.StopSequences = req.Generation.StopSequences
	}
	if len(req.Tools) > 0 {
		model.Tools = convertTools(req.Tools)
	}

	history := req.History
	if req.SystemInstruction != "" {
		if a.NativeSystemInstruction {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemInstruction)}}
		} else {
			synthetic := message.NewMessage(message.RoleUser, req.SystemInstruction)
			history = append([]message.Message{synthetic}, history...)
		}
	}
	return model, history
}

func convertTools(tools []provider.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		cleaned := schema.CleanForGemini(t.Parameters)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  mapToGenaiSchema(cleaned),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// mapToGenaiSchema converts a cleaned JSON-Schema-subset map into a
// *genai.Schema. Only the keys schema.CleanForGemini keeps are present.
func mapToGenaiSchema(node any) *genai.Schema {
	m, ok := node.(map[string]any)
	if !ok {
		return &genai.Schema{Type: genai.TypeObject}
	}
	s := &genai.Schema{}
	if typ, ok := m["type"].(string); ok {
		s.Type = genaiType(typ)
	} else {
		s.Type = genai.TypeObject
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = map[string]*genai.Schema{}
		for name, prop := range props {
			s.Properties[name] = mapToGenaiSchema(prop)
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := m["items"]; ok {
		s.Items = mapToGenaiSchema(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func genaiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// historyToContents converts every message but the last into genai.Content
// (used for ChatSession.History); the last message is sent via
// SendMessage(Stream) separately, matching the SDK's chat-session idiom.
func historyToContents(history []message.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		out = append(out, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: messagePartsToGenai(m.Parts),
		})
	}
	return out
}

func historyToParts(history []message.Message) []genai.Part {
	var out []genai.Part
	for _, m := range history {
		out = append(out, messagePartsToGenai(m.Parts)...)
	}
	return out
}

func geminiRole(r message.Role) string {
	switch r {
	case message.RoleModel:
		return "model"
	case message.RoleTool:
		return "user" // function responses travel as a "user" role turn
	default:
		return "user"
	}
}

func messagePartsToGenai(parts []message.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Text != nil:
			out = append(out, genai.Text(*p.Text))
		case p.FunctionCall != nil:
			out = append(out, genai.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
		case p.FunctionResponse != nil:
			out = append(out, genai.FunctionResponse{Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response})
		case p.InlineData != nil:
			out = append(out, genai.Blob{MIMEType: p.InlineData.MimeType, Data: p.InlineData.Bytes})
		case p.FileData != nil:
			out = append(out, genai.FileData{MIMEType: p.FileData.MimeType, URI: p.FileData.URI})
		}
	}
	return out
}

// convertResponse normalizes a genai.GenerateContentResponse into the
// neutral provider.Response. Function calls preserve any id Gemini
// supplies (rare); synthetic ids are assigned at the Turn Engine boundary
// when absent, per spec §4.1.1.
func convertResponse(resp *genai.GenerateContentResponse) provider.Response {
	out := provider.Response{}
	if resp.UsageMetadata != nil {
		out.Usage = &provider.Usage{
			PromptTokens:    int(resp.UsageMetadata.PromptTokenCount),
			CandidateTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:     int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	for _, cand := range resp.Candidates {
		out.Candidates = append(out.Candidates, genaiCandidateToNeutral(cand))
	}
	return out
}

func genaiCandidateToNeutral(cand *genai.Candidate) provider.Candidate {
	var parts []message.Part
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch v := p.(type) {
			case genai.Text:
				parts = append(parts, message.TextPart(string(v)))
			case genai.FunctionCall:
				parts = append(parts, message.FunctionCallPart("", v.Name, v.Args))
			}
		}
	}
	finish := ""
	if cand.FinishReason != genai.FinishReasonUnspecified {
		finish = cand.FinishReason.String()
	}
	return provider.Candidate{
		Message:      message.Message{Role: message.RoleModel, Parts: parts},
		FinishReason: finish,
	}
}

func streamChunksFromResponse(resp *genai.GenerateContentResponse) []provider.StreamChunk {
	var chunks []provider.StreamChunk
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			switch v := p.(type) {
			case genai.Text:
				chunks = append(chunks, provider.StreamChunk{TextDelta: string(v)})
			case genai.FunctionCall:
				fc := message.FunctionCall{Name: v.Name, Args: v.Args}
				chunks = append(chunks, provider.StreamChunk{FunctionCall: &fc})
			}
		}
	}
	if resp.UsageMetadata != nil {
		chunks = append(chunks, provider.StreamChunk{Usage: &provider.Usage{
			PromptTokens:    int(resp.UsageMetadata.PromptTokenCount),
			CandidateTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:     int(resp.UsageMetadata.TotalTokenCount),
		}})
	}
	return chunks
}
