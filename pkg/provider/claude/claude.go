// Package claude implements the optional third Provider adapter (spec
// §4.1, "MAY additionally support Claude's Messages API") over the real
// Anthropic Go SDK. Grounded on the teacher's pkg/harness/claude package:
// buildRequest's message/tool translation and translateEvent's streaming
// content-block state machine, adapted from the teacher's OAuth
// TokenStore authentication (proxy-layer plumbing, out of scope) to direct
// API-key authentication, matching how pkg/provider/gemini and
// pkg/provider/openaistyle both authenticate.
package claude

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentcore/pkg/agenterr"
	"agentcore/pkg/message"
	"agentcore/pkg/provider"
)

const defaultMaxTokens = 16384

// messageStreamer abstracts the streaming API so tests can substitute a
// fake without a live API key, mirroring the teacher's testClient seam.
type messageStreamer interface {
	streamMessages(ctx context.Context, params anthropic.MessageNewParams, onEvent func(anthropic.MessageStreamEventUnion) error) error
}

// Adapter implements provider.Provider for the Anthropic Messages API.
type Adapter struct {
	client       anthropic.Client
	streamer     messageStreamer // nil in production; real client used directly
	defaultModel string
	maxTokens    int
}

// New constructs an Adapter authenticated with an API key.
func New(apiKey, defaultModel string) *Adapter {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	return &Adapter{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		maxTokens:    defaultMaxTokens,
	}
}

func (a *Adapter) Name() string { return "claude" }

func (a *Adapter) SupportsStreaming(hasTools bool) bool { return true }

func (a *Adapter) ContextLimit(model string) int { return 200000 }

func (a *Adapter) CountTokens(ctx context.Context, req provider.Request) (int, error) {
	return 0, agenterr.Generic("CountTokens not supported by claude adapter")
}

func (a *Adapter) GenerateContent(ctx context.Context, req provider.Request) (provider.Response, error) {
	var candidate provider.Candidate
	var usage *provider.Usage
	var textParts []string

	err := a.GenerateContentStream(ctx, req, func(chunk provider.StreamChunk) error {
		switch {
		case chunk.TextDelta != "":
			textParts = append(textParts, chunk.TextDelta)
		case chunk.FunctionCall != nil:
			fc := *chunk.FunctionCall
			candidate.Message.Parts = append(candidate.Message.Parts, message.FunctionCallPart(fc.ID, fc.Name, fc.Args))
		case chunk.Usage != nil:
			usage = chunk.Usage
		}
		return nil
	})
	if err != nil {
		return provider.Response{}, err
	}

	if text := joinText(textParts); text != "" {
		candidate.Message.Parts = append([]message.Part{message.TextPart(text)}, candidate.Message.Parts...)
	}
	candidate.Message.Role = message.RoleModel
	return provider.Response{Candidates: []provider.Candidate{candidate}, Usage: usage}, nil
}

func joinText(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

func (a *Adapter) GenerateContentStream(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk) error) error {
	params, err := a.buildParams(req)
	if err != nil {
		return err
	}

	state := &streamState{}
	streamEvents := a.streamMessages
	if a.streamer != nil {
		streamEvents = a.streamer.streamMessages
	}
	err = streamEvents(ctx, params, func(ev anthropic.MessageStreamEventUnion) error {
		return translateEvent(ev, state, onChunk)
	})
	if err != nil {
		return agenterr.Classify(err)
	}
	if state.inputTokens > 0 || state.outputTokens > 0 {
		if err := onChunk(provider.StreamChunk{Usage: &provider.Usage{
			PromptTokens:    state.inputTokens,
			CandidateTokens: state.outputTokens,
			TotalTokens:     state.inputTokens + state.outputTokens,
		}}); err != nil {
			return err
		}
	}
	return onChunk(provider.StreamChunk{Done: true})
}

// streamMessages is the production implementation of messageStreamer,
// wrapping the real SDK's streaming iterator.
func (a *Adapter) streamMessages(ctx context.Context, params anthropic.MessageNewParams, onEvent func(anthropic.MessageStreamEventUnion) error) error {
	stream := a.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		if err := onEvent(stream.Current()); err != nil {
			return err
		}
	}
	return stream.Err()
}

func (a *Adapter) buildParams(req provider.Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := a.maxTokens
	if req.Generation.MaxOutputTokens != nil {
		maxTokens = *req.Generation.MaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}
	if req.Generation.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Generation.Temperature)
	}
	if req.Generation.TopP != nil {
		params.TopP = anthropic.Float(*req.Generation.TopP)
	}
	if len(req.Generation.StopSequences) > 0 {
		params.StopSequences = req.Generation.StopSequences
	}

	messages, err := historyToMessages(req.History)
	if err != nil {
		return params, err
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		var tools []anthropic.ToolUnionParam
		for _, t := range req.Tools {
			s := anthropic.ToolInputSchemaParam{}
			if t.Parameters != nil {
				if props, ok := t.Parameters["properties"].(map[string]any); ok {
					s.Properties = props
				}
				if req, ok := t.Parameters["required"].([]any); ok {
					for _, r := range req {
						if rs, ok := r.(string); ok {
							s.Required = append(s.Required, rs)
						}
					}
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: s,
				},
			})
		}
		params.Tools = tools
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}

	return params, nil
}

// historyToMessages translates neutral history into Anthropic's
// user/assistant message params, folding FunctionCall/FunctionResponse
// parts into tool_use/tool_result blocks per the Messages API shape.
func historyToMessages(history []message.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range history {
		// The Turn Engine appends every tool result as a RoleUser message
		// carrying FunctionResponse parts (pkg/turn/engine.go), not
		// RoleTool — check part shape before role, or these responses
		// turn into an empty text block and the preceding tool_use block
		// goes unanswered (Messages API 400).
		if frs := m.FunctionResponses(); len(frs) > 0 {
			var blocks []anthropic.ContentBlockParamUnion
			for _, fr := range frs {
				content, _ := json.Marshal(fr.Response)
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, string(content), false))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
			continue
		}
		switch m.Role {
		case message.RoleUser, message.RoleSystem, message.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
		case message.RoleModel:
			var blocks []anthropic.ContentBlockParamUnion
			if text := m.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, fc := range m.FunctionCalls() {
				blocks = append(blocks, anthropic.NewToolUseBlock(fc.ID, fc.Args, fc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out, nil
}

// streamState tracks in-progress content-block state while translating a
// stream of Anthropic events, mirroring the teacher's streamState.
type streamState struct {
	currentBlockType string
	currentToolID    string
	currentToolName  string
	toolArgsJSON     string
	inputTokens      int
	outputTokens     int
}

func translateEvent(event anthropic.MessageStreamEventUnion, state *streamState, onChunk func(provider.StreamChunk) error) error {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		block := e.ContentBlock
		switch block.Type {
		case "text":
			state.currentBlockType = "text"
		case "tool_use":
			state.currentBlockType = "tool_use"
			toolBlock := block.AsToolUse()
			state.currentToolID = toolBlock.ID
			state.currentToolName = toolBlock.Name
			state.toolArgsJSON = ""
		default:
			state.currentBlockType = block.Type
		}

	case anthropic.ContentBlockDeltaEvent:
		delta := e.Delta
		switch delta.Type {
		case "text_delta":
			return onChunk(provider.StreamChunk{TextDelta: delta.AsTextDelta().Text})
		case "input_json_delta":
			state.toolArgsJSON += delta.AsInputJSONDelta().PartialJSON
		}

	case anthropic.ContentBlockStopEvent:
		blockType := state.currentBlockType
		state.currentBlockType = ""
		if blockType == "tool_use" {
			var args map[string]any
			_ = json.Unmarshal([]byte(state.toolArgsJSON), &args)
			fc := message.FunctionCall{ID: state.currentToolID, Name: state.currentToolName, Args: args}
			return onChunk(provider.StreamChunk{FunctionCall: &fc})
		}

	case anthropic.MessageStartEvent:
		if e.Message.Usage.InputTokens > 0 {
			state.inputTokens = int(e.Message.Usage.InputTokens)
		}

	case anthropic.MessageDeltaEvent:
		if e.Usage.OutputTokens > 0 {
			state.outputTokens = int(e.Usage.OutputTokens)
		}
	}
	return nil
}
