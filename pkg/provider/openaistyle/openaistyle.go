// Package openaistyle implements the Provider adapter for OpenAI-compatible
// chat-completions backends (spec §4.1.2): Moonshot/Kimi, and any other
// vendor exposing the same wire shape. Grounded on godex
// pkg/backend/openapi/client.go's request/response translation and SSE
// tool-call-fragment accumulation, generalized from Codex-Responses
// translation to the neutral message.Message/provider.Request model.
package openaistyle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"agentcore/pkg/agenterr"
	"agentcore/pkg/message"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/schema"
	"agentcore/pkg/sse"
)

const defaultTimeout = 120 * time.Second

// ModelMap translates the neutral model names the Turn Engine/config use
// (spec §6.2's `kimi-*` family plus any caller-supplied alias) into the
// identifier this backend's API expects. A nil or missing entry passes the
// requested name through unchanged.
type ModelMap map[string]string

// Config configures one OpenAI-style backend instance: one Adapter per
// vendor (Moonshot, or any other compatible endpoint), matching how the
// teacher's openapi.Client is one instance per configured backend rather
// than a single client branching on vendor.
type Config struct {
	Name    string
	BaseURL string // e.g. "https://api.moonshot.cn/v1"
	APIKey  string
	Models  ModelMap
	Timeout time.Duration

	// ExtraHeaders is set on every request after Content-Type/Authorization
	// (spec §6.2: OpenRouter additionally requires HTTP-Referer/X-Title;
	// other OpenAI-compatible vendors may have their own such requirements).
	ExtraHeaders map[string]string
}

// Adapter implements provider.Provider for one OpenAI-compatible backend.
type Adapter struct {
	httpClient *http.Client
	cfg        Config
}

// New constructs an Adapter. BaseURL and APIKey are required; Timeout
// defaults to 120s matching the teacher's openapi.Client default.
func New(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, agenterr.Configuration("base_url is required", "base_url")
	}
	if cfg.APIKey == "" {
		return nil, agenterr.Configuration("api_key is required", "api_key")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{httpClient: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}, nil
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) ContextLimit(model string) int {
	switch {
	case strings.Contains(model, "128k"):
		return 128000
	case strings.Contains(model, "32k"):
		return 32000
	default:
		return 8000
	}
}

// SupportsStreaming reports false whenever tools are present (spec
// §4.1.3's documented fallback): tool-call argument fragments are not
// reliable to stream incrementally across every OpenAI-compatible vendor,
// so GenerateContentStream falls back internally to one non-streaming call.
func (a *Adapter) SupportsStreaming(hasTools bool) bool { return !hasTools }

func (a *Adapter) CountTokens(ctx context.Context, req provider.Request) (int, error) {
	// No token-counting endpoint on this wire format; callers fall back to
	// the shared tokens.Counter estimator (spec §4.1.2).
	return 0, agenterr.Generic("CountTokens not supported by openaistyle adapter")
}

func (a *Adapter) resolveModel(model string) string {
	if a.cfg.Models == nil {
		return model
	}
	if mapped, ok := a.cfg.Models[model]; ok {
		return mapped
	}
	return model
}

func (a *Adapter) GenerateContent(ctx context.Context, req provider.Request) (provider.Response, error) {
	chatReq := a.buildChatRequest(req, false)
	return a.doNonStreaming(ctx, chatReq)
}

func (a *Adapter) GenerateContentStream(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk) error) error {
	if !a.SupportsStreaming(len(req.Tools) > 0) {
		resp, err := a.GenerateContent(ctx, req)
		if err != nil {
			return err
		}
		if err := deliverAsChunks(resp, onChunk); err != nil {
			return err
		}
		return onChunk(provider.StreamChunk{Done: true})
	}
	return a.doStreaming(ctx, req, onChunk)
}

// deliverAsChunks turns one complete Response into the chunk sequence a
// streaming caller expects, for the tools-present non-streaming fallback.
func deliverAsChunks(resp provider.Response, onChunk func(provider.StreamChunk) error) error {
	if len(resp.Candidates) == 0 {
		return nil
	}
	for _, part := range resp.Candidates[0].Message.Parts {
		switch {
		case part.Text != nil:
			if err := onChunk(provider.StreamChunk{TextDelta: *part.Text}); err != nil {
				return err
			}
		case part.FunctionCall != nil:
			fc := *part.FunctionCall
			if err := onChunk(provider.StreamChunk{FunctionCall: &fc}); err != nil {
				return err
			}
		}
	}
	if resp.Usage != nil {
		return onChunk(provider.StreamChunk{Usage: resp.Usage})
	}
	return nil
}

// --- wire types (OpenAI Chat Completions shape) ---

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// buildChatRequest translates a neutral Request into the chat-completions
// wire JSON, using sjson to assemble the payload field-by-field rather than
// a single struct literal: tool schemas and per-vendor extras are patched
// onto the base document without a full round-trip unmarshal, matching how
// the teacher favors raw-JSON manipulation for semi-structured payloads on
// this wire format.
func (a *Adapter) buildChatRequest(req provider.Request, stream bool) []byte {
	doc := `{}`
	doc, _ = sjson.Set(doc, "model", a.resolveModel(req.Model))
	doc, _ = sjson.Set(doc, "stream", stream)

	if req.Generation.Temperature != nil {
		doc, _ = sjson.Set(doc, "temperature", *req.Generation.Temperature)
	}
	if req.Generation.TopP != nil {
		doc, _ = sjson.Set(doc, "top_p", *req.Generation.TopP)
	}
	if req.Generation.MaxOutputTokens != nil {
		doc, _ = sjson.Set(doc, "max_tokens", *req.Generation.MaxOutputTokens)
	}
	if len(req.Generation.StopSequences) > 0 {
		doc, _ = sjson.Set(doc, "stop", req.Generation.StopSequences)
	}

	messages := chatMessagesFromHistory(req.SystemInstruction, req.History)
	doc, _ = sjson.SetRaw(doc, "messages", mustMarshal(messages))

	if len(req.Tools) > 0 {
		doc, _ = sjson.SetRaw(doc, "tools", mustMarshal(chatToolsFromProvider(req.Tools)))
	}

	return []byte(doc)
}

func mustMarshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func chatToolsFromProvider(tools []provider.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schema.CleanForOpenAI(t.Parameters),
			},
		})
	}
	return out
}

func chatMessagesFromHistory(systemInstruction string, history []message.Message) []chatMessage {
	var out []chatMessage
	if systemInstruction != "" {
		out = append(out, chatMessage{Role: "system", Content: systemInstruction})
	}
	for _, m := range history {
		out = append(out, messageToChat(m)...)
	}
	return out
}

func messageToChat(m message.Message) []chatMessage {
	// The Turn Engine appends every tool result as a RoleUser message
	// carrying FunctionResponse parts (pkg/turn/engine.go), not RoleTool —
	// detect by part shape rather than by role, or these responses
	// silently vanish and the preceding tool_calls message goes unanswered.
	if frs := m.FunctionResponses(); len(frs) > 0 {
		var out []chatMessage
		for _, fr := range frs {
			out = append(out, chatMessage{Role: "tool", ToolCallID: fr.ID, Content: responseToContent(fr.Response)})
		}
		return out
	}

	role := chatRole(m.Role)
	msg := chatMessage{Role: role, Content: m.Text()}
	for _, fc := range m.FunctionCalls() {
		argsJSON, _ := json.Marshal(fc.Args)
		msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
			ID:   fc.ID,
			Type: "function",
			Function: chatFunctionCall{
				Name:      fc.Name,
				Arguments: string(argsJSON),
			},
		})
	}
	return []chatMessage{msg}
}

func responseToContent(response map[string]any) string {
	if output, ok := response["output"].(string); ok {
		return output
	}
	if resp, ok := response["response"].(map[string]any); ok {
		if output, ok := resp["output"].(string); ok {
			return output
		}
	}
	b, _ := json.Marshal(response)
	return string(b)
}

func chatRole(r message.Role) string {
	switch r {
	case message.RoleModel:
		return "assistant"
	case message.RoleTool:
		return "tool"
	case message.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

func (a *Adapter) doNonStreaming(ctx context.Context, payload []byte) (provider.Response, error) {
	resp, err := a.post(ctx, payload)
	if err != nil {
		return provider.Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Response{}, agenterr.Network("failed reading response body", agenterr.WithCause(err))
	}
	if resp.StatusCode != http.StatusOK {
		return provider.Response{}, classifyHTTPError(resp.StatusCode, body)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return provider.Response{}, agenterr.Generic("failed decoding chat completion response", agenterr.WithCause(err))
	}
	return chatResponseToNeutral(chat), nil
}

func (a *Adapter) post(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, agenterr.Generic("failed building request", agenterr.WithCause(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	key := a.cfg.APIKey
	if override, ok := provider.APIKeyOverride(ctx); ok {
		key = override
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, agenterr.Network(err.Error(), agenterr.WithCause(err))
	}
	return resp, nil
}

// classifyHTTPError extracts a vendor error message from a non-200 body
// using gjson, tolerating the handful of differently-shaped error envelopes
// OpenAI-compatible vendors return without needing a struct per vendor.
func classifyHTTPError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "message").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}

	switch status {
	case http.StatusUnauthorized:
		return agenterr.Authentication(msg, agenterr.WithStatus(status))
	case http.StatusForbidden:
		return agenterr.Authorization(msg, agenterr.WithStatus(status))
	case http.StatusTooManyRequests:
		retryAfter := 0
		if code := gjson.GetBytes(body, "error.retry_after").Int(); code > 0 {
			retryAfter = int(code)
		}
		return agenterr.QuotaExceeded(msg, retryAfter, agenterr.WithStatus(status))
	case http.StatusNotFound:
		return agenterr.ModelUnavailable(msg, "", agenterr.WithStatus(status))
	case http.StatusBadRequest:
		return agenterr.InvalidRequest(msg, agenterr.WithStatus(status))
	}
	if status >= 500 {
		return agenterr.Server(msg, status)
	}
	return agenterr.Generic(msg, agenterr.WithStatus(status))
}

func chatResponseToNeutral(chat chatResponse) provider.Response {
	out := provider.Response{}
	if chat.Usage != nil {
		out.Usage = &provider.Usage{
			PromptTokens:    chat.Usage.PromptTokens,
			CandidateTokens: chat.Usage.CompletionTokens,
			TotalTokens:     chat.Usage.TotalTokens,
		}
	}
	for _, choice := range chat.Choices {
		out.Candidates = append(out.Candidates, provider.Candidate{
			Message:      chatMessageToNeutral(choice.Message),
			FinishReason: choice.FinishReason,
		})
	}
	return out
}

func chatMessageToNeutral(m chatMessage) message.Message {
	var parts []message.Part
	if m.Content != "" {
		parts = append(parts, message.TextPart(m.Content))
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		parts = append(parts, message.FunctionCallPart(tc.ID, tc.Function.Name, args))
	}
	return message.Message{Role: message.RoleModel, Parts: parts}
}

// --- streaming path (fragment accumulation; reached only when the caller
// forces streaming with no tools present, per SupportsStreaming) ---

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content,omitempty"`
			ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

type toolCallFragment struct {
	id   string
	name string
	args strings.Builder
}

func (a *Adapter) doStreaming(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk) error) error {
	payload := a.buildChatRequest(req, true)
	resp, err := a.post(ctx, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
		return classifyHTTPError(resp.StatusCode, body)
	}

	fragments := map[int]*toolCallFragment{}
	var order []int

	err = sse.ParseStream(resp.Body, func(ev sse.Event) error {
		var chunk chatChunk
		if !sse.DecodeJSON(ev, &chunk) {
			return nil
		}
		if len(chunk.Choices) == 0 {
			if chunk.Usage != nil {
				return onChunk(provider.StreamChunk{Usage: &provider.Usage{
					PromptTokens:    chunk.Usage.PromptTokens,
					CandidateTokens: chunk.Usage.CompletionTokens,
					TotalTokens:     chunk.Usage.TotalTokens,
				}})
			}
			return nil
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := onChunk(provider.StreamChunk{TextDelta: choice.Delta.Content}); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			frag, ok := fragments[tc.Index]
			if !ok {
				frag = &toolCallFragment{id: tc.ID, name: tc.Function.Name}
				fragments[tc.Index] = frag
				order = append(order, tc.Index)
			}
			if tc.Function.Arguments != "" {
				frag.args.WriteString(tc.Function.Arguments)
			}
		}

		if choice.FinishReason != nil {
			for _, idx := range order {
				frag := fragments[idx]
				var args map[string]any
				_ = json.Unmarshal([]byte(frag.args.String()), &args)
				fc := message.FunctionCall{ID: frag.id, Name: frag.name, Args: args}
				if err := onChunk(provider.StreamChunk{FunctionCall: &fc}); err != nil {
					return err
				}
			}
			if chunk.Usage != nil {
				if err := onChunk(provider.StreamChunk{Usage: &provider.Usage{
					PromptTokens:    chunk.Usage.PromptTokens,
					CandidateTokens: chunk.Usage.CompletionTokens,
					TotalTokens:     chunk.Usage.TotalTokens,
				}}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return onChunk(provider.StreamChunk{Done: true})
}
