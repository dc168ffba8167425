package turn

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agentcore/pkg/agenterr"
	"agentcore/pkg/message"
	"agentcore/pkg/provider"
	"agentcore/pkg/scheduler"
)

const defaultMaxIterations = 50

// errAborted is returned internally by the streaming callback to unwind
// out of a provider call the instant the abort signal fires, per spec §5
// ("the current streaming read to stop at the next chunk boundary").
var errAborted = errors.New("turn: aborted")

// Engine runs the agentic loop of spec §4.5 against one Scheduler shared
// across every turn it drives (the Scheduler owns the "always approved"
// cache, which is meant to persist process-wide, not per-turn).
type Engine struct {
	Scheduler *scheduler.Scheduler
}

// NewEngine constructs an Engine bound to sched.
func NewEngine(sched *scheduler.Scheduler) *Engine {
	return &Engine{Scheduler: sched}
}

// Run drives one Turn to completion, invoking onEvent for every Event on
// the turn's output sequence (spec §4.5's `run(...) → lazy sequence of
// Event`, expressed as a synchronous callback since Go has no native lazy
// generator). onEvent returning an error aborts the turn early, which Run
// surfaces as its own return value.
func (e *Engine) Run(ctx context.Context, tc Context, abort <-chan struct{}, onEvent func(Event) error) (*Turn, error) {
	t := &Turn{
		ID:        newTurnID(),
		Context:   tc,
		State:     Pending,
		History:   append(append([]message.Message{}, tc.PriorHistory...), tc.UserMessage),
		StartTime: time.Now(),
	}
	t.State = Running

	maxIter := tc.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	currentModel := tc.Model
	var lastSignature string
	repeats := 0

	for iteration := 0; iteration < maxIter; iteration++ {
		if aborted(abort) {
			return t, e.finishCancelled(t, onEvent, nil, nil)
		}

		prepared := t.History
		if tc.TokenManager != nil {
			result, err := tc.TokenManager.Prepare(t.History, currentModel, tc.MaxOutputTokens, tc.AutoCompress)
			if err != nil {
				return t, e.finishFailed(t, onEvent, err)
			}
			prepared = result.Messages
			if result.CompressionPerformed {
				if err := onEvent(Event{Kind: KindChatCompressed, Compression: &result}); err != nil {
					return t, err
				}
			}
		}

		req := provider.Request{
			Model:             currentModel,
			SystemInstruction: tc.SystemInstruction,
			History:           prepared,
			Tools:             tc.Tools,
			Generation:        tc.Generation,
		}

		t.State = Streaming
		modelParts, toolCalls, streamErr := e.generate(ctx, tc, &req, currentModel, abort, onEvent, t)

		if errors.Is(streamErr, errAborted) {
			return t, e.finishCancelled(t, onEvent, modelParts, toolCalls)
		}
		if streamErr != nil {
			return t, e.finishFailed(t, onEvent, streamErr)
		}

		if len(modelParts) > 0 {
			t.History = append(t.History, message.Message{Role: message.RoleModel, Parts: modelParts})
		}

		if len(toolCalls) == 0 {
			return t, e.finishCompleted(t, onEvent)
		}

		if tc.LoopDetectionThreshold > 0 {
			sig := signature(toolCalls)
			if sig == lastSignature {
				repeats++
			} else {
				repeats = 0
				lastSignature = sig
			}
			if repeats+1 >= tc.LoopDetectionThreshold {
				t.State = Failed
				t.EndTime = time.Now()
				return t, onEvent(Event{Kind: KindLoopDetected, Loop: &LoopMeta{ToolName: toolCalls[0].Name, Repetitions: repeats + 1}})
			}
		}

		t.State = ToolExecution
		resultParts, calls := e.Scheduler.ScheduleAndWait(ctx, toolCalls, abort)
		t.PendingCalls = calls
		t.State = ProcessingToolResults

		for i, part := range resultParts {
			call := calls[i]
			if err := onEvent(Event{Kind: KindToolCallResponse, ToolCallResponse: &ToolCallResponseInfo{
				CallID:   call.CallID,
				ToolName: call.ToolName,
				Success:  call.Status == scheduler.Success,
				Error:    call.Diagnostic,
				Part:     part,
			}}); err != nil {
				return t, err
			}
		}
		t.History = append(t.History, message.Message{Role: message.RoleUser, Parts: resultParts})

		if aborted(abort) {
			t.State = Cancelled
			t.EndTime = time.Now()
			return t, onEvent(Event{Kind: KindUserCancelled, Cancelled: &CancelledMeta{Reason: "cancelled during tool execution"}})
		}
	}

	t.State = Failed
	t.EndTime = time.Now()
	return t, onEvent(Event{Kind: KindLoopDetected, Loop: &LoopMeta{ToolName: "", Repetitions: maxIter}})
}

// generate performs one provider round-trip — streaming when supported,
// non-streaming otherwise (spec §4.1.3) — wrapped by the Retry Engine when
// one is configured. It returns the model's own parts (text and function
// calls, in emission order, destined for the conversation history) and
// every tool call the model requested this round, in submission order.
func (e *Engine) generate(ctx context.Context, tc Context, req *provider.Request, initialModel string, abort <-chan struct{}, onEvent func(Event) error, t *Turn) ([]message.Part, []scheduler.Request, error) {
	var modelParts []message.Part
	var toolCalls []scheduler.Request

	call := func(ctx context.Context, model string) error {
		modelParts = nil
		toolCalls = nil
		req.Model = model

		if tc.Provider.SupportsStreaming(len(tc.Tools) > 0) {
			return tc.Provider.GenerateContentStream(ctx, *req, func(chunk provider.StreamChunk) error {
				if aborted(abort) {
					return errAborted
				}
				return e.handleChunk(chunk, tc, onEvent, &modelParts, &toolCalls)
			})
		}

		resp, err := tc.Provider.GenerateContent(ctx, *req)
		if err != nil {
			return err
		}
		t.DebugResponses = append(t.DebugResponses, resp)
		if text := resp.Text(); text != "" {
			modelParts = append(modelParts, message.TextPart(text))
			if err := onEvent(Event{Kind: KindContent, Content: text}); err != nil {
				return err
			}
		}
		for _, fc := range resp.FunctionCalls() {
			id := fc.ID
			if id == "" {
				id = synthCallID(fc.Name)
			}
			modelParts = append(modelParts, message.FunctionCallPart(id, fc.Name, fc.Args))
			toolCalls = append(toolCalls, scheduler.Request{CallID: id, Name: fc.Name, Args: fc.Args})
			if err := onEvent(Event{Kind: KindToolCallRequest, ToolCallRequest: &ToolCallRequestInfo{
				CallID: id, Name: fc.Name, Args: fc.Args, PromptID: tc.PromptID,
			}}); err != nil {
				return err
			}
		}
		return nil
	}

	if tc.RetryManager != nil {
		_, err := tc.RetryManager.Do(ctx, initialModel, call)
		return modelParts, toolCalls, err
	}
	return modelParts, toolCalls, call(ctx, initialModel)
}

func (e *Engine) handleChunk(chunk provider.StreamChunk, tc Context, onEvent func(Event) error, modelParts *[]message.Part, toolCalls *[]scheduler.Request) error {
	if chunk.TextDelta != "" {
		*modelParts = append(*modelParts, message.TextPart(chunk.TextDelta))
		if err := onEvent(Event{Kind: KindContent, Content: chunk.TextDelta}); err != nil {
			return err
		}
	}
	if chunk.ThoughtDelta != "" {
		if err := onEvent(Event{Kind: KindThought, Thought: parseThought(chunk.ThoughtDelta)}); err != nil {
			return err
		}
	}
	if chunk.FunctionCall != nil {
		fc := *chunk.FunctionCall
		id := fc.ID
		if id == "" {
			id = synthCallID(fc.Name)
		}
		*modelParts = append(*modelParts, message.FunctionCallPart(id, fc.Name, fc.Args))
		*toolCalls = append(*toolCalls, scheduler.Request{CallID: id, Name: fc.Name, Args: fc.Args})
		if err := onEvent(Event{Kind: KindToolCallRequest, ToolCallRequest: &ToolCallRequestInfo{
			CallID: id, Name: fc.Name, Args: fc.Args, PromptID: tc.PromptID,
		}}); err != nil {
			return err
		}
	}
	return nil
}

// parseThought splits a raw thought string on a leading "**Subject**"
// header, per spec §4.5's normative loop.
func parseThought(raw string) *ThoughtInfo {
	if strings.HasPrefix(raw, "**") {
		if end := strings.Index(raw[2:], "**"); end >= 0 {
			subject := raw[2 : 2+end]
			rest := strings.TrimSpace(raw[2+end+2:])
			return &ThoughtInfo{Subject: subject, Text: rest}
		}
	}
	return &ThoughtInfo{Text: raw}
}

// finishCompleted transitions t to Completed and emits the terminal
// Finished event.
func (e *Engine) finishCompleted(t *Turn, onEvent func(Event) error) error {
	t.State = Completed
	t.EndTime = time.Now()
	return onEvent(Event{Kind: KindFinished, Finished: &FinishedMeta{TurnID: t.ID, Duration: int64(t.EndTime.Sub(t.StartTime))}})
}

// finishFailed transitions t to Failed, retaining history accumulated so
// far (spec §4.5's failure policy), and emits the terminal Error event.
func (e *Engine) finishFailed(t *Turn, onEvent func(Event) error, cause error) error {
	t.State = Failed
	t.EndTime = time.Now()
	return onEvent(Event{Kind: KindError, Err: agenterr.Classify(cause)})
}

// finishCancelled transitions t to Cancelled. Whatever the model had
// already streamed (text and/or function calls) this round is recorded
// first, then any tool calls collected but not yet scheduled (because
// cancellation fired mid-stream) are given synthetic cancelled
// FunctionResponse parts so the history invariant of spec §3 holds even
// though the Scheduler never ran them (spec §5: "Setting it causes... all
// scheduled ToolCalls to transition to Cancelled, producing synthetic
// error responses so the history stays well-formed").
func (e *Engine) finishCancelled(t *Turn, onEvent func(Event) error, modelParts []message.Part, pending []scheduler.Request) error {
	if len(modelParts) > 0 {
		t.History = append(t.History, message.Message{Role: message.RoleModel, Parts: modelParts})
	}

	if len(pending) > 0 {
		resultParts := make([]message.Part, len(pending))
		for i, c := range pending {
			resultParts[i] = message.FunctionResponsePart(c.CallID, c.Name, map[string]any{"error": "Operation cancelled by user"})
			if err := onEvent(Event{Kind: KindToolCallResponse, ToolCallResponse: &ToolCallResponseInfo{
				CallID: c.CallID, ToolName: c.Name, Success: false, Error: "Operation cancelled by user", Part: resultParts[i],
			}}); err != nil {
				t.State = Cancelled
				t.EndTime = time.Now()
				return err
			}
		}
		t.History = append(t.History, message.Message{Role: message.RoleUser, Parts: resultParts})
	}

	t.State = Cancelled
	t.EndTime = time.Now()
	return onEvent(Event{Kind: KindUserCancelled, Cancelled: &CancelledMeta{Reason: "cancelled"}})
}

func aborted(abort <-chan struct{}) bool {
	if abort == nil {
		return false
	}
	select {
	case <-abort:
		return true
	default:
		return false
	}
}

// synthCallID mints a call id of the form "<name>-<unix-ms>-<hex>" at the
// neutral-response boundary, for providers whose wire format omits an id
// on function-call chunks (spec §4.1.1, §9's resolved Open Question).
func synthCallID(name string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s-%s", name, strconv.FormatInt(time.Now().UnixMilli(), 10), hex.EncodeToString(buf))
}

func newTurnID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "turn-" + hex.EncodeToString(buf)
}

// signature builds a stable key for a batch of tool-call requests, used
// only for loop detection (identical name+args batch repeating).
func signature(calls []scheduler.Request) string {
	var b strings.Builder
	for _, c := range calls {
		b.WriteString(c.Name)
		b.WriteByte(':')
		args, _ := json.Marshal(c.Args)
		b.Write(args)
		b.WriteByte('|')
	}
	return b.String()
}
