package turn

import (
	"agentcore/pkg/agenterr"
	"agentcore/pkg/message"
	"agentcore/pkg/tokens"
)

// Kind identifies the tagged union a Turn Engine Event carries (spec
// §4.5's `Event` union).
type Kind string

const (
	KindContent              Kind = "content"
	KindToolCallRequest      Kind = "tool_call_request"
	KindToolCallResponse     Kind = "tool_call_response"
	KindToolCallConfirmation Kind = "tool_call_confirmation"
	KindThought              Kind = "thought"
	KindChatCompressed       Kind = "chat_compressed"
	KindError                Kind = "error"
	KindFinished             Kind = "finished"
	KindUserCancelled        Kind = "user_cancelled"
	KindMaxSessionTurns      Kind = "max_session_turns"
	KindLoopDetected         Kind = "loop_detected"
)

// ToolCallRequestInfo describes one tool-call request surfaced from a
// FunctionCall part, carrying its original id unchanged (spec §3
// ToolCall).
type ToolCallRequestInfo struct {
	CallID   string
	Name     string
	Args     map[string]any
	PromptID string
}

// ToolCallResponseInfo describes one completed tool call's outcome, as
// surfaced to the event stream alongside its FunctionResponse part.
type ToolCallResponseInfo struct {
	CallID   string
	ToolName string
	Success  bool
	Error    string
	Part     message.Part
}

// ThoughtInfo carries a parsed reasoning/thinking summary, split on a
// leading **Subject** header per spec §4.5's normative loop ("parse
// **Subject** header; emit Thought").
type ThoughtInfo struct {
	Subject string
	Text    string
}

// FinishedMeta is attached to the terminal Finished event of a successful
// turn.
type FinishedMeta struct {
	TurnID   string
	Duration int64 // nanoseconds
}

// CancelledMeta is attached to the terminal UserCancelled event.
type CancelledMeta struct {
	Reason string
}

// MaxTurnsMeta is attached when a session-level turn budget is hit (spec
// §4.6's maxSessionTurns); emitted by the Orchestrator, not the Engine
// itself, since only the session knows the running turn count.
type MaxTurnsMeta struct {
	Limit int
}

// LoopMeta is attached when the Engine detects the same tool-call batch
// repeated for Context.LoopDetectionThreshold consecutive rounds.
type LoopMeta struct {
	ToolName      string
	Repetitions   int
}

// Event is one item on a Turn's output sequence (spec §4.5). Exactly one
// of the typed fields is populated, selected by Kind.
type Event struct {
	Kind Kind

	Content          string
	ToolCallRequest  *ToolCallRequestInfo
	ToolCallResponse *ToolCallResponseInfo
	Confirmation     *ConfirmationInfo
	Thought          *ThoughtInfo
	Compression      *tokens.PrepareResult
	Err              *agenterr.Error
	Finished         *FinishedMeta
	Cancelled        *CancelledMeta
	MaxTurns         *MaxTurnsMeta
	Loop             *LoopMeta
}

// ConfirmationInfo carries the details surfaced when a tool call needs
// user approval, mirrored from tool.ConfirmationDetails so the event
// stream doesn't need to import the scheduler's confirmation plumbing
// directly.
type ConfirmationInfo struct {
	CallID      string
	Kind        string
	Title       string
	Description string
}
