// Package turn implements the Turn Engine (spec §4.5): the event-driven
// state machine that drives one agentic turn — stream a model response,
// collect any function calls it emits, run them through the Tool
// Scheduler, feed results back, and repeat until the model stops calling
// tools. Grounded on the teacher's pkg/harness/{harness.go,toolloop.go,
// events.go} shape, generalized to spec §4.5's normative loop and state
// diagram.
package turn

import (
	"time"

	"agentcore/pkg/message"
	"agentcore/pkg/provider"
	"agentcore/pkg/retry"
	"agentcore/pkg/scheduler"
	"agentcore/pkg/tokens"
	"agentcore/pkg/tool"
)

// State is a Turn's position in the state machine of spec §4.5.
type State string

const (
	Pending                 State = "pending"
	Running                 State = "running"
	Streaming               State = "streaming"
	ToolExecution           State = "tool_execution"
	WaitingToolConfirmation State = "waiting_tool_confirmation"
	ProcessingToolResults   State = "processing_tool_results"
	Completed               State = "completed"
	Failed                  State = "failed"
	Cancelled               State = "cancelled"
)

// Context is the immutable per-turn context (spec §3 TurnContext).
type Context struct {
	PromptID          string
	UserMessage       message.Message
	Model             string
	Provider          provider.Provider
	ToolRegistry      *tool.Registry
	Tools             []provider.Tool
	SystemInstruction string
	Generation        provider.GenerationConfig

	// ConfirmationHandler, OutputHandler and AutoConfirm record the
	// handlers for this turn; the Engine does not read them, since tool
	// calls run through the Scheduler the Engine was built with.
	ConfirmationHandler scheduler.ConfirmationHandler
	OutputHandler        scheduler.OutputHandler
	AutoConfirm          bool

	PriorHistory []message.Message

	// TokenManager prepares (and compresses) history before each provider
	// call. Nil means history is sent unprepared and never compressed.
	TokenManager *tokens.Manager
	AutoCompress bool
	MaxOutputTokens int

	// RetryManager wraps every provider call. Nil means calls are made
	// directly with no retry.
	RetryManager *retry.Manager

	// MaxIterations bounds the number of stream→execute→continue rounds
	// within this turn (protects against a model that never stops calling
	// tools). 0 means the Engine's own default (spec names no fixed
	// number; this is a defensive bound, not a spec'd budget).
	MaxIterations int

	// LoopDetectionThreshold is the number of consecutive identical
	// (name, args) tool-call batches that trigger a LoopDetected event
	// instead of continuing indefinitely. 0 disables loop detection.
	LoopDetectionThreshold int
}

// Turn is the mutable record of one agentic turn in progress (spec §3).
type Turn struct {
	ID             string
	Context        Context
	State          State
	History        []message.Message
	PendingCalls   []*scheduler.ToolCall
	DebugResponses []provider.Response
	StartTime      time.Time
	EndTime        time.Time
}
