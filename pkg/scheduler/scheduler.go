// Package scheduler implements the Tool Scheduler (spec §4.4): per-call
// lifecycle, confirmation gating, cancellation, live output, and
// order-preserving batch completion. No direct teacher analogue —
// pkg/harness/toolloop.go executes tools synchronously with no
// confirmation/cancellation/lifecycle states — so this is built fresh in
// the teacher's concurrency idiom (context.Context cancellation,
// sync.WaitGroup fan-out, mutex-guarded "always approved" cache).
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"agentcore/pkg/message"
	"agentcore/pkg/tool"
)

// Status is a ToolCall's position in its per-call state machine.
type Status string

const (
	Validating       Status = "validating"
	AwaitingApproval Status = "awaiting_approval"
	Scheduled        Status = "scheduled"
	Executing        Status = "executing"
	Success          Status = "success"
	Error            Status = "error"
	Cancelled        Status = "cancelled"
)

// Request is one tool-call the model asked for, as surfaced by the Turn
// Engine from a FunctionCall part.
type Request struct {
	CallID string
	Name   string
	Args   map[string]any
}

// ToolCall is the scheduler's per-invocation state record (spec §3).
type ToolCall struct {
	CallID    string
	ToolName  string
	Args      map[string]any
	Status    Status
	Result    tool.Result
	Diagnostic string
	StartTime time.Time
	EndTime   time.Time
}

// ConfirmationHandler is invoked when a call needs user approval. It
// blocks until the user (or an auto-confirm policy) decides.
type ConfirmationHandler func(ctx context.Context, callID string, details tool.ConfirmationDetails) tool.ConfirmationOutcome

// OutputHandler receives live output chunks as a streaming-capable tool
// produces them.
type OutputHandler func(callID string, chunk string)

// Scheduler executes a batch of tool-call requests against a Registry,
// honoring confirmation and cancellation, and returns results in the
// batch's original submission order regardless of completion order.
type Scheduler struct {
	registry    *tool.Registry
	confirm     ConfirmationHandler
	output      OutputHandler
	autoConfirm bool

	mu            sync.Mutex
	alwaysApproved map[string]bool // keyed by tool name, or tool name + ":" + command root
}

// New constructs a Scheduler. confirm may be nil only if autoConfirm is
// true (spec §6.3's auto_confirm config key); a nil confirm with
// autoConfirm false means every confirmable call is cancelled.
func New(registry *tool.Registry, confirm ConfirmationHandler, output OutputHandler, autoConfirm bool) *Scheduler {
	return &Scheduler{
		registry:       registry,
		confirm:        confirm,
		output:         output,
		autoConfirm:    autoConfirm,
		alwaysApproved: map[string]bool{},
	}
}

// synthID mints a call id of the form "<name>-<unix-ms>-<hex>" when the
// model didn't supply one, per spec §9's resolved Open Question.
func synthID(name string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s-%s", name, strconv.FormatInt(time.Now().UnixMilli(), 10), hex.EncodeToString(buf))
}

// ScheduleAndWait runs every request in the batch to a terminal state and
// returns FunctionResponse parts in the same order as requests, regardless
// of completion order (spec §4.4's concurrency contract). It also returns
// the final []*ToolCall records (same order) for event emission.
func (s *Scheduler) ScheduleAndWait(ctx context.Context, requests []Request, abort <-chan struct{}) ([]message.Part, []*ToolCall) {
	calls := make([]*ToolCall, len(requests))
	for i, req := range requests {
		callID := req.CallID
		if callID == "" {
			callID = synthID(req.Name)
		}
		calls[i] = &ToolCall{CallID: callID, ToolName: req.Name, Args: req.Args, Status: Validating, StartTime: time.Now()}
	}

	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(call *ToolCall) {
			defer wg.Done()
			s.runOne(ctx, call, abort)
		}(calls[i])
	}
	wg.Wait()

	parts := make([]message.Part, len(calls))
	for i, call := range calls {
		parts[i] = message.FunctionResponsePart(call.CallID, call.ToolName, tool.WrapLLMContent(call.Result.LLMContent))
	}
	return parts, calls
}

func (s *Scheduler) runOne(ctx context.Context, call *ToolCall, abort <-chan struct{}) {
	if isCancelled(abort) {
		s.cancel(call)
		return
	}

	t, ok := s.registry.Get(call.ToolName)
	if !ok {
		s.fail(call, fmt.Sprintf("unknown tool %q", call.ToolName))
		return
	}
	if diag := t.Validate(call.Args); diag != "" {
		s.fail(call, diag)
		return
	}

	details, needsConfirm := t.ShouldConfirmExecute(ctx, call.Args)
	if needsConfirm && !s.isAlwaysApproved(call.ToolName, details) {
		call.Status = AwaitingApproval
		outcome := s.resolveConfirmation(ctx, call, details)
		switch outcome {
		case tool.Cancel:
			s.cancel(call)
			return
		case tool.ProceedAlways:
			s.markAlwaysApproved(call.ToolName, details)
		case tool.ProceedAlwaysForTool:
			s.markAlwaysApproved(call.ToolName, tool.ConfirmationDetails{})
		}
	}

	if isCancelled(abort) {
		s.cancel(call)
		return
	}

	call.Status = Scheduled
	call.Status = Executing
	var liveOutput func(string)
	if t.CanUpdateOutput() && s.output != nil {
		liveOutput = func(chunk string) { s.output(call.CallID, chunk) }
	}

	result := t.Execute(ctx, call.Args, liveOutput)
	call.EndTime = time.Now()
	call.Result = result
	if result.Success {
		call.Status = Success
	} else {
		call.Status = Error
		call.Diagnostic = result.Error
	}
}

func (s *Scheduler) resolveConfirmation(ctx context.Context, call *ToolCall, details tool.ConfirmationDetails) tool.ConfirmationOutcome {
	if s.autoConfirm {
		return tool.ProceedAlways
	}
	if s.confirm == nil {
		return tool.Cancel
	}
	return s.confirm(ctx, call.CallID, details)
}

func (s *Scheduler) fail(call *ToolCall, diagnostic string) {
	call.Status = Error
	call.Diagnostic = diagnostic
	call.EndTime = time.Now()
	call.Result = tool.Result{Success: false, Error: diagnostic, LLMContent: diagnostic}
}

func (s *Scheduler) cancel(call *ToolCall) {
	call.Status = Cancelled
	call.EndTime = time.Now()
	call.Result = tool.Result{
		Success:    false,
		Error:      "Operation cancelled by user",
		LLMContent: map[string]any{"error": "Operation cancelled by user"},
	}
}

func isCancelled(abort <-chan struct{}) bool {
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

func approvalKey(toolName string, details tool.ConfirmationDetails) string {
	if details.Kind == tool.ConfirmExec && details.CommandOrDiff != "" {
		root := details.CommandOrDiff
		for i, r := range root {
			if r == ' ' {
				root = root[:i]
				break
			}
		}
		return toolName + ":" + root
	}
	return toolName
}

func (s *Scheduler) isAlwaysApproved(toolName string, details tool.ConfirmationDetails) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alwaysApproved[toolName] || s.alwaysApproved[approvalKey(toolName, details)]
}

func (s *Scheduler) markAlwaysApproved(toolName string, details tool.ConfirmationDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if details.Kind == "" {
		s.alwaysApproved[toolName] = true
		return
	}
	s.alwaysApproved[approvalKey(toolName, details)] = true
}
