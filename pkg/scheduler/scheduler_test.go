package scheduler

import (
	"context"
	"sync"
	"testing"

	"agentcore/pkg/tool"
)

type fakeTool struct {
	name         string
	needsConfirm bool
	confirmKind  tool.ConfirmationKind
	commandRoot  string
	fail         bool
	delayOrder   chan struct{} // closed to let Execute proceed, for ordering tests
	streams      bool
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) DisplayName() string    { return f.name }
func (f *fakeTool) Description() string    { return "" }
func (f *fakeTool) Icon() string           { return "" }
func (f *fakeTool) Schema() map[string]any { return nil }
func (f *fakeTool) IsOutputMarkdown() bool { return false }
func (f *fakeTool) CanUpdateOutput() bool  { return f.streams }
func (f *fakeTool) IsReadOnly() bool       { return true }
func (f *fakeTool) Validate(params map[string]any) string { return "" }
func (f *fakeTool) Describe(params map[string]any) string { return f.name }
func (f *fakeTool) Locations(params map[string]any) []tool.Location { return nil }
func (f *fakeTool) ShouldConfirmExecute(ctx context.Context, params map[string]any) (tool.ConfirmationDetails, bool) {
	if !f.needsConfirm {
		return tool.ConfirmationDetails{}, false
	}
	return tool.ConfirmationDetails{Kind: f.confirmKind, CommandOrDiff: f.commandRoot, Title: "confirm " + f.name}, true
}
func (f *fakeTool) Execute(ctx context.Context, params map[string]any, liveOutput func(string)) tool.Result {
	if f.delayOrder != nil {
		<-f.delayOrder
	}
	if liveOutput != nil {
		liveOutput("chunk")
	}
	if f.fail {
		return tool.Result{Success: false, Error: "boom", LLMContent: "boom"}
	}
	return tool.Result{Success: true, LLMContent: "ok:" + f.name}
}

func TestScheduleAndWaitSingleSuccess(t *testing.T) {
	reg := tool.NewRegistry(&fakeTool{name: "read_file"})
	sched := New(reg, nil, nil, false)
	parts, calls := sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c1", Name: "read_file"}}, nil)
	if len(parts) != 1 || calls[0].Status != Success {
		t.Fatalf("expected success, got %+v", calls[0])
	}
	if parts[0].FunctionResponse.ID != "c1" {
		t.Fatalf("expected matching call id, got %s", parts[0].FunctionResponse.ID)
	}
}

func TestScheduleAndWaitUnknownTool(t *testing.T) {
	reg := tool.NewRegistry()
	sched := New(reg, nil, nil, false)
	_, calls := sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c1", Name: "nope"}}, nil)
	if calls[0].Status != Error {
		t.Fatalf("expected Error status for unknown tool, got %s", calls[0].Status)
	}
}

func TestScheduleAndWaitPreservesSubmissionOrderDespiteReverseCompletion(t *testing.T) {
	gate1 := make(chan struct{})
	t1 := &fakeTool{name: "read_file", delayOrder: gate1}
	t2 := &fakeTool{name: "read_file2"}
	reg := tool.NewRegistry(t1, t2)
	sched := New(reg, nil, nil, false)

	done := make(chan struct{})
	var gotParts []string
	go func() {
		p, _ := sched.ScheduleAndWait(context.Background(), []Request{
			{CallID: "c1", Name: "read_file"},
			{CallID: "c2", Name: "read_file2"},
		}, nil)
		for _, part := range p {
			gotParts = append(gotParts, part.FunctionResponse.ID)
		}
		close(done)
	}()
	// c2 completes first since c1 is gated; then release c1.
	close(gate1)
	<-done
	if len(gotParts) != 2 || gotParts[0] != "c1" || gotParts[1] != "c2" {
		t.Fatalf("expected order [c1 c2], got %v", gotParts)
	}
}

func TestScheduleAndWaitConfirmationCancel(t *testing.T) {
	ft := &fakeTool{name: "shell", needsConfirm: true, confirmKind: tool.ConfirmExec, commandRoot: "rm -rf /"}
	reg := tool.NewRegistry(ft)
	confirm := func(ctx context.Context, callID string, details tool.ConfirmationDetails) tool.ConfirmationOutcome {
		return tool.Cancel
	}
	sched := New(reg, confirm, nil, false)
	_, calls := sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c1", Name: "shell"}}, nil)
	if calls[0].Status != Cancelled {
		t.Fatalf("expected Cancelled, got %s", calls[0].Status)
	}
	if calls[0].Result.Error != "Operation cancelled by user" {
		t.Fatalf("expected synthetic cancellation error, got %v", calls[0].Result)
	}
}

func TestScheduleAndWaitProceedAlwaysCachesApproval(t *testing.T) {
	ft := &fakeTool{name: "shell", needsConfirm: true, confirmKind: tool.ConfirmExec, commandRoot: "ls"}
	reg := tool.NewRegistry(ft)
	var calls int
	var mu sync.Mutex
	confirm := func(ctx context.Context, callID string, details tool.ConfirmationDetails) tool.ConfirmationOutcome {
		mu.Lock()
		calls++
		mu.Unlock()
		return tool.ProceedAlways
	}
	sched := New(reg, confirm, nil, false)
	sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c1", Name: "shell"}}, nil)
	sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c2", Name: "shell"}}, nil)
	if calls != 1 {
		t.Fatalf("expected confirmation handler invoked once, got %d", calls)
	}
}

func TestScheduleAndWaitAutoConfirm(t *testing.T) {
	ft := &fakeTool{name: "shell", needsConfirm: true}
	reg := tool.NewRegistry(ft)
	sched := New(reg, nil, nil, true)
	_, calls := sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c1", Name: "shell"}}, nil)
	if calls[0].Status != Success {
		t.Fatalf("expected auto-confirm to proceed, got %s", calls[0].Status)
	}
}

func TestScheduleAndWaitAbortCancelsAll(t *testing.T) {
	reg := tool.NewRegistry(&fakeTool{name: "a"}, &fakeTool{name: "b"})
	sched := New(reg, nil, nil, false)
	abort := make(chan struct{})
	close(abort)
	_, calls := sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c1", Name: "a"}, {CallID: "c2", Name: "b"}}, abort)
	for _, c := range calls {
		if c.Status != Cancelled {
			t.Fatalf("expected all cancelled, got %s for %s", c.Status, c.CallID)
		}
	}
}

func TestScheduleAndWaitSynthesizesCallIDWhenAbsent(t *testing.T) {
	reg := tool.NewRegistry(&fakeTool{name: "a"})
	sched := New(reg, nil, nil, false)
	_, calls := sched.ScheduleAndWait(context.Background(), []Request{{Name: "a"}}, nil)
	if calls[0].CallID == "" {
		t.Fatal("expected synthesized call id")
	}
}

func TestScheduleAndWaitLiveOutput(t *testing.T) {
	ft := &fakeTool{name: "stream", streams: true}
	reg := tool.NewRegistry(ft)
	var gotCallID, gotChunk string
	output := func(callID, chunk string) {
		gotCallID = callID
		gotChunk = chunk
	}
	sched := New(reg, nil, output, false)
	sched.ScheduleAndWait(context.Background(), []Request{{CallID: "c1", Name: "stream"}}, nil)
	if gotCallID != "c1" || gotChunk != "chunk" {
		t.Fatalf("expected live output forwarded, got callID=%q chunk=%q", gotCallID, gotChunk)
	}
}
