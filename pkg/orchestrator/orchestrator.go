// Package orchestrator implements the Orchestrator (spec §4.6): the
// component that owns a conversation Session, assembles each turn's
// system instruction and tool declarations, enforces session-level turn
// and token budgets, and aggregates statistics across every Turn the
// session runs. No direct teacher analogue exists at this layer — the
// teacher's closest components, pkg/client and pkg/proxy, own
// HTTP-request-scoped state rather than a long-lived session — so this
// package is built fresh in pkg/client/toolloop.go's idiom: plain structs,
// explicit method calls, no hidden global state.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentcore/pkg/message"
	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/retry"
	"agentcore/pkg/scheduler"
	"agentcore/pkg/tokens"
	"agentcore/pkg/tool"
	"agentcore/pkg/turn"
)

// Statistics aggregates counters across every turn a Session has run
// (spec §4.6: "{turns, toolCalls, successfulCalls, successRate}"),
// supplemented per SPEC_FULL.md item 3 with timing/token aggregates.
type Statistics struct {
	Turns           int
	ToolCalls       int
	SuccessfulCalls int
	TotalDuration   time.Duration
	TotalTokens     int
}

// SuccessRate returns SuccessfulCalls/ToolCalls, or 1 when no tool call has
// run yet (an empty session has nothing to fail).
func (s Statistics) SuccessRate() float64 {
	if s.ToolCalls == 0 {
		return 1
	}
	return float64(s.SuccessfulCalls) / float64(s.ToolCalls)
}

// Session is one long-lived conversation (spec §3 Session): its history
// and statistics accumulate across turns, mutated only by the
// Orchestrator between turns and never concurrently (spec §5).
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	History      []message.Message
	Stats        Statistics
	Metadata     map[string]any
}

// NewSession constructs an empty Session with a fresh id, stamped with the
// current time for both CreatedAt and LastActivity.
func NewSession() *Session {
	now := time.Now()
	return &Session{ID: uuid.NewString(), CreatedAt: now, LastActivity: now, Metadata: map[string]any{}}
}

// Idle reports whether Session has had no activity for at least timeout.
// A zero timeout means sessions never idle out.
func (s *Session) Idle(timeout time.Duration, now time.Time) bool {
	return timeout > 0 && now.Sub(s.LastActivity) >= timeout
}

// Config bundles the policy knobs spec §4.6 and §6.3 assign to the
// Orchestrator rather than to any individual Turn.
type Config struct {
	Model    string
	Provider provider.Provider

	ToolRegistry        *tool.Registry
	ConfirmationHandler scheduler.ConfirmationHandler
	OutputHandler       scheduler.OutputHandler
	AutoConfirm         bool

	// BasePromptTemplate, WorkspaceContext and UserMemory are merged into
	// the system instruction sent with every turn (spec §4.6: "merging a
	// base prompt template with workspace context, user memory, and tool
	// list"). Workspace/user-memory discovery is out of scope per spec §1;
	// callers supply them pre-formatted.
	BasePromptTemplate string
	WorkspaceContext   string
	UserMemory         string

	Generation      provider.GenerationConfig
	MaxOutputTokens int

	TokenManager *tokens.Manager
	AutoCompress bool

	RetryManager *retry.Manager

	// MaxSessionTurns caps the number of sendMessage calls this session
	// will run; 0 means unlimited.
	MaxSessionTurns int
	// MaxConversationLength is the session history length, in messages,
	// at which a turn runs with autoCompress enabled regardless of
	// AutoCompress; the history itself is not capped. 0 disables the check.
	MaxConversationLength int
	// AutoCompressThreshold enables autoCompress for a turn once the
	// session history's estimated token count reaches
	// AutoCompressThreshold × the model's total limit; 0 disables the check.
	AutoCompressThreshold float64

	// IdleTimeout is spec §3's "configurable idle timeout": once a
	// Session's LastActivity is older than this, the next SendMessage
	// starts a fresh Session automatically rather than continuing the
	// stale one. 0 disables idle expiry.
	IdleTimeout time.Duration

	LoopDetectionThreshold int
	MaxIterationsPerTurn   int

	// Metrics, when set, receives one TurnMetric per completed turn
	// (latency and tool-call outcomes) keyed by model, via RecordTurn,
	// which leaves the token-count fields zero.
	Metrics *metrics.Collector
}

// Orchestrator drives turns through a Turn Engine against one Session,
// assembling each turn's Context from the Session's accumulated history
// plus the Orchestrator's own Config (spec §4.6).
type Orchestrator struct {
	cfg     Config
	engine  *turn.Engine
	Session *Session
}

// New constructs an Orchestrator bound to a fresh Session, driving turns
// through sched's Scheduler.
func New(cfg Config, sched *scheduler.Scheduler) *Orchestrator {
	return &Orchestrator{cfg: cfg, engine: turn.NewEngine(sched), Session: NewSession()}
}

// SendMessage implements spec §4.6's sendMessage(text, opts): it
// constructs a turn.Context from text plus the session's current history,
// tools, and handlers, runs a Turn, forwards every Turn event through
// onEvent, then appends the turn's accumulated history onto the session's
// own. Returns the completed *turn.Turn for callers that need its final
// State or PendingCalls.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, abort <-chan struct{}, onEvent func(turn.Event) error) (*turn.Turn, error) {
	now := time.Now()
	if o.Session.Idle(o.cfg.IdleTimeout, now) {
		o.Session = NewSession()
	}
	o.Session.LastActivity = now

	if o.cfg.MaxSessionTurns > 0 && o.Session.Stats.Turns >= o.cfg.MaxSessionTurns {
		limit := o.cfg.MaxSessionTurns
		return nil, onEvent(turn.Event{Kind: turn.KindMaxSessionTurns, MaxTurns: &turn.MaxTurnsMeta{Limit: limit}})
	}

	autoCompress := o.cfg.AutoCompress
	if o.cfg.MaxConversationLength > 0 && len(o.Session.History) >= o.cfg.MaxConversationLength {
		autoCompress = true
	}
	// Enable autoCompress once the session's own token count reaches
	// autoCompressThreshold × the model's total limit. This only sets the
	// flag: Prepare still compresses only a history that, with its response
	// reservation, exceeds the model's limits, so a history below them is
	// sent uncompressed.
	if o.cfg.AutoCompressThreshold > 0 {
		if limit := tokens.LimitsForModel(o.cfg.Model).Total; limit > 0 {
			if float64(tokens.CountMessages(o.Session.History)) >= o.cfg.AutoCompressThreshold*float64(limit) {
				autoCompress = true
			}
		}
	}

	registry := o.cfg.ToolRegistry
	tc := turn.Context{
		PromptID:               uuid.NewString(),
		UserMessage:            message.NewMessage(message.RoleUser, text),
		Model:                  o.cfg.Model,
		Provider:               o.cfg.Provider,
		ToolRegistry:           registry,
		Tools:                  toolDeclarations(registry),
		SystemInstruction:      o.systemInstruction(registry),
		Generation:             o.cfg.Generation,
		ConfirmationHandler:    o.cfg.ConfirmationHandler,
		OutputHandler:          o.cfg.OutputHandler,
		AutoConfirm:            o.cfg.AutoConfirm,
		PriorHistory:           o.Session.History,
		TokenManager:           o.cfg.TokenManager,
		AutoCompress:           autoCompress,
		MaxOutputTokens:        o.cfg.MaxOutputTokens,
		RetryManager:           o.cfg.RetryManager,
		MaxIterations:          o.cfg.MaxIterationsPerTurn,
		LoopDetectionThreshold: o.cfg.LoopDetectionThreshold,
	}

	t, err := o.engine.Run(ctx, tc, abort, onEvent)
	if t != nil {
		o.Session.History = t.History
		o.recordStats(t)
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordTurn(t)
		}
	}
	return t, err
}

// recordStats folds one completed turn's outcome into the session's
// running Statistics (spec §4.6).
func (o *Orchestrator) recordStats(t *turn.Turn) {
	o.Session.Stats.Turns++
	o.Session.Stats.TotalDuration += t.EndTime.Sub(t.StartTime)
	for _, call := range t.PendingCalls {
		o.Session.Stats.ToolCalls++
		if call.Status == scheduler.Success {
			o.Session.Stats.SuccessfulCalls++
		}
	}
	if o.cfg.TokenManager != nil {
		o.Session.Stats.TotalTokens = tokens.CountMessages(o.Session.History)
	}
}

// systemInstruction merges the base prompt template with workspace
// context, user memory, and the tool list, per spec §4.6.
func (o *Orchestrator) systemInstruction(registry *tool.Registry) string {
	var b strings.Builder
	b.WriteString(o.cfg.BasePromptTemplate)
	if o.cfg.WorkspaceContext != "" {
		b.WriteString("\n\n")
		b.WriteString(o.cfg.WorkspaceContext)
	}
	if o.cfg.UserMemory != "" {
		b.WriteString("\n\n")
		b.WriteString(o.cfg.UserMemory)
	}
	if registry != nil {
		if tools := registry.List(); len(tools) > 0 {
			b.WriteString("\n\nAvailable tools:\n")
			for _, t := range tools {
				b.WriteString("- ")
				b.WriteString(t.Name())
				b.WriteString(": ")
				b.WriteString(t.Description())
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// toolDeclarations converts every tool in registry into the
// provider-neutral declaration shape sent alongside a generation request.
func toolDeclarations(registry *tool.Registry) []provider.Tool {
	if registry == nil {
		return nil
	}
	tools := registry.List()
	if len(tools) == 0 {
		return nil
	}
	out := make([]provider.Tool, len(tools))
	for i, t := range tools {
		out[i] = provider.Tool{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
	}
	return out
}

// Reset discards the session's accumulated history and statistics,
// starting a fresh Session under the same Orchestrator configuration.
func (o *Orchestrator) Reset() {
	o.Session = NewSession()
}
