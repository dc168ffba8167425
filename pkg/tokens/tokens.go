// Package tokens implements the Token Manager (spec §4.3): a deterministic
// token estimator, per-model limits, and three compression strategies used
// to keep conversation history under a provider's context window.
// Grounded on original_source's token_manager.py (authoritative for the
// estimator formula and strategy semantics) and haasonsaas-nexus's
// internal/compaction package for Go-idiomatic slice-splitting helpers.
package tokens

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"

	"agentcore/pkg/agenterr"
	"agentcore/pkg/message"
)

// Limits bounds a model's context window (spec §4.3).
type Limits struct {
	Input int
	Output int
	Total  int
}

// DefaultLimits is used for any model name absent from the canonical table.
var DefaultLimits = Limits{Input: 100000, Output: 8192, Total: 100000}

// canonicalLimits is the worked table supplementing spec §4.3's default
// fallback (SPEC_FULL.md item 5), covering the canonical model-name
// prefixes the provider-detection list in spec §6.3 already names.
var canonicalLimits = map[string]Limits{
	"gemini-2.0-flash-exp": {Input: 1000000, Output: 8192, Total: 1000000},
	"gemini-1.5-pro":       {Input: 2000000, Output: 8192, Total: 2000000},
	"gemini-1.5-flash":     {Input: 1000000, Output: 8192, Total: 1000000},
	"kimi-k2-instruct":     {Input: 128000, Output: 8192, Total: 128000},
	"gpt-4o":               {Input: 128000, Output: 16384, Total: 128000},
	"gpt-4o-mini":          {Input: 128000, Output: 16384, Total: 128000},
	"claude-3-5-sonnet":    {Input: 200000, Output: 8192, Total: 200000},
	"claude-3-opus":        {Input: 200000, Output: 4096, Total: 200000},
}

// LimitsForModel looks up canonicalLimits by exact name, falling back to a
// prefix match (so "gemini-1.5-pro-002" resolves via "gemini-1.5-pro"),
// then DefaultLimits.
func LimitsForModel(model string) Limits {
	if l, ok := canonicalLimits[model]; ok {
		return l
	}
	for name, l := range canonicalLimits {
		if strings.HasPrefix(model, name) {
			return l
		}
	}
	return DefaultLimits
}

// CountMessage estimates the token cost of a single message using the
// spec's deliberately simple estimator (§4.3): text tokens are
// max(1, len/4) + punctuation/4; +3 overhead per message; +10 + JSON(args)
// length per function-call part; +5 + JSON(response) length per
// function-response part; +100 per media part.
func CountMessage(m message.Message) int {
	total := 3
	for _, p := range m.Parts {
		switch {
		case p.Text != nil:
			total += countText(*p.Text)
		case p.FunctionCall != nil:
			total += 10 + jsonLen(p.FunctionCall.Args)
		case p.FunctionResponse != nil:
			total += 5 + jsonLen(p.FunctionResponse.Response)
		case p.InlineData != nil, p.FileData != nil:
			total += 100
		}
	}
	return total
}

// CountMessages sums CountMessage across a history.
func CountMessages(history []message.Message) int {
	total := 0
	for _, m := range history {
		total += CountMessage(m)
	}
	return total
}

func countText(s string) int {
	charTokens := len(s) / 4
	if charTokens < 1 {
		charTokens = 1
	}
	punct := 0
	for _, r := range s {
		if unicode.IsPunct(r) {
			punct++
		}
	}
	return charTokens + punct/4
}

func jsonLen(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

// Strategy selects a compression algorithm (spec §4.3).
type Strategy string

const (
	TruncateOldest Strategy = "truncate_oldest"
	SlidingWindow  Strategy = "sliding_window"
	SummarizeMiddle Strategy = "summarize_middle"
)

// PrepareResult is the diagnostic returned alongside a (possibly
// compressed) message list by Manager.Prepare.
type PrepareResult struct {
	Messages            []message.Message
	CompressionPerformed bool
	OriginalTokens       int
	CompressedTokens     int
	TokensSaved          int
	Ratio                float64
}

// Manager owns the estimator, per-model limits, and the configured
// compression strategy.
type Manager struct {
	Strategy               Strategy
	AutoCompressThreshold  float64 // ratio in [0,1]; resolves spec §9's Open Question
	PreserveRecentPairs    int     // used by TruncateOldest/SlidingWindow "last N pairs"
	SummarizeKeepEachSide  int     // used by SummarizeMiddle
}

// NewManager constructs a Manager, rejecting an out-of-range threshold per
// SPEC_FULL.md §4.3 EXTENDED's resolution of the auto_compress_threshold
// Open Question (single ratio semantic in [0,1]).
func NewManager(strategy Strategy, autoCompressThreshold float64) (*Manager, error) {
	if autoCompressThreshold < 0 || autoCompressThreshold > 1 {
		return nil, agenterr.Configuration("auto_compress_threshold must be in [0,1]", "auto_compress_threshold")
	}
	if strategy == "" {
		strategy = SlidingWindow
	}
	return &Manager{
		Strategy:              strategy,
		AutoCompressThreshold: autoCompressThreshold,
		PreserveRecentPairs:   5,
		SummarizeKeepEachSide: 5,
	}, nil
}

// Prepare implements spec §4.3's prepareMessagesForGeneration: it computes
// prompt tokens, reserves room for the response, and compresses history
// when over budget and autoCompress is enabled (else raises
// TokenLimitExceeded).
func (m *Manager) Prepare(history []message.Message, model string, maxOutputTokens int, autoCompress bool) (PrepareResult, error) {
	limits := LimitsForModel(model)
	promptTokens := CountMessages(history)

	outputLimit := limits.Output
	if maxOutputTokens > 0 && maxOutputTokens < outputLimit {
		outputLimit = maxOutputTokens
	}
	remaining := limits.Total - promptTokens
	responseReservation := outputLimit
	if eighty := int(float64(remaining) * 0.8); eighty < responseReservation {
		responseReservation = eighty
	}
	if responseReservation < 0 {
		responseReservation = 0
	}

	if promptTokens+responseReservation <= limits.Total && promptTokens <= limits.Input {
		return PrepareResult{Messages: history, OriginalTokens: promptTokens, CompressedTokens: promptTokens}, nil
	}

	if !autoCompress {
		return PrepareResult{}, agenterr.TokenLimitExceeded("prompt exceeds model token limit", promptTokens, limits.Total)
	}

	target := int(float64(limits.Total-responseReservation) * m.AutoCompressThreshold)
	if target < 0 {
		target = 0
	}
	compressed := m.Compress(history, target)
	compressedTokens := CountMessages(compressed)

	result := PrepareResult{
		Messages:             compressed,
		CompressionPerformed: true,
		OriginalTokens:       promptTokens,
		CompressedTokens:     compressedTokens,
		TokensSaved:          promptTokens - compressedTokens,
	}
	if promptTokens > 0 {
		result.Ratio = float64(result.TokensSaved) / float64(promptTokens)
	}
	return result, nil
}

// Compress reduces history to fit within target tokens using the Manager's
// configured Strategy.
func (m *Manager) Compress(history []message.Message, target int) []message.Message {
	switch m.Strategy {
	case TruncateOldest:
		return m.truncateOldest(history, target)
	case SummarizeMiddle:
		return m.summarizeMiddle(history, target)
	default:
		return m.slidingWindow(history, target)
	}
}

// slidingWindow keeps only the most recent messages that fit the budget,
// walking from newest to oldest (spec §4.3).
func (m *Manager) slidingWindow(history []message.Message, target int) []message.Message {
	if len(history) == 0 {
		return history
	}
	var kept []message.Message
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := CountMessage(history[i])
		if total+cost > target && len(kept) > 0 {
			break
		}
		kept = append([]message.Message{history[i]}, kept...)
		total += cost
	}
	if len(kept) == 0 && len(history) > 0 {
		kept = []message.Message{history[len(history)-1]}
	}
	return kept
}

// truncateOldest preserves the last N turn-pairs, then greedily adds older
// messages while they still fit the target budget (spec §4.3).
func (m *Manager) truncateOldest(history []message.Message, target int) []message.Message {
	if len(history) == 0 {
		return history
	}
	n := m.PreserveRecentPairs * 2
	if n <= 0 || n > len(history) {
		n = len(history)
	}
	recent := history[len(history)-n:]
	older := history[:len(history)-n]

	total := CountMessages(recent)
	var prefix []message.Message
	for i := len(older) - 1; i >= 0; i-- {
		cost := CountMessage(older[i])
		if total+cost > target {
			break
		}
		prefix = append([]message.Message{older[i]}, prefix...)
		total += cost
	}
	return append(prefix, recent...)
}

// summarizeMiddle keeps the first N and last N messages, replacing the
// middle block with a single synthetic System message summarizing role
// counts; falls back to slidingWindow if still over budget (spec §4.3).
func (m *Manager) summarizeMiddle(history []message.Message, target int) []message.Message {
	n := m.SummarizeKeepEachSide
	if n <= 0 {
		n = 5
	}
	if len(history) <= 2*n {
		return m.slidingWindow(history, target)
	}

	first := history[:n]
	last := history[len(history)-n:]
	middle := history[n : len(history)-n]

	counts := map[message.Role]int{}
	for _, msg := range middle {
		counts[msg.Role]++
	}
	summary := summarizeRoleCounts(counts, len(middle))

	out := make([]message.Message, 0, n*2+1)
	out = append(out, first...)
	out = append(out, message.NewMessage(message.RoleSystem, summary))
	out = append(out, last...)

	if CountMessages(out) > target {
		return m.slidingWindow(history, target)
	}
	return out
}

func summarizeRoleCounts(counts map[message.Role]int, total int) string {
	var b strings.Builder
	b.WriteString("[Compressed ")
	b.WriteString(strconv.Itoa(total))
	b.WriteString(" earlier message(s):")
	for _, role := range []message.Role{message.RoleUser, message.RoleModel, message.RoleTool, message.RoleSystem} {
		if n := counts[role]; n > 0 {
			b.WriteString(" ")
			b.WriteString(string(role))
			b.WriteString("=")
			b.WriteString(strconv.Itoa(n))
		}
	}
	b.WriteString("]")
	return b.String()
}
