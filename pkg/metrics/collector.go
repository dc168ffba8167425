// Package metrics provides per-model turn metrics collection, adapted
// from the teacher's per-backend HTTP metrics collector to the
// Orchestrator's domain: a "backend" becomes the model a Turn ran
// against, and each recorded sample carries tool-call outcomes alongside
// latency and token counts.
package metrics

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"agentcore/pkg/scheduler"
	"agentcore/pkg/turn"
)

// TurnMetric records the outcome of one completed Turn.
type TurnMetric struct {
	Timestamp     time.Time     `json:"ts"`
	Model         string        `json:"model"`
	State         string        `json:"state"`
	Latency       time.Duration `json:"-"`
	Status        string        `json:"status"` // "ok", "error"
	Error         string        `json:"error,omitempty"`
	TokensIn      int           `json:"tokens_in,omitempty"`
	TokensOut     int           `json:"tokens_out,omitempty"`
	ToolCalls     int           `json:"tool_calls,omitempty"`
	ToolSuccesses int           `json:"tool_successes,omitempty"`
}

// MarshalJSON customizes JSON output for latency.
func (m TurnMetric) MarshalJSON() ([]byte, error) {
	type Alias TurnMetric
	return json.Marshal(&struct {
		Alias
		LatencyMs int64 `json:"latency_ms"`
	}{
		Alias:     Alias(m),
		LatencyMs: m.Latency.Milliseconds(),
	})
}

// ModelStats holds aggregated stats for one model.
type ModelStats struct {
	Model            string  `json:"model"`
	Turns            int64   `json:"turns"`
	Errors           int64   `json:"errors"`
	LatencyP50       int64   `json:"latency_p50_ms"`
	LatencyP95       int64   `json:"latency_p95_ms"`
	LatencyP99       int64   `json:"latency_p99_ms"`
	TotalTokens      int64   `json:"total_tokens"`
	ToolCalls        int64   `json:"tool_calls"`
	ToolSuccesses    int64   `json:"tool_successes"`
	ErrorRate        float64 `json:"error_rate"`
	ToolSuccessRate  float64 `json:"tool_success_rate"`
}

// Collector collects and aggregates per-model turn metrics.
type Collector struct {
	mu          sync.RWMutex
	enabled     bool
	logRequests bool
	path        string
	file        *os.File

	// Per-model latency samples (for percentiles)
	latencies map[string][]int64

	// Per-model counters
	turns         map[string]int64
	errors        map[string]int64
	totalTokens   map[string]int64
	toolCalls     map[string]int64
	toolSuccesses map[string]int64
}

// Config configures the metrics collector.
type Config struct {
	Enabled     bool
	Path        string
	LogRequests bool
}

// NewCollector creates a new metrics collector.
func NewCollector(cfg Config) (*Collector, error) {
	c := &Collector{
		enabled:       cfg.Enabled,
		logRequests:   cfg.LogRequests,
		path:          cfg.Path,
		latencies:     make(map[string][]int64),
		turns:         make(map[string]int64),
		errors:        make(map[string]int64),
		totalTokens:   make(map[string]int64),
		toolCalls:     make(map[string]int64),
		toolSuccesses: make(map[string]int64),
	}

	if cfg.Path != "" && cfg.Enabled {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		c.file = f
	}

	return c, nil
}

// RecordTurn derives a TurnMetric from a completed turn.Turn and records
// it, sparing callers (the Orchestrator) from reaching into Turn/Scheduler
// internals themselves. TokensIn and TokensOut are left zero.
func (c *Collector) RecordTurn(t *turn.Turn) {
	if t == nil {
		return
	}
	m := TurnMetric{
		Timestamp: t.EndTime,
		Model:     t.Context.Model,
		State:     string(t.State),
		Latency:   t.EndTime.Sub(t.StartTime),
		Status:    "ok",
	}
	if t.State == turn.Failed {
		m.Status = "error"
	}
	for _, call := range t.PendingCalls {
		m.ToolCalls++
		if call.Status == scheduler.Success {
			m.ToolSuccesses++
		}
	}
	c.Record(m)
}

// Record records a turn metric.
func (c *Collector) Record(m TurnMetric) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Update counters
	c.turns[m.Model]++
	if m.Status == "error" {
		c.errors[m.Model]++
	}
	c.totalTokens[m.Model] += int64(m.TokensIn + m.TokensOut)
	c.toolCalls[m.Model] += int64(m.ToolCalls)
	c.toolSuccesses[m.Model] += int64(m.ToolSuccesses)

	// Store latency sample (keep last 1000 per model)
	latencyMs := m.Latency.Milliseconds()
	samples := c.latencies[m.Model]
	if len(samples) >= 1000 {
		samples = samples[1:]
	}
	c.latencies[m.Model] = append(samples, latencyMs)

	// Persist if configured
	if c.file != nil && c.logRequests {
		data, _ := json.Marshal(m)
		c.file.Write(append(data, '\n'))
	}
}

// Stats returns aggregated stats for all models.
func (c *Collector) Stats() map[string]*ModelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*ModelStats)

	for model := range c.turns {
		stats := &ModelStats{
			Model:         model,
			Turns:         c.turns[model],
			Errors:        c.errors[model],
			TotalTokens:   c.totalTokens[model],
			ToolCalls:     c.toolCalls[model],
			ToolSuccesses: c.toolSuccesses[model],
		}

		if stats.Turns > 0 {
			stats.ErrorRate = float64(stats.Errors) / float64(stats.Turns)
		}
		if stats.ToolCalls > 0 {
			stats.ToolSuccessRate = float64(stats.ToolSuccesses) / float64(stats.ToolCalls)
		}

		// Calculate percentiles
		if samples := c.latencies[model]; len(samples) > 0 {
			sorted := make([]int64, len(samples))
			copy(sorted, samples)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			stats.LatencyP50 = percentile(sorted, 50)
			stats.LatencyP95 = percentile(sorted, 95)
			stats.LatencyP99 = percentile(sorted, 99)
		}

		result[model] = stats
	}

	return result
}

// StatsForModel returns stats for a specific model.
func (c *Collector) StatsForModel(model string) *ModelStats {
	stats := c.Stats()
	if s, ok := stats[model]; ok {
		return s
	}
	return &ModelStats{Model: model}
}

// Reset clears all collected metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latencies = make(map[string][]int64)
	c.turns = make(map[string]int64)
	c.errors = make(map[string]int64)
	c.totalTokens = make(map[string]int64)
	c.toolCalls = make(map[string]int64)
	c.toolSuccesses = make(map[string]int64)
}

// Close closes the metrics file if open.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// percentile calculates the p-th percentile of a sorted slice.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) * p) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
