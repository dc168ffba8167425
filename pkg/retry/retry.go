// Package retry implements the Retry Engine (spec §4.2): exponential
// backoff with jitter, Retry-After honoring, and model fallback on
// persistent quota failures. Grounded on original_source's retry.py
// (authoritative for the algorithm) and the teacher's
// pkg/backend/codex/client.go retry-loop shape.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"agentcore/pkg/agenterr"
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	ExpBackoff    Strategy = "exponential_backoff"
	FixedDelay    Strategy = "fixed_delay"
	LinearBackoff Strategy = "linear_backoff"
)

// ModelFallback configures the quota-exhaustion fallback path.
type ModelFallback struct {
	Enabled      bool
	FallbackModel string
}

// Config configures a Manager. Zero-value numeric, duration and Strategy
// fields are filled in by NewManager with the spec's documented defaults;
// the boolean switches are used as given.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Strategy          Strategy
	BackoffMultiplier float64
	JitterEnabled     bool
	JitterRange       float64
	RespectRetryAfter bool
	ModelFallback     ModelFallback

	// OnFallback is invoked when two consecutive QuotaExceeded errors
	// occur and ModelFallback.Enabled is true. It returns whether the
	// fallback is accepted; nil auto-accepts, matching retry.py's
	// behavior when on_fallback_func is unset.
	OnFallback func(from, to string) bool

	// OnRetry is invoked before each retry delay, for logging/metrics.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultConfig mirrors retry.py's create_default_retry_config.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		Strategy:          ExpBackoff,
		BackoffMultiplier: 2.0,
		JitterEnabled:     true,
		JitterRange:       0.1,
		RespectRetryAfter: true,
	}
}

// AggressiveConfig mirrors retry.py's create_aggressive_retry_config: more
// attempts, shorter delays, for latency-sensitive callers willing to hammer
// a flaky backend harder.
func AggressiveConfig() Config {
	c := DefaultConfig()
	c.MaxAttempts = 8
	c.InitialDelay = 500 * time.Millisecond
	c.MaxDelay = 15 * time.Second
	c.BackoffMultiplier = 1.5
	return c
}

// ConservativeConfig mirrors retry.py's create_conservative_retry_config:
// fewer attempts, longer delays, for quota-sensitive callers.
func ConservativeConfig() Config {
	c := DefaultConfig()
	c.MaxAttempts = 3
	c.InitialDelay = 2 * time.Second
	c.MaxDelay = 60 * time.Second
	c.BackoffMultiplier = 3.0
	return c
}

func normalize(c Config) Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Strategy == "" {
		c.Strategy = ExpBackoff
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.JitterRange <= 0 {
		c.JitterRange = 0.1
	}
	return c
}

// ErrorHistogram counts retryable errors encountered, keyed by Kind.
type ErrorHistogram map[agenterr.Kind]int

// Stats is the aggregate retry statistics object (spec §4.2, supplemented
// per SPEC_FULL.md item 1; ported from retry.py's RetryStats).
type Stats struct {
	Attempts      int
	Successes     int
	Failures      int
	TotalDelay    time.Duration
	TotalDuration time.Duration
	ErrorHistogram ErrorHistogram
	FallbackUsed  bool
}

// Snapshot returns a copy of the stats safe to retain after the call
// returns (Manager.Do resets nothing between calls; callers construct a
// fresh Manager or read Stats per invocation as needed).
func (s Stats) Snapshot() Stats {
	hist := make(ErrorHistogram, len(s.ErrorHistogram))
	for k, v := range s.ErrorHistogram {
		hist[k] = v
	}
	s.ErrorHistogram = hist
	return s
}

// Manager wraps fallible calls with the retry algorithm of spec §4.2.
type Manager struct {
	cfg Config
}

// NewManager constructs a Manager, filling unset Config fields with the
// documented defaults.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: normalize(cfg)}
}

// Call is the fallible operation the Manager retries. currentModel is
// passed so the call can be re-issued against a fallback model after
// OnFallback accepts a switch.
type Call func(ctx context.Context, currentModel string) error

// Do executes fn, retrying per the Manager's Config, and returns the final
// error (nil on success) plus a Stats snapshot for this invocation.
func (m *Manager) Do(ctx context.Context, initialModel string, fn Call) (Stats, error) {
	cfg := m.cfg
	stats := Stats{ErrorHistogram: ErrorHistogram{}}
	currentModel := initialModel
	delay := cfg.InitialDelay
	consecutiveQuota := 0
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		stats.Attempts++
		lastErr = fn(ctx, currentModel)
		if lastErr == nil {
			stats.Successes++
			stats.TotalDuration = time.Since(start)
			return stats, nil
		}

		classified := agenterr.Classify(lastErr)
		stats.ErrorHistogram[classified.KindVal]++

		retryable := agenterr.IsRetryable(classified)
		if !retryable || attempt == cfg.MaxAttempts {
			stats.Failures++
			stats.TotalDuration = time.Since(start)
			return stats, lastErr
		}

		if classified.KindVal == agenterr.KindQuotaExceeded {
			consecutiveQuota++
		} else {
			consecutiveQuota = 0
		}

		if consecutiveQuota >= 2 && cfg.ModelFallback.Enabled && cfg.ModelFallback.FallbackModel != "" && currentModel != cfg.ModelFallback.FallbackModel {
			accept := true
			if cfg.OnFallback != nil {
				accept = cfg.OnFallback(currentModel, cfg.ModelFallback.FallbackModel)
			}
			if accept {
				currentModel = cfg.ModelFallback.FallbackModel
				stats.FallbackUsed = true
				consecutiveQuota = 0
				delay = cfg.InitialDelay
			}
		}

		wait := m.computeDelay(classified, delay, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(lastErr, attempt, wait)
		}
		stats.TotalDelay += wait

		select {
		case <-ctx.Done():
			stats.Failures++
			stats.TotalDuration = time.Since(start)
			return stats, ctx.Err()
		case <-time.After(wait):
		}

		delay = m.nextDelay(delay)
	}

	stats.Failures++
	stats.TotalDuration = time.Since(start)
	return stats, lastErr
}

// computeDelay resolves this attempt's wait: Retry-After takes precedence
// over the strategy-computed delay when present and RespectRetryAfter is
// set (retry.py's _calculate_delay precedence), then jitter is applied and
// the result clamped to [0, MaxDelay].
func (m *Manager) computeDelay(classified *agenterr.Error, strategyDelay time.Duration, attempt int) time.Duration {
	cfg := m.cfg
	base := strategyDelay
	if cfg.RespectRetryAfter {
		if secs, ok := agenterr.RetryDelaySeconds(classified); ok {
			base = time.Duration(secs) * time.Second
		}
	}
	if base > cfg.MaxDelay {
		base = cfg.MaxDelay
	}
	if base < 0 {
		base = 0
	}
	if !cfg.JitterEnabled {
		return base
	}
	jitterSpan := float64(base) * cfg.JitterRange
	jittered := float64(base) + (rand.Float64()*2-1)*jitterSpan
	if jittered < 0 {
		jittered = 0
	}
	if time.Duration(jittered) > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return time.Duration(jittered)
}

// nextDelay advances the running delay per Strategy, ahead of the next
// attempt's jitter/Retry-After resolution.
func (m *Manager) nextDelay(current time.Duration) time.Duration {
	cfg := m.cfg
	switch cfg.Strategy {
	case FixedDelay:
		return cfg.InitialDelay
	case LinearBackoff:
		next := current + cfg.InitialDelay
		if next > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return next
	default: // ExpBackoff
		next := time.Duration(math.Min(float64(current)*cfg.BackoffMultiplier, float64(cfg.MaxDelay)))
		return next
	}
}
