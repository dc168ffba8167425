// Package config loads the agent's configuration surface (spec §6.3):
// model selection, generation parameters, session budgets, compression
// strategy, and retry/backoff knobs. Adapted from the teacher's
// Config/ExecConfig — same YAML-plus-explicit-ApplyEnv shape, trimmed to
// drop the teacher's proxy/payments/admin-socket fields, which configure
// a surface out of scope for this module (see DESIGN.md).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig carries the keys spec §6.3 enumerates, plus the
// retry/compression presets from SPEC_FULL.md's Supplemented Features,
// loop-detection and per-turn iteration limits, timeouts, and the idle
// session timeout.
type AgentConfig struct {
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	KimiAPIKey   string `yaml:"kimi_api_key"`
	KimiProvider string `yaml:"kimi_provider"`

	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     *int     `yaml:"max_tokens"`
	TopP          *float64 `yaml:"top_p"`
	TopK          *int     `yaml:"top_k"`
	StopSequences []string `yaml:"stop_sequences"`

	AutoConfirm  bool     `yaml:"auto_confirm"`
	AllowedTools []string `yaml:"allowed_tools"`

	MaxSessionTurns       int     `yaml:"max_session_turns"`
	MaxConversationLength int     `yaml:"max_conversation_length"`
	AutoCompressThreshold float64 `yaml:"auto_compress_threshold"`
	CompressionStrategy   string  `yaml:"compression_strategy"` // truncate_oldest|sliding_window|summarize_middle

	// RetryPreset selects one of retry.DefaultConfig/AggressiveConfig/
	// ConservativeConfig as a starting point; the Retry* fields below
	// override individual knobs on top of that preset when non-zero.
	RetryPreset          string        `yaml:"retry_preset"` // default|aggressive|conservative
	RetryMaxAttempts     int           `yaml:"retry_max_attempts"`
	RetryInitialDelay    time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay        time.Duration `yaml:"retry_max_delay"`
	ModelFallbackEnabled bool          `yaml:"model_fallback_enabled"`
	FallbackModel        string        `yaml:"fallback_model"`

	LoopDetectionThreshold int `yaml:"loop_detection_threshold"`
	MaxIterationsPerTurn   int `yaml:"max_iterations_per_turn"`

	// RequestTimeout and WebFetchTimeout carry spec §5's timeout defaults
	// (60s per-HTTP-request, 10s per-URL-fetch for web tools).
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	WebFetchTimeout time.Duration `yaml:"web_fetch_timeout"`

	// IdleSessionTimeout is spec §3's "configurable idle timeout" after
	// which a Session expires and the next message starts a fresh one.
	// 0 disables idle expiry.
	IdleSessionTimeout time.Duration `yaml:"idle_session_timeout"`
}

// DefaultConfig mirrors the teacher's DefaultConfig(), now populated with
// this module's own defaults instead of the Codex proxy's.
func DefaultConfig() AgentConfig {
	return AgentConfig{
		Model:                  "gemini-1.5-flash",
		CompressionStrategy:    "sliding_window",
		AutoCompressThreshold:  0.7,
		MaxSessionTurns:        0,
		MaxConversationLength:  0,
		RetryPreset:            "default",
		LoopDetectionThreshold: 3,
		MaxIterationsPerTurn:   50,
		RequestTimeout:         60 * time.Second,
		WebFetchTimeout:        10 * time.Second,
		IdleSessionTimeout:     30 * time.Minute,
	}
}

// DefaultPath resolves the config file location, honoring MY_CLI_CONFIG
// the way the teacher's DefaultPath honors GODEX_CONFIG.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv("MY_CLI_CONFIG")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "my-cli", "config.yaml")
}

// Load reads AgentConfig from DefaultPath, falling back to defaults when
// the file is absent or unparsable, then applies environment overrides.
func Load() AgentConfig {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads AgentConfig from path.
func LoadFrom(path string) AgentConfig {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		if buf, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(buf, &cfg)
		}
	}
	ApplyEnv(&cfg)
	return cfg
}

// ApplyEnv overrides cfg fields from environment variables, per spec
// §6.3's "credentials may be supplied via env MY_CLI_API_KEY,
// MY_CLI_KIMI_API_KEY, or provider-specific vars." Mirrors the teacher's
// explicit-field ApplyEnv pass rather than a reflection-based binder.
func ApplyEnv(cfg *AgentConfig) {
	if v := strings.TrimSpace(os.Getenv("MY_CLI_MODEL")); v != "" {
		cfg.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_API_KEY")); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_KIMI_API_KEY")); v != "" {
		cfg.KimiAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_KIMI_PROVIDER")); v != "" {
		cfg.KimiProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_TEMPERATURE")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Temperature = &f
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_MAX_TOKENS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxTokens = &n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_TOP_P")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.TopP = &f
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_TOP_K")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.TopK = &n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_STOP_SEQUENCES")); v != "" {
		cfg.StopSequences = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_AUTO_CONFIRM")); v != "" {
		cfg.AutoConfirm = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_ALLOWED_TOOLS")); v != "" {
		cfg.AllowedTools = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_MAX_SESSION_TURNS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxSessionTurns = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_MAX_CONVERSATION_LENGTH")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxConversationLength = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_AUTO_COMPRESS_THRESHOLD")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.AutoCompressThreshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_COMPRESSION_STRATEGY")); v != "" {
		cfg.CompressionStrategy = v
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_RETRY_PRESET")); v != "" {
		cfg.RetryPreset = v
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_RETRY_MAX_ATTEMPTS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_RETRY_INITIAL_DELAY")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryInitialDelay = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_RETRY_MAX_DELAY")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryMaxDelay = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_MODEL_FALLBACK_ENABLED")); v != "" {
		cfg.ModelFallbackEnabled = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_FALLBACK_MODEL")); v != "" {
		cfg.FallbackModel = v
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_LOOP_DETECTION_THRESHOLD")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.LoopDetectionThreshold = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_MAX_ITERATIONS_PER_TURN")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.MaxIterationsPerTurn = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_REQUEST_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_WEB_FETCH_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebFetchTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("MY_CLI_IDLE_SESSION_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleSessionTimeout = d
		}
	}
}

func parseInt(val string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(val))
}

func parseFloat(val string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(val), 64)
}

func parseBool(val string) bool {
	val = strings.TrimSpace(strings.ToLower(val))
	return val == "1" || val == "true" || val == "yes"
}
