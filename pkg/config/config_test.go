package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model != "gemini-1.5-flash" {
		t.Errorf("Model = %q, want %q", cfg.Model, "gemini-1.5-flash")
	}
	if cfg.CompressionStrategy != "sliding_window" {
		t.Errorf("CompressionStrategy = %q, want %q", cfg.CompressionStrategy, "sliding_window")
	}
	if cfg.AutoCompressThreshold != 0.7 {
		t.Errorf("AutoCompressThreshold = %v, want 0.7", cfg.AutoCompressThreshold)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v, want 60s", cfg.RequestTimeout)
	}
	if cfg.WebFetchTimeout != 10*time.Second {
		t.Errorf("WebFetchTimeout = %v, want 10s", cfg.WebFetchTimeout)
	}
	if cfg.LoopDetectionThreshold != 3 {
		t.Errorf("LoopDetectionThreshold = %d, want 3", cfg.LoopDetectionThreshold)
	}
	if cfg.IdleSessionTimeout != 30*time.Minute {
		t.Errorf("IdleSessionTimeout = %v, want 30m", cfg.IdleSessionTimeout)
	}
}

func TestDefaultPath(t *testing.T) {
	origEnv := os.Getenv("MY_CLI_CONFIG")
	origHome := os.Getenv("HOME")
	defer func() {
		os.Setenv("MY_CLI_CONFIG", origEnv)
		os.Setenv("HOME", origHome)
	}()

	os.Setenv("MY_CLI_CONFIG", "/custom/path/config.yaml")
	if got := DefaultPath(); got != "/custom/path/config.yaml" {
		t.Errorf("DefaultPath() with MY_CLI_CONFIG = %q, want %q", got, "/custom/path/config.yaml")
	}

	os.Unsetenv("MY_CLI_CONFIG")
	tmpHome := t.TempDir()
	os.Setenv("HOME", tmpHome)
	expected := filepath.Join(tmpHome, ".config", "my-cli", "config.yaml")
	if got := DefaultPath(); got != expected {
		t.Errorf("DefaultPath() = %q, want %q", got, expected)
	}
}

func TestLoadFrom(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configYAML := `
model: custom-model
auto_confirm: true
max_session_turns: 5
compression_strategy: truncate_oldest
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadFrom(configPath)

	if cfg.Model != "custom-model" {
		t.Errorf("Model = %q, want %q", cfg.Model, "custom-model")
	}
	if !cfg.AutoConfirm {
		t.Error("AutoConfirm should be true")
	}
	if cfg.MaxSessionTurns != 5 {
		t.Errorf("MaxSessionTurns = %d, want 5", cfg.MaxSessionTurns)
	}
	if cfg.CompressionStrategy != "truncate_oldest" {
		t.Errorf("CompressionStrategy = %q, want %q", cfg.CompressionStrategy, "truncate_oldest")
	}

	// Defaults preserved for unset values.
	if cfg.AutoCompressThreshold != 0.7 {
		t.Errorf("AutoCompressThreshold should be default, got %v", cfg.AutoCompressThreshold)
	}
}

func TestLoadFromMissing(t *testing.T) {
	cfg := LoadFrom("/nonexistent/path/config.yaml")
	if cfg.Model != "gemini-1.5-flash" {
		t.Errorf("should return defaults for missing file, got Model = %q", cfg.Model)
	}
}

func TestLoadFromEmpty(t *testing.T) {
	cfg := LoadFrom("")
	if cfg.Model != "gemini-1.5-flash" {
		t.Errorf("should return defaults for empty path, got Model = %q", cfg.Model)
	}
}

func TestApplyEnv(t *testing.T) {
	envVars := []string{
		"MY_CLI_MODEL",
		"MY_CLI_API_KEY",
		"MY_CLI_AUTO_CONFIRM",
		"MY_CLI_ALLOWED_TOOLS",
		"MY_CLI_MAX_SESSION_TURNS",
		"MY_CLI_AUTO_COMPRESS_THRESHOLD",
	}
	origValues := make(map[string]string)
	for _, v := range envVars {
		origValues[v] = os.Getenv(v)
	}
	defer func() {
		for k, v := range origValues {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	os.Setenv("MY_CLI_MODEL", "env-model")
	os.Setenv("MY_CLI_API_KEY", "env-key")
	os.Setenv("MY_CLI_AUTO_CONFIRM", "true")
	os.Setenv("MY_CLI_ALLOWED_TOOLS", "read_file,list_dir")
	os.Setenv("MY_CLI_MAX_SESSION_TURNS", "20")
	os.Setenv("MY_CLI_AUTO_COMPRESS_THRESHOLD", "0.5")

	cfg := DefaultConfig()
	ApplyEnv(&cfg)

	if cfg.Model != "env-model" {
		t.Errorf("Model = %q, want %q", cfg.Model, "env-model")
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want %q", cfg.APIKey, "env-key")
	}
	if !cfg.AutoConfirm {
		t.Error("AutoConfirm should be true")
	}
	if len(cfg.AllowedTools) != 2 || cfg.AllowedTools[0] != "read_file" || cfg.AllowedTools[1] != "list_dir" {
		t.Errorf("AllowedTools = %v, want [read_file list_dir]", cfg.AllowedTools)
	}
	if cfg.MaxSessionTurns != 20 {
		t.Errorf("MaxSessionTurns = %d, want 20", cfg.MaxSessionTurns)
	}
	if cfg.AutoCompressThreshold != 0.5 {
		t.Errorf("AutoCompressThreshold = %v, want 0.5", cfg.AutoCompressThreshold)
	}
}

func TestApplyEnvInvalidDuration(t *testing.T) {
	origTimeout := os.Getenv("MY_CLI_REQUEST_TIMEOUT")
	defer os.Setenv("MY_CLI_REQUEST_TIMEOUT", origTimeout)

	os.Setenv("MY_CLI_REQUEST_TIMEOUT", "invalid")

	cfg := DefaultConfig()
	ApplyEnv(&cfg)

	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v, want default 60s", cfg.RequestTimeout)
	}
}

func TestApplyEnvIdleSessionTimeout(t *testing.T) {
	origTimeout := os.Getenv("MY_CLI_IDLE_SESSION_TIMEOUT")
	defer os.Setenv("MY_CLI_IDLE_SESSION_TIMEOUT", origTimeout)

	os.Setenv("MY_CLI_IDLE_SESSION_TIMEOUT", "10m")
	cfg := DefaultConfig()
	ApplyEnv(&cfg)
	if cfg.IdleSessionTimeout != 10*time.Minute {
		t.Errorf("IdleSessionTimeout = %v, want 10m", cfg.IdleSessionTimeout)
	}
}

func TestGenerationParamOverridesAreOptional(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Temperature != nil {
		t.Errorf("Temperature should be nil by default, got %v", *cfg.Temperature)
	}

	origTemp := os.Getenv("MY_CLI_TEMPERATURE")
	defer os.Setenv("MY_CLI_TEMPERATURE", origTemp)
	os.Setenv("MY_CLI_TEMPERATURE", "0.2")

	ApplyEnv(&cfg)
	if cfg.Temperature == nil || *cfg.Temperature != 0.2 {
		t.Fatalf("expected Temperature=0.2, got %v", cfg.Temperature)
	}
}

func TestConfigYAMLRoundtrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configYAML := `
model: test-model
kimi_api_key: kimi-key
temperature: 0.3
max_tokens: 2048
auto_confirm: true
allowed_tools:
  - read_file
  - write_file
max_session_turns: 10
max_conversation_length: 200
auto_compress_threshold: 0.8
compression_strategy: summarize_middle
retry_preset: aggressive
loop_detection_threshold: 5
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadFrom(configPath)

	if cfg.Model != "test-model" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.KimiAPIKey != "kimi-key" {
		t.Errorf("KimiAPIKey = %q", cfg.KimiAPIKey)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.3 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.MaxTokens == nil || *cfg.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %v", cfg.MaxTokens)
	}
	if len(cfg.AllowedTools) != 2 {
		t.Errorf("AllowedTools = %v", cfg.AllowedTools)
	}
	if cfg.MaxSessionTurns != 10 || cfg.MaxConversationLength != 200 {
		t.Errorf("session budgets = %d/%d", cfg.MaxSessionTurns, cfg.MaxConversationLength)
	}
	if cfg.AutoCompressThreshold != 0.8 {
		t.Errorf("AutoCompressThreshold = %v", cfg.AutoCompressThreshold)
	}
	if cfg.CompressionStrategy != "summarize_middle" {
		t.Errorf("CompressionStrategy = %q", cfg.CompressionStrategy)
	}
	if cfg.RetryPreset != "aggressive" {
		t.Errorf("RetryPreset = %q", cfg.RetryPreset)
	}
	if cfg.LoopDetectionThreshold != 5 {
		t.Errorf("LoopDetectionThreshold = %d", cfg.LoopDetectionThreshold)
	}
}
