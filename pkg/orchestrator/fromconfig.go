package orchestrator

import (
	"agentcore/pkg/config"
	"agentcore/pkg/provider"
	"agentcore/pkg/retry"
	"agentcore/pkg/scheduler"
	"agentcore/pkg/tokens"
	"agentcore/pkg/tool"
)

// NewFromAgentConfig builds an Orchestrator from a config.AgentConfig: it
// resolves the configured model to a Provider via registry, builds the
// Retry Engine from the configured preset, and the Token Manager from the
// configured compression strategy, wiring all three (plus the tool
// Scheduler) into a single Orchestrator. This is the glue spec §6.3
// describes as "the configuration surface" — everything downstream of
// config loading, before the first SendMessage.
func NewFromAgentConfig(cfg config.AgentConfig, registry *provider.Registry, toolRegistry *tool.Registry, confirm scheduler.ConfirmationHandler, output scheduler.OutputHandler) (*Orchestrator, error) {
	p, err := registry.Resolve(cfg.Model)
	if err != nil {
		return nil, err
	}

	tokenMgr, err := tokens.NewManager(tokens.Strategy(cfg.CompressionStrategy), cfg.AutoCompressThreshold)
	if err != nil {
		return nil, err
	}

	retryCfg := retryPresetConfig(cfg.RetryPreset)
	if cfg.RetryMaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialDelay > 0 {
		retryCfg.InitialDelay = cfg.RetryInitialDelay
	}
	if cfg.RetryMaxDelay > 0 {
		retryCfg.MaxDelay = cfg.RetryMaxDelay
	}
	retryCfg.ModelFallback = retry.ModelFallback{
		Enabled:       cfg.ModelFallbackEnabled,
		FallbackModel: cfg.FallbackModel,
	}

	sched := scheduler.New(toolRegistry, confirm, output, cfg.AutoConfirm)

	orch := New(Config{
		Model:                  cfg.Model,
		Provider:               p,
		ToolRegistry:           toolRegistry,
		ConfirmationHandler:    confirm,
		OutputHandler:          output,
		AutoConfirm:            cfg.AutoConfirm,
		Generation:             generationConfig(cfg),
		MaxOutputTokens:        intOrZero(cfg.MaxTokens),
		TokenManager:           tokenMgr,
		AutoCompress:           false,
		RetryManager:           retry.NewManager(retryCfg),
		MaxSessionTurns:        cfg.MaxSessionTurns,
		MaxConversationLength:  cfg.MaxConversationLength,
		AutoCompressThreshold:  cfg.AutoCompressThreshold,
		LoopDetectionThreshold: cfg.LoopDetectionThreshold,
		MaxIterationsPerTurn:   cfg.MaxIterationsPerTurn,
		IdleTimeout:            cfg.IdleSessionTimeout,
	}, sched)

	return orch, nil
}

// retryPresetConfig selects one of retry's three named presets per
// AgentConfig.RetryPreset, defaulting to DefaultConfig for an unset or
// unrecognized value.
func retryPresetConfig(preset string) retry.Config {
	switch preset {
	case "aggressive":
		return retry.AggressiveConfig()
	case "conservative":
		return retry.ConservativeConfig()
	default:
		return retry.DefaultConfig()
	}
}

func generationConfig(cfg config.AgentConfig) provider.GenerationConfig {
	return provider.GenerationConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxTokens,
		StopSequences:   cfg.StopSequences,
	}
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
