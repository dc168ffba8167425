package orchestrator

import (
	"context"
	"testing"

	"agentcore/pkg/config"
	"agentcore/pkg/provider"
	"agentcore/pkg/tool"
	"agentcore/pkg/turn"
)

func testRegistry(p provider.Provider) *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(provider.FamilyGemini, p)
	return reg
}

func TestNewFromAgentConfigResolvesProviderAndRuns(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model = "gemini-1.5-flash"
	cfg.AutoConfirm = true

	orch, err := NewFromAgentConfig(cfg, testRegistry(&echoProvider{reply: "hi"}), tool.NewRegistry(), nil, nil)
	if err != nil {
		t.Fatalf("NewFromAgentConfig: %v", err)
	}

	var events []turn.Event
	tr, err := orch.SendMessage(context.Background(), "hello", nil, func(e turn.Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if tr.State != turn.Completed {
		t.Fatalf("expected Completed, got %v", tr.State)
	}
}

func TestNewFromAgentConfigUnknownModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model = "unknown-model-xyz"

	_, err := NewFromAgentConfig(cfg, testRegistry(&echoProvider{reply: "hi"}), tool.NewRegistry(), nil, nil)
	if err == nil {
		t.Fatal("expected error for unresolvable model family")
	}
}

func TestNewFromAgentConfigAppliesRetryPreset(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model = "gemini-1.5-flash"
	cfg.RetryPreset = "aggressive"

	orch, err := NewFromAgentConfig(cfg, testRegistry(&echoProvider{reply: "hi"}), tool.NewRegistry(), nil, nil)
	if err != nil {
		t.Fatalf("NewFromAgentConfig: %v", err)
	}
	if orch.cfg.RetryManager == nil {
		t.Fatal("expected a RetryManager to be built")
	}
}
