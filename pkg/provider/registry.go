package provider

import (
	"strings"

	"agentcore/pkg/agenterr"
)

// Family identifies which wire protocol a canonical model name maps to
// (spec §6.3's model-driven provider detection: "kimi-*"→kimi,
// "gemini-*"→gemini, "gpt-*|o1-*"→openai, "claude-*"→anthropic; otherwise
// error).
type Family string

const (
	FamilyGemini    Family = "gemini"
	FamilyKimi      Family = "kimi"
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
)

// DetectFamily classifies a canonical model name into the wire-protocol
// family that generates its request, per spec §6.3. Unknown prefixes are
// an error — detection never defaults silently (spec §9 Design Notes).
func DetectFamily(model string) (Family, error) {
	lower := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(lower, "kimi-") || strings.Contains(lower, "kimi-k2"):
		return FamilyKimi, nil
	case strings.HasPrefix(lower, "gemini-"):
		return FamilyGemini, nil
	case strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1-"):
		return FamilyOpenAI, nil
	case strings.HasPrefix(lower, "claude-"):
		return FamilyAnthropic, nil
	default:
		return "", agenterr.Configuration("no provider matches model \""+model+"\"", "model")
	}
}

// Registry maps canonical model-name prefixes to a concrete Provider,
// letting the Orchestrator dispatch by model name without branching on
// family itself (spec §9's "capability interface" Design Note). Register
// once per process; lookups are read-only thereafter.
type Registry struct {
	byFamily map[Family]Provider
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byFamily: map[Family]Provider{}}
}

// Register associates a Family with the Provider that serves it. A later
// call for the same Family overwrites the earlier one.
func (r *Registry) Register(family Family, p Provider) {
	r.byFamily[family] = p
}

// Resolve detects the family for model and returns its registered
// Provider. Returns a Configuration error if the family is unknown or no
// Provider was registered for it.
func (r *Registry) Resolve(model string) (Provider, error) {
	family, err := DetectFamily(model)
	if err != nil {
		return nil, err
	}
	p, ok := r.byFamily[family]
	if !ok {
		return nil, agenterr.Configuration("no provider registered for family \""+string(family)+"\"", "model")
	}
	return p, nil
}
