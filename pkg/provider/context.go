package provider

import "context"

type contextKey string

const apiKeyOverrideKey contextKey = "provider-api-key-override"

// WithAPIKeyOverride returns a context carrying a per-request API key that
// takes precedence over an Adapter's own configured key. Grounded on the
// teacher's pkg/harness/context.go WithProviderKey/ProviderKey, generalized
// from the Harness layer to the Provider layer so per-call key overrides
// (e.g. a caller-supplied BYOK credential) can reach an adapter without
// threading a new parameter through every Provider method.
func WithAPIKeyOverride(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyOverrideKey, key)
}

// APIKeyOverride extracts the per-request API key override from ctx, if any.
func APIKeyOverride(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyOverrideKey).(string)
	return key, ok && key != ""
}
