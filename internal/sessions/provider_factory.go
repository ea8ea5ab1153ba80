package sessions

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
	"github.com/nextlevelbuilder/aobot-gateway/internal/providers"
)

const defaultProviderName = "anthropic"

// buildProvider resolves a provider-prefixed model id such as
// "anthropic/claude-sonnet-4" or "openai/gpt-4o" into a concrete Provider
// bound to the credentials configured for that provider. A bare model id
// with no "/" is treated as anthropic, matching the default agent's model.
// retryCfg carries the operator's configured backoff policy through to the
// constructed provider, replacing its built-in default.
func buildProvider(modelID string, providersCfg config.ProvidersConfig, retryCfg providers.RetryConfig) (providers.Provider, string, error) {
	name, model, ok := strings.Cut(modelID, "/")
	if !ok {
		name, model = defaultProviderName, modelID
	}

	switch name {
	case "anthropic":
		if providersCfg.Anthropic.APIKey == "" {
			return nil, "", fmt.Errorf("no anthropic API key configured")
		}
		opts := []providers.AnthropicOption{
			providers.WithAnthropicModel(model),
			providers.WithAnthropicRetryConfig(retryCfg),
		}
		if providersCfg.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(providersCfg.Anthropic.APIBase))
		}
		return providers.NewAnthropicProvider(providersCfg.Anthropic.APIKey, opts...), model, nil
	case "openai":
		if providersCfg.OpenAI.APIKey == "" {
			return nil, "", fmt.Errorf("no openai API key configured")
		}
		return providers.NewOpenAIProvider("openai", providersCfg.OpenAI.APIKey, providersCfg.OpenAI.APIBase, model,
			providers.WithOpenAIRetryConfig(retryCfg)), model, nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q in model id %q", name, modelID)
	}
}

// resolveRetryConfig converts the gateway's configured retry policy into the
// providers package's shape.
func resolveRetryConfig(retryCfg config.RetryConfig) providers.RetryConfig {
	enabled, maxRetries, baseDelayMS, maxDelayMS := retryCfg.ToProviderRetryConfig()
	return providers.RetryConfig{
		Enabled:     enabled,
		MaxRetries:  maxRetries,
		BaseDelayMS: baseDelayMS,
		MaxDelayMS:  maxDelayMS,
	}
}
