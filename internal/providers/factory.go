package providers

import (
	"fmt"

	"github.com/orchard-sh/orchard/internal/config"
)

// FromConfig builds the provider named in the orchestrator settings from
// the configured credentials.
func FromConfig(name string, cfg config.ProvidersConfig) (Provider, error) {
	switch name {
	case "", "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic: no API key configured")
		}
		var opts []AnthropicOption
		if cfg.Anthropic.Model != "" {
			opts = append(opts, WithAnthropicModel(cfg.Anthropic.Model))
		}
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.Anthropic.BaseURL))
		}
		return NewAnthropicProvider(cfg.Anthropic.APIKey, opts...), nil

	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai: no API key configured")
		}
		model := cfg.OpenAI.Model
		if model == "" {
			model = "gpt-4o"
		}
		return NewOpenAIProvider("openai", cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, model), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
