package factories

import (
	"errors"

	"convoscript/core"
	"convoscript/services/openai/foundry"
)

// ProviderFactoryConfig holds provider-specific configs for the capability
// provider. Set exactly one provider config; the rest should be left nil.
// Every provider speaks the OpenAI-compatible protocol and is served by the
// same foundry provider with a different base URL and default models.
type ProviderFactoryConfig struct {
	FoundryConfig    *foundry.Config `json:"foundry,omitempty"`
	OpenAIConfig     *foundry.Config `json:"openai,omitempty"`
	TogetherConfig   *foundry.Config `json:"together,omitempty"`
	GroqConfig       *foundry.Config `json:"groq,omitempty"`
	DeepSeekConfig   *foundry.Config `json:"deepseek,omitempty"`
	OpenRouterConfig *foundry.Config `json:"openrouter,omitempty"`
	FireworksConfig  *foundry.Config `json:"fireworks,omitempty"`
	CerebrasConfig   *foundry.Config `json:"cerebras,omitempty"`
	XAIConfig        *foundry.Config `json:"xai,omitempty"`
	MistralConfig    *foundry.Config `json:"mistral,omitempty"`
	PerplexityConfig *foundry.Config `json:"perplexity,omitempty"`
}

// Default base URLs for OpenAI-compatible providers.
const (
	openaiBaseURL     = "https://api.openai.com/v1"
	togetherBaseURL   = "https://api.together.xyz/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	deepseekBaseURL   = "https://api.deepseek.com/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
	fireworksBaseURL  = "https://api.fireworks.ai/inference/v1"
	cerebrasBaseURL   = "https://api.cerebras.ai/v1"
	xaiBaseURL        = "https://api.x.ai/v1"
	mistralBaseURL    = "https://api.mistral.ai/v1"
	perplexityBaseURL = "https://api.perplexity.ai"
)

// DefaultProviderFactoryConfig selects the foundry server with its defaults.
func DefaultProviderFactoryConfig() ProviderFactoryConfig {
	return ProviderFactoryConfig{FoundryConfig: &foundry.Config{}}
}

// APIKeys holds credentials for capability providers, loaded from the
// environment so they stay out of settings files.
type APIKeys struct {
	Foundry    string
	OpenAI     string
	Together   string
	Groq       string
	DeepSeek   string
	OpenRouter string
	Fireworks  string
	Cerebras   string
	XAI        string
	Mistral    string
	Perplexity string
}

// InjectAPIKeys applies credentials only where the config has none, so keys
// already set in the settings file are preserved.
func (c *ProviderFactoryConfig) InjectAPIKeys(keys APIKeys) {
	inject := func(cfg *foundry.Config, key string) {
		if cfg != nil && cfg.APIKey == "" {
			cfg.APIKey = key
		}
	}
	inject(c.FoundryConfig, keys.Foundry)
	inject(c.OpenAIConfig, keys.OpenAI)
	inject(c.TogetherConfig, keys.Together)
	inject(c.GroqConfig, keys.Groq)
	inject(c.DeepSeekConfig, keys.DeepSeek)
	inject(c.OpenRouterConfig, keys.OpenRouter)
	inject(c.FireworksConfig, keys.Fireworks)
	inject(c.CerebrasConfig, keys.Cerebras)
	inject(c.XAIConfig, keys.XAI)
	inject(c.MistralConfig, keys.Mistral)
	inject(c.PerplexityConfig, keys.Perplexity)
}

// APIKey returns the key of the selected provider, or "".
func (c ProviderFactoryConfig) APIKey() string {
	if cfg := c.selected(); cfg != nil {
		return cfg.APIKey
	}
	return ""
}

func (c ProviderFactoryConfig) selected() *foundry.Config {
	for _, cfg := range []*foundry.Config{
		c.FoundryConfig, c.OpenAIConfig, c.TogetherConfig, c.GroqConfig,
		c.DeepSeekConfig, c.OpenRouterConfig, c.FireworksConfig, c.CerebrasConfig,
		c.XAIConfig, c.MistralConfig, c.PerplexityConfig,
	} {
		if cfg != nil {
			return cfg
		}
	}
	return nil
}

// BuildProvider constructs the capability provider from the given factory
// config. Exactly one provider config must be non-nil.
func BuildProvider(config ProviderFactoryConfig, logger *core.Logger) (*foundry.Foundry, error) {
	if config.FoundryConfig != nil {
		return foundry.New(*config.FoundryConfig, logger), nil
	}
	if config.OpenAIConfig != nil {
		cfg := *config.OpenAIConfig
		if cfg.VisionModel == "" {
			cfg.VisionModel = "gpt-4o-mini"
		}
		if cfg.TranscriptionModel == "" {
			cfg.TranscriptionModel = "whisper-1"
		}
		if cfg.ImageModel == "" {
			cfg.ImageModel = "dall-e-2"
		}
		return buildOpenAICompatible(cfg, openaiBaseURL, "gpt-4o-mini", logger), nil
	}
	if config.TogetherConfig != nil {
		return buildOpenAICompatible(*config.TogetherConfig, togetherBaseURL, "meta-llama/Llama-3.3-70B-Instruct-Turbo", logger), nil
	}
	if config.GroqConfig != nil {
		cfg := *config.GroqConfig
		if cfg.TranscriptionModel == "" {
			cfg.TranscriptionModel = "whisper-large-v3"
		}
		return buildOpenAICompatible(cfg, groqBaseURL, "llama-3.3-70b-versatile", logger), nil
	}
	if config.DeepSeekConfig != nil {
		return buildOpenAICompatible(*config.DeepSeekConfig, deepseekBaseURL, "deepseek-chat", logger), nil
	}
	if config.OpenRouterConfig != nil {
		return buildOpenAICompatible(*config.OpenRouterConfig, openrouterBaseURL, "openai/gpt-4o", logger), nil
	}
	if config.FireworksConfig != nil {
		return buildOpenAICompatible(*config.FireworksConfig, fireworksBaseURL, "accounts/fireworks/models/llama-v3p3-70b-instruct", logger), nil
	}
	if config.CerebrasConfig != nil {
		return buildOpenAICompatible(*config.CerebrasConfig, cerebrasBaseURL, "llama-3.3-70b", logger), nil
	}
	if config.XAIConfig != nil {
		return buildOpenAICompatible(*config.XAIConfig, xaiBaseURL, "grok-3", logger), nil
	}
	if config.MistralConfig != nil {
		return buildOpenAICompatible(*config.MistralConfig, mistralBaseURL, "mistral-large-latest", logger), nil
	}
	if config.PerplexityConfig != nil {
		return buildOpenAICompatible(*config.PerplexityConfig, perplexityBaseURL, "sonar-pro", logger), nil
	}
	return nil, errors.New("ProviderFactoryConfig: no provider config specified")
}

// buildOpenAICompatible creates a provider for an OpenAI-compatible server,
// applying the default base URL and text model if not explicitly set.
func buildOpenAICompatible(cfg foundry.Config, defaultBaseURL, defaultModel string, logger *core.Logger) *foundry.Foundry {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TextModel == "" {
		cfg.TextModel = defaultModel
	}
	return foundry.New(cfg, logger)
}
