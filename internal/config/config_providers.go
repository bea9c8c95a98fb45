package config

import "time"

// AnthropicProviderConfig mirrors provider.AnthropicConfig.
type AnthropicProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// OpenAIProviderConfig mirrors provider.OpenAIConfig.
type OpenAIProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// BedrockProviderConfig mirrors provider.BedrockConfig.
type BedrockProviderConfig struct {
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	SessionToken    string        `yaml:"session_token"`
	DefaultModel    string        `yaml:"default_model"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// GoogleProviderConfig mirrors provider.GoogleConfig.
type GoogleProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// ProvidersConfig configures the provider registry: which backends are
// enabled and which one Default names for capability resolution fallback.
type ProvidersConfig struct {
	Default string `yaml:"default"`

	Anthropic *AnthropicProviderConfig `yaml:"anthropic,omitempty"`
	OpenAI    *OpenAIProviderConfig    `yaml:"openai,omitempty"`
	Bedrock   *BedrockProviderConfig   `yaml:"bedrock,omitempty"`
	Google    *GoogleProviderConfig    `yaml:"google,omitempty"`
}

// byName returns the set of configured provider names, for validating
// Default against.
func (p *ProvidersConfig) byName() map[string]bool {
	names := map[string]bool{}
	if p.Anthropic != nil {
		names["anthropic"] = true
	}
	if p.OpenAI != nil {
		names["openai"] = true
	}
	if p.Bedrock != nil {
		names["bedrock"] = true
	}
	if p.Google != nil {
		names["google"] = true
	}
	return names
}

func applyProvidersDefaults(cfg *ProvidersConfig) {
	if cfg.Anthropic != nil {
		if cfg.Anthropic.DefaultModel == "" {
			cfg.Anthropic.DefaultModel = "claude-3-5-sonnet-20241022"
		}
		if cfg.Anthropic.MaxRetries == 0 {
			cfg.Anthropic.MaxRetries = 3
		}
		if cfg.Anthropic.RetryDelay == 0 {
			cfg.Anthropic.RetryDelay = time.Second
		}
	}
	if cfg.OpenAI != nil {
		if cfg.OpenAI.DefaultModel == "" {
			cfg.OpenAI.DefaultModel = "gpt-4o"
		}
		if cfg.OpenAI.MaxRetries == 0 {
			cfg.OpenAI.MaxRetries = 3
		}
		if cfg.OpenAI.RetryDelay == 0 {
			cfg.OpenAI.RetryDelay = time.Second
		}
	}
	if cfg.Bedrock != nil {
		if cfg.Bedrock.Region == "" {
			cfg.Bedrock.Region = "us-east-1"
		}
		if cfg.Bedrock.DefaultModel == "" {
			cfg.Bedrock.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
		}
		if cfg.Bedrock.MaxRetries == 0 {
			cfg.Bedrock.MaxRetries = 3
		}
		if cfg.Bedrock.RetryDelay == 0 {
			cfg.Bedrock.RetryDelay = time.Second
		}
	}
	if cfg.Google != nil {
		if cfg.Google.DefaultModel == "" {
			cfg.Google.DefaultModel = "gemini-2.0-flash"
		}
		if cfg.Google.MaxRetries == 0 {
			cfg.Google.MaxRetries = 3
		}
		if cfg.Google.RetryDelay == 0 {
			cfg.Google.RetryDelay = time.Second
		}
	}
}
