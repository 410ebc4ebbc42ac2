package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/reconcile/internal/model"
)

// NewProvider creates a provider based on configuration. The placeholder
// key model.MockAPIKey selects the mock provider regardless of name.
func NewProvider(config Config) (Provider, error) {
	if config.APIKey == model.MockAPIKey {
		return NewMockProvider(), nil
	}

	switch strings.ToLower(config.Provider) {
	case "openai", "":
		return NewOpenAIProvider(config)

	case "mistral":
		return NewMistralProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "mock":
		return NewMockProvider(), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, mistral, anthropic, ollama, mock)", config.Provider)
	}
}

// ConfigFromModel converts the application configuration into llm.Config
func ConfigFromModel(llmConfig model.LLMConfig, httpConfig model.HTTPConfig) Config {
	return Config{
		Provider:   llmConfig.Provider,
		Model:      llmConfig.Model,
		OCRModel:   llmConfig.OCRModel,
		APIKey:     llmConfig.APIKey,
		BaseURL:    llmConfig.BaseURL,
		Timeout:    llmConfig.Timeout,
		MaxTokens:  llmConfig.MaxTokens,
		HTTPProxy:  httpConfig.HTTPProxy,
		HTTPSProxy: httpConfig.HTTPSProxy,
		NoProxy:    httpConfig.NoProxy,
	}
}
