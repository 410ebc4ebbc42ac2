package llm

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned when a hosted provider is configured without a key
var ErrNoAPIKey = errors.New("API key is required")

// Provider defines the interface for vision model providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Extract sends a receipt image to the model and returns its raw text
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// ExtractRequest contains one receipt image and how to ask about it
type ExtractRequest struct {
	// ImageBase64 is the image payload without a data URL prefix
	ImageBase64 string

	// MediaType is the image MIME type (defaults to image/jpeg)
	MediaType string

	// Prompt is the system prompt (if empty, DefaultPrompt is used)
	Prompt string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// ExtractResponse is the model's unprocessed answer
type ExtractResponse struct {
	// Content is the raw model output, handed to the recovery parser as is
	Content string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "mistral", "anthropic", "ollama", "mock"
	Provider string

	// Model name (provider-specific)
	Model string

	// OCRModel is the Mistral OCR model used before the chat call
	OCRModel string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		Timeout:   60,
		MaxTokens: 1024,
	}
}

// DefaultPrompt instructs the model to answer with a single receipt object
const DefaultPrompt = `You are a receipt transcription assistant. Read the receipt image and answer with a single JSON object and nothing else.

Use exactly these keys:
- "merchant": store name as printed
- "address": store address as printed
- "date": purchase date as printed
- "receipt_id": receipt or transaction number, "" if absent
- "tax": tax amount as printed, "" if absent
- "total": grand total as printed, including the currency symbol
- "items": array of line items, each with "name", "qty" (integer, 1 if not printed), "unit_price" and "total_price" (strings, as printed)

Do not invent values. Use "" for any field you cannot read.`

func (r ExtractRequest) prompt() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	return DefaultPrompt
}

func (r ExtractRequest) mediaType() string {
	if r.MediaType != "" {
		return r.MediaType
	}
	return "image/jpeg"
}

// model resolves the request model, then the configured one, then fallback
func (r ExtractRequest) model(cfg Config, fallback string) string {
	if r.Model != "" {
		return r.Model
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return fallback
}

func (r ExtractRequest) maxTokens(cfg Config) int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 1024
}
