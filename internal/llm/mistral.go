package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/reconcile/internal/util"
	"github.com/sashabaranov/go-openai"
)

const mistralBaseURL = "https://api.mistral.ai"

// MistralProvider runs Mistral OCR on the image and then structures the
// recognised text with a Mistral chat model
type MistralProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	chat       *openai.Client
	config     Config
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralOCRResponse struct {
	Model string `json:"model"`
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

type mistralError struct {
	Message string `json:"message"`
	Detail  any    `json:"detail"`
}

// NewMistralProvider creates a new Mistral provider
func NewMistralProvider(config Config) (*MistralProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("mistral: %w", ErrNoAPIKey)
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = mistralBaseURL
	}

	httpClient := util.NewHTTPClient(requestTimeout(config, 60*time.Second), util.ProxySettings{
		HTTPProxy:  config.HTTPProxy,
		HTTPSProxy: config.HTTPSProxy,
		NoProxy:    config.NoProxy,
	})

	// Mistral's chat endpoint is OpenAI compatible
	chatConfig := openai.DefaultConfig(config.APIKey)
	chatConfig.BaseURL = baseURL + "/v1"
	chatConfig.HTTPClient = httpClient

	return &MistralProvider{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		chat:       openai.NewClientWithConfig(chatConfig),
		config:     config,
	}, nil
}

// Name returns the provider name
func (p *MistralProvider) Name() string {
	return "mistral"
}

// IsAvailable checks if the provider is properly configured
func (p *MistralProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.chat.ListModels(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Mistral API check failed: %v\n", err)
		return false
	}
	return true
}

// Extract transcribes the image with OCR, then asks the chat model to
// turn the transcription into a receipt object
func (p *MistralProvider) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	text, err := p.ocr(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mistral OCR error: %w", err)
	}

	model := req.model(p.config, "mistral-large-latest")

	resp, err := p.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.prompt()},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Here is the OCR text from a receipt:\n\n" + text + "\n\nPlease extract and structure this data as JSON.",
			},
		},
		MaxTokens:   req.maxTokens(p.config),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("mistral chat error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from Mistral")
	}

	return &ExtractResponse{
		Content:    strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// ocr returns the markdown of every recognised page joined by blank lines
func (p *MistralProvider) ocr(ctx context.Context, req ExtractRequest) (string, error) {
	ocrModel := p.config.OCRModel
	if ocrModel == "" {
		ocrModel = "mistral-ocr-latest"
	}

	body, err := json.Marshal(mistralOCRRequest{
		Model: ocrModel,
		Document: mistralOCRDocument{
			Type:     "image_url",
			ImageURL: DataURL(req.ImageBase64, req.mediaType()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr mistralError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", httpResp.StatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp mistralOCRResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	pages := make([]string, 0, len(resp.Pages))
	for _, page := range resp.Pages {
		pages = append(pages, page.Markdown)
	}
	return strings.Join(pages, "\n\n"), nil
}
