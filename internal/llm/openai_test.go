package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func TestOpenAIProvider_Extract_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Content != DefaultPrompt {
			t.Errorf("Expected system prompt followed by the image message, got %+v", req.Messages)
		}
		parts := req.Messages[1].MultiContent
		if len(parts) != 1 || parts[0].ImageURL == nil {
			t.Fatalf("Expected one image part, got %+v", parts)
		}
		if parts[0].ImageURL.URL != "data:image/png;base64,aGVsbG8=" {
			t.Errorf("Unexpected image URL: %s", parts[0].ImageURL.URL)
		}
		if req.MaxTokens != 1024 {
			t.Errorf("Expected max tokens 1024, got %d", req.MaxTokens)
		}

		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    "assistant",
						Content: "```json\n{\"merchant\": \"A\"}\n```",
					},
					FinishReason: "stop",
				},
			},
			Usage: openai.Usage{TotalTokens: 321},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5, MaxTokens: 1024})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Extract(context.Background(), ExtractRequest{ImageBase64: "aGVsbG8=", MediaType: "image/png"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if resp.Content != "```json\n{\"merchant\": \"A\"}\n```" {
		t.Errorf("Expected raw content to be returned untouched, got %q", resp.Content)
	}
	if resp.TokensUsed != 321 {
		t.Errorf("Expected 321 tokens, got %d", resp.TokensUsed)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("Expected model gpt-4o, got %s", resp.Model)
	}
}

func TestOpenAIProvider_Extract_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "bad-key", BaseURL: server.URL, Timeout: 5})

	_, err := provider.Extract(context.Background(), ExtractRequest{ImageBase64: "aGVsbG8="})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Invalid API key") {
		t.Errorf("Expected error to mention the API message, got %v", err)
	}
}

func TestOpenAIProvider_Extract_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{ID: "empty"})
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})

	_, err := provider.Extract(context.Background(), ExtractRequest{ImageBase64: "aGVsbG8="})
	if err == nil || !strings.Contains(err.Error(), "no response") {
		t.Errorf("Expected no response error, got %v", err)
	}
}

func TestOpenAIProvider_Extract_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := provider.Extract(ctx, ExtractRequest{ImageBase64: "aGVsbG8="})
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestNewOpenAIProvider_NoKey(t *testing.T) {
	_, err := NewOpenAIProvider(Config{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
}

func TestOpenAIProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"object": "list", "data": []}`))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected provider to be available")
	}
}
