package llm

import (
	"context"
	"encoding/json"
)

// mockReceipt is returned by the mock provider for every image
var mockReceipt = map[string]any{
	"merchant": "Test Store",
	"address":  "123 Test Street, Test City",
	"date":     "2025-04-18",
	"total":    "$42.99",
	"items": []map[string]any{
		{"name": "Test Item 1", "qty": 2, "unit_price": "$10.99", "total_price": "$21.98"},
		{"name": "Test Item 2", "qty": 1, "unit_price": "$15.99", "total_price": "$15.99"},
		{"name": "Test Item 3", "qty": 1, "unit_price": "$5.02", "total_price": "$5.02"},
	},
}

// MockProvider answers with a fixed receipt without any network access.
// Content can be overridden to exercise the parser with arbitrary output.
type MockProvider struct {
	Content string
}

// NewMockProvider creates a mock provider with the canned receipt
func NewMockProvider() *MockProvider {
	data, _ := json.MarshalIndent(mockReceipt, "", "  ")
	return &MockProvider{Content: string(data)}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// IsAvailable always reports true
func (p *MockProvider) IsAvailable(ctx context.Context) bool {
	return true
}

// Extract returns the canned content
func (p *MockProvider) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ExtractResponse{
		Content:    p.Content,
		Model:      "mock",
		TokensUsed: 0,
	}, nil
}
