package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/reconcile/internal/cache"
	"github.com/ppiankov/reconcile/internal/extract"
	"github.com/ppiankov/reconcile/internal/llm"
	"github.com/ppiankov/reconcile/internal/store"
)

// countingProvider answers with fixed content and counts calls
type countingProvider struct {
	name    string
	mu      sync.Mutex
	calls   int
	content string
	err     error
}

func (p *countingProvider) Name() string {
	if p.name != "" {
		return p.name
	}
	return "counting"
}

func (p *countingProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *countingProvider) Extract(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ExtractResponse{Content: p.content, Model: "counting-1"}, nil
}

func (p *countingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingLimiter remembers the keys it was asked to wait on
type recordingLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLimiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return ctx.Err()
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testImage() *Image {
	return &Image{
		Payload:   base64.StdEncoding.EncodeToString(pngHeader),
		MediaType: "image/png",
		Source:    "test",
	}
}

func TestProcess_MockProvider(t *testing.T) {
	p := New(Options{Provider: llm.NewMockProvider()})

	result, err := p.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Strategy != extract.StrategyStrict {
		t.Errorf("expected strict strategy, got %s", result.Strategy)
	}
	if got := result.Receipt.Merchant(); got != "Test Store" {
		t.Errorf("expected merchant Test Store, got %q", got)
	}
	if len(result.Receipt.Items()) != 3 {
		t.Errorf("expected 3 items, got %d", len(result.Receipt.Items()))
	}
	if result.RequestID == "" {
		t.Error("expected a request ID")
	}

	raw, ok := p.RawStore().Load(result.RequestID)
	if !ok {
		t.Fatal("raw response was not kept")
	}
	if raw != result.Raw {
		t.Error("stored raw response differs from result")
	}
}

func TestProcess_TruncatedAnswerFallsBack(t *testing.T) {
	provider := &countingProvider{
		content: "```json\n{\"merchant\": \"Bread Co\", \"total\": \"$4.00\", \"items\": [{\"name\": \"Loaf\", \"qty\": 2}, {\"name\": \"Ro",
	}
	p := New(Options{Provider: provider})

	result, err := p.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Strategy != extract.StrategyFallback {
		t.Fatalf("expected fallback strategy, got %s", result.Strategy)
	}
	if got := result.Receipt.Merchant(); got != "Bread Co" {
		t.Errorf("expected merchant Bread Co, got %q", got)
	}
	if got := result.Receipt.Total(); got != "$4.00" {
		t.Errorf("expected total $4.00, got %q", got)
	}
	if result.Model != "counting-1" {
		t.Errorf("expected model counting-1, got %q", result.Model)
	}
}

func TestProcess_CachesByImage(t *testing.T) {
	provider := &countingProvider{content: `{"merchant": "Cafe", "items": []}`}
	p := New(Options{
		Provider: provider,
		Cache:    cache.NewMemoryCache(time.Minute, time.Minute),
	})

	first, err := p.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	second, err := p.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if provider.Calls() != 1 {
		t.Errorf("expected 1 model call, got %d", provider.Calls())
	}
	if first.Cached || !second.Cached {
		t.Errorf("expected only the second result to be cached, got %v and %v", first.Cached, second.Cached)
	}
	if first.RequestID == second.RequestID {
		t.Error("expected distinct request IDs")
	}
}

func TestProcess_CacheIsScopedToProviderModelAndPrompt(t *testing.T) {
	shared := cache.NewMemoryCache(time.Minute, time.Minute)

	mock := New(Options{Provider: llm.NewMockProvider(), Cache: shared})
	if _, err := mock.Process(context.Background(), testImage()); err != nil {
		t.Fatalf("mock Process failed: %v", err)
	}

	openai := &countingProvider{name: "openai", content: `{"merchant": "Real Market", "items": []}`}
	p := New(Options{Provider: openai, Cache: shared})

	result, err := p.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Cached || openai.Calls() != 1 {
		t.Fatalf("expected a fresh model call, got cached=%v calls=%d", result.Cached, openai.Calls())
	}
	if got := result.Receipt.Merchant(); got != "Real Market" {
		t.Errorf("expected merchant Real Market, got %q", got)
	}

	custom, err := p.WithPrompt("custom").Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Process with prompt failed: %v", err)
	}
	if custom.Cached || openai.Calls() != 2 {
		t.Errorf("expected a changed prompt to miss the cache, got cached=%v calls=%d", custom.Cached, openai.Calls())
	}

	other := New(Options{Provider: openai, Cache: shared, Model: "gpt-4o-mini"})
	if res, err := other.Process(context.Background(), testImage()); err != nil || res.Cached {
		t.Errorf("expected a changed model to miss the cache, got cached=%v err=%v", res != nil && res.Cached, err)
	}

	again, err := p.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("repeat Process failed: %v", err)
	}
	if !again.Cached || again.Receipt.Merchant() != "Real Market" {
		t.Errorf("expected the same configuration to hit its own entry, got cached=%v merchant=%q", again.Cached, again.Receipt.Merchant())
	}
	if openai.Calls() != 3 {
		t.Errorf("expected 3 model calls, got %d", openai.Calls())
	}
}

func TestProcess_TooLarge(t *testing.T) {
	provider := &countingProvider{content: "{}"}
	p := New(Options{Provider: provider, MaxImageBytes: 10})

	img := &Image{Payload: strings.Repeat("A", 100)}
	_, err := p.Process(context.Background(), img)
	if !errors.Is(err, llm.ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
	if provider.Calls() != 0 {
		t.Errorf("expected no model call, got %d", provider.Calls())
	}
}

func TestProcess_ModelUnavailable(t *testing.T) {
	provider := &countingProvider{err: errors.New("503 from upstream")}
	p := New(Options{
		Provider: provider,
		Retry:    llm.RetryPolicy{MaxAttempts: 2},
	})

	_, err := p.Process(context.Background(), testImage())
	if !errors.Is(err, llm.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if provider.Calls() != 2 {
		t.Errorf("expected 2 attempts, got %d", provider.Calls())
	}
}

func TestProcess_WaitsOnProviderLimiter(t *testing.T) {
	limiter := &recordingLimiter{}
	p := New(Options{Provider: &countingProvider{content: "{}"}, Limiter: limiter})

	if _, err := p.Process(context.Background(), testImage()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(limiter.keys) != 1 || limiter.keys[0] != "counting" {
		t.Errorf("expected one wait on key counting, got %v", limiter.keys)
	}
}

func TestProcess_AutoSave(t *testing.T) {
	dir := t.TempDir()
	p := New(Options{
		Provider: llm.NewMockProvider(),
		Store:    store.New(dir),
	})

	unsaved, err := p.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if unsaved.Saved != nil {
		t.Error("expected no save without AutoSave")
	}

	saving := p.WithAutoSave(true)
	first, err := saving.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if first.Saved == nil || first.Saved.ReceiptID != 1 || first.Saved.Duplicate {
		t.Fatalf("expected new receipt 1, got %+v", first.Saved)
	}

	second, err := saving.Process(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if second.Saved == nil || !second.Saved.Duplicate || second.Saved.ReceiptID != 1 {
		t.Errorf("expected duplicate of receipt 1, got %+v", second.Saved)
	}
}

func TestScan_DataURL(t *testing.T) {
	p := New(Options{Provider: llm.NewMockProvider()})

	source := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	result, err := p.Scan(context.Background(), source)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Source != "data-url" {
		t.Errorf("expected data-url source, got %q", result.Source)
	}
}

func TestParseText(t *testing.T) {
	p := New(Options{Provider: llm.NewMockProvider()})

	result := p.ParseText("Sure! ```json\n{\"merchant\": \"Deli\", \"items\": []}\n```")
	if result.Strategy != extract.StrategyStrict {
		t.Errorf("expected strict strategy, got %s", result.Strategy)
	}
	if got := result.Receipt.Merchant(); got != "Deli" {
		t.Errorf("expected merchant Deli, got %q", got)
	}
	if _, ok := p.RawStore().Load(result.RequestID); !ok {
		t.Error("raw text was not kept")
	}
}
