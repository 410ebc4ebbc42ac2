package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/reconcile/internal/cache"
	"github.com/ppiankov/reconcile/internal/extract"
	"github.com/ppiankov/reconcile/internal/llm"
	"github.com/ppiankov/reconcile/internal/logger"
	"github.com/ppiankov/reconcile/internal/metrics"
	"github.com/ppiankov/reconcile/internal/model"
	"github.com/ppiankov/reconcile/internal/store"
	"github.com/ppiankov/reconcile/internal/util"
	"github.com/ppiankov/reconcile/internal/validate"
)

// RateLimiter throttles model calls per provider
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

// Options wires the pipeline's collaborators. Only Provider is required.
type Options struct {
	Provider llm.Provider
	Parser   *extract.Parser
	Fetcher  *Fetcher

	// Cache maps image hashes to raw model responses
	Cache    cache.Cache
	CacheTTL time.Duration

	// Raw keeps every raw response by request ID
	Raw *cache.RawStore

	// Store, with AutoSave, receives every parsed receipt
	Store    *store.Store
	AutoSave bool

	Limiter       RateLimiter
	Retry         llm.RetryPolicy
	MaxImageBytes int
	Prompt        string
	Model         string
	MaxTokens     int

	Logger logger.Logger
}

// Pipeline turns a receipt image into a recovered receipt: load, ask the
// model, keep the raw answer, parse, and optionally persist
type Pipeline struct {
	opts Options
}

// New creates a pipeline, filling unset collaborators with in-memory defaults
func New(opts Options) *Pipeline {
	if opts.Parser == nil {
		opts.Parser = extract.NewParser(extract.Options{})
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(30*time.Second, "reconcile", int64(opts.MaxImageBytes), util.ProxySettings{})
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopCache{}
	}
	if opts.Raw == nil {
		opts.Raw = cache.NewRawStore(cache.NewMemoryCache(24*time.Hour, 10*time.Minute), 0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	return &Pipeline{opts: opts}
}

// NewFromConfig builds a pipeline from application configuration. The
// image cache and the raw store share the configured cache backend.
func NewFromConfig(cfg *model.Config, provider llm.Provider, limiter RateLimiter, log logger.Logger) (*Pipeline, error) {
	backend, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	var checker extract.ShapeChecker
	if cfg.Parse.Validate {
		schema, err := validate.NewSchemaChecker()
		if err != nil {
			return nil, err
		}
		checker = schema
	}

	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute

	fetcher := NewFetcher(time.Duration(cfg.HTTP.Timeout)*time.Second, cfg.HTTP.UserAgent, int64(cfg.Limits.MaxImageBytes), util.ProxySettings{
		HTTPProxy:  cfg.HTTP.HTTPProxy,
		HTTPSProxy: cfg.HTTP.HTTPSProxy,
		NoProxy:    cfg.HTTP.NoProxy,
	})
	if cfg.HTTP.RespectRobots {
		fetcher = fetcher.WithRobots()
	}

	return New(Options{
		Provider: provider,
		Parser:   extract.NewParser(extract.Options{Repair: cfg.Parse.Repair, Checker: checker}),
		Fetcher:  fetcher,
		Cache:    backend,
		CacheTTL: ttl,
		Raw:      cache.NewRawStore(backend, ttl),
		Store:    store.New(cfg.Store.Dir),
		Limiter:  limiter,
		Retry: llm.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       time.Duration(cfg.Retry.DelayMillis) * time.Millisecond,
		},
		Model:         cfg.LLM.Model,
		MaxImageBytes: cfg.Limits.MaxImageBytes,
		MaxTokens:     cfg.LLM.MaxTokens,
		Logger:        log,
	}), nil
}

// Result is the outcome of one scan
type Result struct {
	RequestID string            `json:"request_id"`
	Source    string            `json:"source,omitempty"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model,omitempty"`
	Cached    bool              `json:"cached"`
	Strategy  extract.Strategy  `json:"strategy"`
	Receipt   model.Receipt     `json:"data"`
	Warnings  []string          `json:"warnings,omitempty"`
	Raw       string            `json:"raw_response"`
	Saved     *store.SaveResult `json:"saved,omitempty"`
	Duration  time.Duration     `json:"duration_ns"`
}

// Provider returns the model provider in use
func (p *Pipeline) Provider() llm.Provider {
	return p.opts.Provider
}

// RawStore returns the raw response store
func (p *Pipeline) RawStore() *cache.RawStore {
	return p.opts.Raw
}

// Store returns the receipt store (nil when not configured)
func (p *Pipeline) Store() *store.Store {
	return p.opts.Store
}

// Parser returns the recovery parser
func (p *Pipeline) Parser() *extract.Parser {
	return p.opts.Parser
}

// WithAutoSave returns a copy of the pipeline that persists receipts
func (p *Pipeline) WithAutoSave(save bool) *Pipeline {
	opts := p.opts
	opts.AutoSave = save
	return &Pipeline{opts: opts}
}

// WithPrompt returns a copy of the pipeline that sends prompt instead of
// the default instructions
func (p *Pipeline) WithPrompt(prompt string) *Pipeline {
	opts := p.opts
	opts.Prompt = prompt
	return &Pipeline{opts: opts}
}

// Scan loads the image named by source and processes it
func (p *Pipeline) Scan(ctx context.Context, source string) (*Result, error) {
	img, err := p.opts.Fetcher.Load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	return p.Process(ctx, img)
}

// Process sends img to the model and recovers a receipt from the answer.
// Oversize images fail with llm.ErrImageTooLarge, exhausted retries with
// llm.ErrModelUnavailable. Unparseable answers are not errors.
func (p *Pipeline) Process(ctx context.Context, img *Image) (*Result, error) {
	start := time.Now()

	if err := llm.CheckSize(img.Payload, p.opts.MaxImageBytes); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	log := p.opts.Logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"provider":   p.opts.Provider.Name(),
	})

	raw, modelName, cached, err := p.extract(ctx, img, log)
	if err != nil {
		return nil, err
	}

	if err := p.opts.Raw.Save(requestID, raw); err != nil {
		log.Warn("failed to keep raw response", map[string]interface{}{"error": err.Error()})
	}

	parsed := p.opts.Parser.Parse(raw)
	items := len(parsed.Receipt.Items())
	metrics.ParseTotal.WithLabelValues(string(parsed.Strategy)).Inc()
	metrics.ItemsRecovered.Observe(float64(items))

	result := &Result{
		RequestID: requestID,
		Source:    img.Source,
		Provider:  p.opts.Provider.Name(),
		Model:     modelName,
		Cached:    cached,
		Strategy:  parsed.Strategy,
		Receipt:   parsed.Receipt,
		Warnings:  parsed.Warnings,
		Raw:       raw,
	}

	if p.opts.AutoSave && p.opts.Store != nil {
		saved, err := p.opts.Store.Save(parsed.Receipt)
		if err != nil {
			return nil, fmt.Errorf("save receipt: %w", err)
		}
		result.Saved = saved
	}

	result.Duration = time.Since(start)

	log.Info("receipt processed", map[string]interface{}{
		"strategy": string(parsed.Strategy),
		"items":    items,
		"cached":   cached,
		"warnings": len(parsed.Warnings),
		"duration": result.Duration.String(),
	})

	return result, nil
}

// ParseText runs only the recovery parser and keeps the raw text under a
// new request ID
func (p *Pipeline) ParseText(raw string) *Result {
	requestID := uuid.NewString()
	if err := p.opts.Raw.Save(requestID, raw); err != nil {
		p.opts.Logger.Warn("failed to keep raw response", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
	}

	parsed := p.opts.Parser.Parse(raw)
	metrics.ParseTotal.WithLabelValues(string(parsed.Strategy)).Inc()
	metrics.ItemsRecovered.Observe(float64(len(parsed.Receipt.Items())))

	return &Result{
		RequestID: requestID,
		Provider:  "none",
		Strategy:  parsed.Strategy,
		Receipt:   parsed.Receipt,
		Warnings:  parsed.Warnings,
		Raw:       raw,
	}
}

// extract returns the raw model answer for img, from cache when possible
func (p *Pipeline) extract(ctx context.Context, img *Image, log logger.Logger) (raw, modelName string, cached bool, err error) {
	provider := p.opts.Provider
	prompt := p.opts.Prompt
	if prompt == "" {
		prompt = llm.DefaultPrompt
	}
	key := cache.ImageKey(img.Payload, provider.Name(), p.opts.Model, prompt)

	if data, ok := p.opts.Cache.Get(key); ok {
		metrics.ModelRequests.WithLabelValues(provider.Name(), "cached").Inc()
		log.Debug("model response served from cache", nil)
		return string(data), "", true, nil
	}

	if p.opts.Limiter != nil {
		if err := p.opts.Limiter.Wait(ctx, provider.Name()); err != nil {
			return "", "", false, fmt.Errorf("rate limit: %w", err)
		}
	}

	req := llm.ExtractRequest{
		ImageBase64: img.Payload,
		MediaType:   img.MediaType,
		Prompt:      p.opts.Prompt,
		Model:       p.opts.Model,
		MaxTokens:   p.opts.MaxTokens,
	}

	start := time.Now()
	resp, err := llm.ExtractWithRetry(ctx, provider, req, p.opts.Retry, func(attempt int, err error) {
		log.Warn("model request failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
	})
	metrics.ModelRequestDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ModelRequests.WithLabelValues(provider.Name(), "error").Inc()
		log.Error("model request failed", map[string]interface{}{"error": err.Error()})
		return "", "", false, err
	}
	metrics.ModelRequests.WithLabelValues(provider.Name(), "success").Inc()

	if err := p.opts.Cache.Set(key, []byte(resp.Content), p.opts.CacheTTL); err != nil {
		log.Warn("failed to cache model response", map[string]interface{}{"error": err.Error()})
	}

	log.Debug("model response received", map[string]interface{}{
		"model":  resp.Model,
		"tokens": resp.TokensUsed,
		"bytes":  len(resp.Content),
	})

	return resp.Content, resp.Model, false, nil
}
