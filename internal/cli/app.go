package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ppiankov/reconcile/internal/llm"
	"github.com/ppiankov/reconcile/internal/logger"
	"github.com/ppiankov/reconcile/internal/model"
	"github.com/ppiankov/reconcile/internal/pipeline"
	"github.com/ppiankov/reconcile/internal/secrets"
	"github.com/ppiankov/reconcile/internal/worker"
)

// loadConfig resolves the effective configuration from flags, environment,
// config file and defaults
func loadConfig() (*model.Config, error) {
	cfg, err := model.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if verbose && cfg.Log.Level == "info" {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// resolveAPIKey fills the API key from Secrets Manager when a secret id is
// configured and no key was given directly
func resolveAPIKey(ctx context.Context, cfg *model.Config) error {
	if cfg.LLM.APIKey != "" || cfg.LLM.APIKeySecret == "" {
		return nil
	}

	resolver, err := secrets.NewAWSResolver(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		return err
	}

	key, err := resolver.APIKey(ctx, cfg.LLM.APIKeySecret)
	if err != nil {
		return fmt.Errorf("resolve API key: %w", err)
	}
	cfg.LLM.APIKey = key
	return nil
}

// buildPipeline wires provider, limiter, cache and store from cfg
func buildPipeline(ctx context.Context, cfg *model.Config, log logger.Logger) (*pipeline.Pipeline, error) {
	if err := resolveAPIKey(ctx, cfg); err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)

	p, err := pipeline.NewFromConfig(cfg, provider, limiter, log)
	if err != nil {
		return nil, err
	}

	if cfg.LLM.PromptFile != "" {
		prompt, err := os.ReadFile(cfg.LLM.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		p = p.WithPrompt(strings.TrimSpace(string(prompt)))
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Provider: %s", provider.Name())
		if cfg.LLM.Model != "" {
			fmt.Fprintf(os.Stderr, " (%s)", cfg.LLM.Model)
		}
		fmt.Fprintf(os.Stderr, "\nCache: %s\nStore: %s\n\n", cfg.Cache.Backend, cfg.Store.Dir)
	}

	return p, nil
}

func newLogger(cfg *model.Config) logger.Logger {
	return logger.NewStructured(cfg.Log.Level, cfg.Log.Format)
}
