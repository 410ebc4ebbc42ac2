package model

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every configuration environment variable
const EnvPrefix = "RECONCILE"

// MockAPIKey selects the canned mock provider when used as an API key
const MockAPIKey = "dummy_key_for_testing"

// Config is the complete reconcile configuration
type Config struct {
	LLM          LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Parse        ParseConfig       `mapstructure:"parse" yaml:"parse"`
	Retry        RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Limits       LimitsConfig      `mapstructure:"limits" yaml:"limits"`
	Cache        CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Store        StoreConfig       `mapstructure:"store" yaml:"store"`
	Server       ServerConfig      `mapstructure:"server" yaml:"server"`
	Concurrency  ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
	RateLimiting RateLimitConfig   `mapstructure:"rate_limiting" yaml:"rate_limiting"`
	Log          LogConfig         `mapstructure:"log" yaml:"log"`
	HTTP         HTTPConfig        `mapstructure:"http" yaml:"http"`
}

// LLMConfig selects and tunes the model provider
type LLMConfig struct {
	Provider     string `mapstructure:"provider" yaml:"provider"` // openai, mistral, anthropic, ollama, mock
	Model        string `mapstructure:"model" yaml:"model"`
	OCRModel     string `mapstructure:"ocr_model" yaml:"ocr_model"` // mistral only
	APIKey       string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeySecret string `mapstructure:"api_key_secret" yaml:"api_key_secret,omitempty"` // AWS Secrets Manager id
	BaseURL      string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout      int    `mapstructure:"timeout" yaml:"timeout"` // seconds
	MaxTokens    int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	PromptFile   string `mapstructure:"prompt_file" yaml:"prompt_file,omitempty"`
}

// ParseConfig tunes the recovery parser
type ParseConfig struct {
	Repair   bool `mapstructure:"repair" yaml:"repair"`
	Validate bool `mapstructure:"validate" yaml:"validate"`
}

// RetryConfig controls model call retries
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	DelayMillis int `mapstructure:"delay_ms" yaml:"delay_ms"`
}

// LimitsConfig bounds request inputs
type LimitsConfig struct {
	MaxImageBytes int `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
}

// CacheConfig configures the result cache and raw response store
type CacheConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // memory, disk, layered, redis, none
	Dir           string `mapstructure:"dir" yaml:"dir"`
	TTLMinutes    int    `mapstructure:"ttl_minutes" yaml:"ttl_minutes"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// StoreConfig locates the CSV receipt store
type StoreConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins    []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	RequestTimeout int      `mapstructure:"request_timeout" yaml:"request_timeout"` // seconds
}

// ConcurrencyConfig sizes the batch worker pool
type ConcurrencyConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// RateLimitConfig bounds model requests per provider
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

// HTTPConfig configures outbound HTTP (image download, model APIs)
type HTTPConfig struct {
	Timeout    int    `mapstructure:"timeout" yaml:"timeout"` // seconds
	UserAgent  string `mapstructure:"user_agent" yaml:"user_agent"`
	HTTPProxy  string `mapstructure:"http_proxy" yaml:"http_proxy,omitempty"`
	HTTPSProxy string `mapstructure:"https_proxy" yaml:"https_proxy,omitempty"`
	NoProxy    string `mapstructure:"no_proxy" yaml:"no_proxy,omitempty"`

	// RespectRobots skips image URLs excluded by the host's robots.txt
	RespectRobots bool `mapstructure:"respect_robots" yaml:"respect_robots"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			OCRModel:  "mistral-ocr-latest",
			Timeout:   60,
			MaxTokens: 1024,
		},
		Parse: ParseConfig{
			Repair:   false,
			Validate: true,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			DelayMillis: 2000,
		},
		Limits: LimitsConfig{
			MaxImageBytes: 4 * 1024 * 1024,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			Dir:        home + "/.reconcile/cache",
			TTLMinutes: 24 * 60,
			RedisAddr:  "localhost:6379",
		},
		Store: StoreConfig{
			Dir: "receipts",
		},
		Server: ServerConfig{
			Addr:           ":8000",
			CORSOrigins:    []string{"*"},
			RequestTimeout: 120,
		},
		Concurrency: ConcurrencyConfig{
			Workers:   4,
			QueueSize: 100,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		HTTP: HTTPConfig{
			Timeout:       30,
			UserAgent:     "reconcile/0.1",
			RespectRobots: true,
		},
	}
}

// RegisterDefaults makes every default known to v so that environment
// variables such as RECONCILE_LLM_MODEL override nested keys.
func RegisterDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}

	setDefaults(v, "", tree)
	for _, key := range []string{"llm.api_key", "llm.api_key_secret", "llm.base_url", "llm.prompt_file",
		"cache.redis_password", "http.http_proxy", "http.https_proxy", "http.no_proxy"} {
		v.SetDefault(key, "")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// LoadDotEnv loads variables from the given .env files (default ".env").
// Missing files are ignored and existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig builds a Config from v layered over the defaults, then fills
// provider credentials from their conventional environment variables.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyProviderEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// providerKeyEnv maps a provider to the variable its API key is read from
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"claude":    "ANTHROPIC_API_KEY",
}

func applyProviderEnv(cfg *Config) {
	provider := strings.ToLower(cfg.LLM.Provider)

	if cfg.LLM.APIKey == "" {
		if name, ok := providerKeyEnv[provider]; ok {
			cfg.LLM.APIKey = os.Getenv(name)
		}
	}
	if provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
}

// Validate rejects configurations that cannot run
func (c *Config) Validate() error {
	var errs []error
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Limits.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_image_bytes must be positive, got %d", c.Limits.MaxImageBytes))
	}
	if c.Concurrency.Workers < 1 {
		errs = append(errs, fmt.Errorf("concurrency.workers must be at least 1, got %d", c.Concurrency.Workers))
	}
	switch c.Cache.Backend {
	case "memory", "disk", "layered", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be one of memory, disk, layered, redis, none; got %q", c.Cache.Backend))
	}
	return errors.Join(errs...)
}
