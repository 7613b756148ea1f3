package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIKeyEnvVars are consulted, in order, when api_key is empty.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "INFRALENS_API_KEY"}

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "infralens.yaml"

// Config holds all InfraLens configuration.
type Config struct {
	Listen    string          `yaml:"listen" validate:"required"`
	DBPath    string          `yaml:"db_path" validate:"required"`
	APIKey    string          `yaml:"api_key"`
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProviderConfig describes the upstream generative AI service.
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	AnalysisModel     string        `yaml:"analysis_model" validate:"required"`
	ImageModel        string        `yaml:"image_model" validate:"required"`
	Temperature       float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens   int32         `yaml:"max_output_tokens" validate:"gt=0"`
	AspectRatio       string        `yaml:"aspect_ratio" validate:"oneof=1:1 3:4 4:3 9:16 16:9"`
	SafetyFilterLevel string        `yaml:"safety_filter_level"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// CacheConfig controls the analysis result cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend" validate:"oneof=sqlite valkey memory"`
	Key        string        `yaml:"key" validate:"required"`
	MaxEntries int           `yaml:"max_entries" validate:"gt=0"`
	MaxAge     time.Duration `yaml:"max_age" validate:"gt=0"`
	Valkey     ValkeyConfig  `yaml:"valkey"`
}

// ValkeyConfig locates the Valkey server used by the valkey backend.
type ValkeyConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	TLS      bool   `yaml:"tls"`
}

// RateLimitConfig bounds dispatches per sliding window.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" validate:"gt=0"`
	Window      time.Duration `yaml:"window" validate:"gt=0"`
}

// RetryConfig controls retries of quota and rate-limit failures.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" validate:"gt=0"`
	InitialDelay  time.Duration `yaml:"initial_delay" validate:"gt=0"`
	MaxDelay      time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
	BackoffFactor float64       `yaml:"backoff_factor" validate:"gte=1"`
}

// PromptConfig overrides the built-in prompt templates.
type PromptConfig struct {
	PrefixLength          int    `yaml:"prefix_length" validate:"gt=0"`
	AnalysisTemplate      string `yaml:"analysis_template"`
	VisualizationTemplate string `yaml:"visualization_template"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "infralens.db",
		Provider: ProviderConfig{
			AnalysisModel:     "gemini-2.0-flash",
			ImageModel:        "imagen-3.0-generate-002",
			Temperature:       0.4,
			MaxOutputTokens:   2048,
			AspectRatio:       "4:3",
			SafetyFilterLevel: "BLOCK_MEDIUM_AND_ABOVE",
			RequestTimeout:    60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "sqlite",
			Key:        "infralens_analysis_cache",
			MaxEntries: 50,
			MaxAge:     24 * time.Hour,
			Valkey: ValkeyConfig{
				Address: "127.0.0.1:6379",
			},
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 10,
			Window:      time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  2 * time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2,
		},
		Prompt: PromptConfig{
			PrefixLength: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads .env from the working directory when present, then
// the config file. When explicit is false a missing file yields Default().
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		return cfg, cfg.Validate()
	}
	return nil, err
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Backend == "valkey" && c.Cache.Valkey.Address == "" {
		return errors.New("invalid config: cache.valkey.address is required for the valkey backend")
	}
	return nil
}

// ResolveAPIKey returns the configured key, falling back to the
// environment. It is evaluated on every call so a key exported after
// start-up is picked up.
func (c *Config) ResolveAPIKey() string {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		return k
	}
	for _, name := range APIKeyEnvVars {
		if k := strings.TrimSpace(os.Getenv(name)); k != "" {
			return k
		}
	}
	return ""
}
