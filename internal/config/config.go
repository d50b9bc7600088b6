package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the FormCoach server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	GenAI    GenAIConfig
	ImageGen ImageGenConfig
	Storage  StorageConfig
	Reaper   ReaperConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional: without a URL the server falls back to in-process
// cache and locks, which only work for a single instance.
type RedisConfig struct {
	URL string
}

// GenAIConfig configures the remote generative model provider. ModelTiers
// is ordered from most to least capable; the gateway walks it on transient
// failures.
type GenAIConfig struct {
	BaseURL          string
	APIKey           string
	ModelTiers       []string
	InferenceTimeout time.Duration
	StagingPoll      time.Duration
	StagingTimeout   time.Duration
}

type ImageGenConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// StorageConfig selects illustration persistence: when CredentialsFile is
// set, images go to the GCS bucket; otherwise they are written under
// MediaDir and served as relative URLs.
type StorageConfig struct {
	CredentialsFile string
	Bucket          string
	CDNDomain       string
	MediaDir        string
}

type ReaperConfig struct {
	Schedule string
	Enabled  bool
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("FORMCOACH_PORT", 8080),
			Env:  envString("FORMCOACH_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		GenAI: GenAIConfig{
			BaseURL:          envString("GENAI_BASE_URL", "https://generativelanguage.googleapis.com"),
			APIKey:           os.Getenv("GENAI_API_KEY"),
			ModelTiers:       envList("GENAI_MODEL_TIERS", []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"}),
			InferenceTimeout: envDurationSecs("GENAI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			StagingPoll:      envDuration("GENAI_STAGING_POLL_INTERVAL", 2*time.Second),
			StagingTimeout:   envDuration("GENAI_STAGING_TIMEOUT", 2*time.Minute),
		},
		ImageGen: ImageGenConfig{
			BaseURL: envString("IMAGEGEN_BASE_URL", "https://generativelanguage.googleapis.com"),
			APIKey:  os.Getenv("IMAGEGEN_API_KEY"),
			Model:   envString("IMAGEGEN_MODEL", "imagen-3.0-generate-002"),
			Timeout: envDurationSecs("IMAGEGEN_TIMEOUT_SECS", 60*time.Second),
		},
		Storage: StorageConfig{
			CredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
			Bucket:          os.Getenv("GCS_BUCKET"),
			CDNDomain:       os.Getenv("GCS_CDN_DOMAIN"),
			MediaDir:        envString("MEDIA_DIR", "media"),
		},
		Reaper: ReaperConfig{
			Schedule: envString("REAPER_SCHEDULE", "@every 1m"),
			Enabled:  envBool("REAPER_ENABLED", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.GenAI.APIKey == "" {
		return fmt.Errorf("GENAI_API_KEY is required")
	}
	if !strings.HasPrefix(c.GenAI.BaseURL, "http://") && !strings.HasPrefix(c.GenAI.BaseURL, "https://") {
		return fmt.Errorf("GENAI_BASE_URL must start with http:// or https://, got %q", c.GenAI.BaseURL)
	}
	if len(c.GenAI.ModelTiers) == 0 {
		return fmt.Errorf("GENAI_MODEL_TIERS must list at least one model")
	}

	if !strings.HasPrefix(c.ImageGen.BaseURL, "http://") && !strings.HasPrefix(c.ImageGen.BaseURL, "https://") {
		return fmt.Errorf("IMAGEGEN_BASE_URL must start with http:// or https://, got %q", c.ImageGen.BaseURL)
	}

	if c.Storage.CredentialsFile != "" && c.Storage.Bucket == "" {
		return fmt.Errorf("GCS_BUCKET is required when GCS_CREDENTIALS_FILE is set")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
