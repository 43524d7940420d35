package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete toolkit configuration
type Config struct {
	Fetch   FetchConfig   `yaml:"fetch"`
	Tabular TabularConfig `yaml:"tabular"`
	Storage StorageConfig `yaml:"storage"`
	OSS     OSSConfig     `yaml:"oss"`
	S3      S3Config      `yaml:"s3"`
	Logging LoggingConfig `yaml:"logging"`
}

// FetchConfig contains CTD batch download settings
type FetchConfig struct {
	BaseURL        string        `yaml:"base_url"`
	MaxTerms       int           `yaml:"max_terms"`
	OutputDir      string        `yaml:"output_dir"`
	Timeout        time.Duration `yaml:"timeout"`
	DiscardPartial bool          `yaml:"discard_partial"`
	CleanupBatches bool          `yaml:"cleanup_batches"`
}

// TabularConfig contains default codec options
type TabularConfig struct {
	Delimiter  string `yaml:"delimiter"`
	SheetName  string `yaml:"sheet_name"`
	Key        string `yaml:"key"`
	Table      string `yaml:"table"`
	InferTypes bool   `yaml:"infer_types"`
}

// StorageConfig selects where combined artifacts are published
type StorageConfig struct {
	// Publisher is "none", "oss" or "s3"
	Publisher string `yaml:"publisher"`
}

// OSSConfig contains Alibaba Cloud OSS settings
type OSSConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Bucket          string        `yaml:"bucket"`
	AccessKeyID     string        `yaml:"access_key_id"`
	AccessKeySecret string        `yaml:"access_key_secret"`
	Prefix          string        `yaml:"prefix"`
	PartSize        int64         `yaml:"part_size"`
	SignedURLExpiry time.Duration `yaml:"signed_url_expiry"`
	MaxRetries      int           `yaml:"max_retries"`
}

// S3Config contains S3 compatible object store settings
type S3Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Bucket          string        `yaml:"bucket"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Region          string        `yaml:"region"`
	UseSSL          bool          `yaml:"use_ssl"`
	Prefix          string        `yaml:"prefix"`
	PartSize        int64         `yaml:"part_size"`
	SignedURLExpiry time.Duration `yaml:"signed_url_expiry"`
	MaxRetries      int           `yaml:"max_retries"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	EnableTracing bool   `yaml:"enable_tracing"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			BaseURL:   "https://ctdbase.org/tools/batchQuery.go",
			MaxTerms:  500,
			OutputDir: ".",
		},
		Tabular: TabularConfig{
			Key: "df",
		},
		Storage: StorageConfig{
			Publisher: "none",
		},
		OSS: OSSConfig{
			Prefix:          "toxichem",
			PartSize:        10 * 1024 * 1024, // 10MB
			SignedURLExpiry: 7 * 24 * time.Hour,
			MaxRetries:      3,
		},
		S3: S3Config{
			UseSSL:          true,
			Prefix:          "toxichem",
			SignedURLExpiry: 7 * 24 * time.Hour,
			MaxRetries:      3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults. Environment overrides apply in both cases.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	strs := []struct {
		env string
		dst *string
	}{
		{"TOXICHEM_BASE_URL", &c.Fetch.BaseURL},
		{"TOXICHEM_OUTPUT_DIR", &c.Fetch.OutputDir},
		{"TOXICHEM_PUBLISHER", &c.Storage.Publisher},
		{"OSS_ENDPOINT", &c.OSS.Endpoint},
		{"OSS_BUCKET", &c.OSS.Bucket},
		{"OSS_ACCESS_KEY_ID", &c.OSS.AccessKeyID},
		{"OSS_ACCESS_KEY_SECRET", &c.OSS.AccessKeySecret},
		{"S3_ENDPOINT", &c.S3.Endpoint},
		{"S3_BUCKET", &c.S3.Bucket},
		{"S3_ACCESS_KEY_ID", &c.S3.AccessKeyID},
		{"S3_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey},
		{"S3_REGION", &c.S3.Region},
		{"LOG_LEVEL", &c.Logging.Level},
	}
	for _, s := range strs {
		if val := os.Getenv(s.env); val != "" {
			*s.dst = val
		}
	}

	if val := os.Getenv("TOXICHEM_MAX_TERMS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid TOXICHEM_MAX_TERMS %q: %w", val, err)
		}
		c.Fetch.MaxTerms = n
	}
	if val := os.Getenv("TOXICHEM_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid TOXICHEM_TIMEOUT %q: %w", val, err)
		}
		c.Fetch.Timeout = d
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch base URL is required")
	}
	if c.Fetch.MaxTerms <= 0 {
		return fmt.Errorf("max terms must be positive, got %d", c.Fetch.MaxTerms)
	}
	if c.Fetch.Timeout < 0 {
		return fmt.Errorf("fetch timeout cannot be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch strings.ToLower(c.Storage.Publisher) {
	case "", "none":
	case "oss":
		if c.OSS.Endpoint == "" {
			return fmt.Errorf("OSS endpoint is required")
		}
		if c.OSS.Bucket == "" {
			return fmt.Errorf("OSS bucket is required")
		}
		if c.OSS.AccessKeyID == "" {
			return fmt.Errorf("OSS access key ID is required")
		}
		if c.OSS.AccessKeySecret == "" {
			return fmt.Errorf("OSS access key secret is required")
		}
		if c.OSS.PartSize <= 0 {
			return fmt.Errorf("OSS part size must be positive")
		}
	case "s3":
		if c.S3.Endpoint == "" {
			return fmt.Errorf("S3 endpoint is required")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "" {
			return fmt.Errorf("S3 credentials are required")
		}
	default:
		return fmt.Errorf("unknown publisher: %s", c.Storage.Publisher)
	}
	return nil
}
