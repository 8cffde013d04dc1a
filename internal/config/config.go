// Package config loads the service configuration from environment
// variables with an optional YAML file underneath. Environment values
// always win over file values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix is the prefix for all environment variables, e.g.
// FLASHGATE_SERVER_PORT or FLASHGATE_LICENSE_SECRET_KEY.
const envPrefix = "FLASHGATE"

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Origin    OriginConfig    `yaml:"origin" envconfig:"ORIGIN"`
	Firmware  FirmwareConfig  `yaml:"firmware" envconfig:"FIRMWARE"`
	Downloads DownloadsConfig `yaml:"downloads" envconfig:"DOWNLOADS"`
	Turnstile TurnstileConfig `yaml:"turnstile" envconfig:"TURNSTILE"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains CORS and global rate limiting configuration.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig controls the global request rate limiter. This is
// distinct from the per-device daily download quota under Downloads.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration. Output is always JSON;
// Output selects the destination: "stdout", "file" or "both".
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/flashgate.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// StoreConfig locates the durable key/value store.
type StoreConfig struct {
	// Path to the SQLite database file. Empty selects the in-memory
	// store, which loses bindings and quotas on restart.
	Path string `yaml:"path" envconfig:"PATH" default:"data/flashgate.db"`
	// PurgeInterval is how often expired entries are swept.
	PurgeInterval time.Duration `yaml:"purge_interval" envconfig:"PURGE_INTERVAL" default:"1h"`
}

// LicenseConfig configures key provisioning and token issuance.
type LicenseConfig struct {
	// SecretKey signs access tokens. Required.
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"5m"`
	// StrictTokens switches the token tag from the legacy additive
	// hash to HMAC-SHA256. Both sides must agree.
	StrictTokens bool `yaml:"strict_tokens" envconfig:"STRICT_TOKENS" default:"false"`
	// Provisioning selects the key source: "registry" reads
	// VALIDKEY:/UNLIMITED: entries from the store, "static" uses the
	// key lists below.
	Provisioning  string   `yaml:"provisioning" envconfig:"PROVISIONING" default:"registry"`
	StaticKeys    []string `yaml:"static_keys" envconfig:"STATIC_KEYS"`
	UnlimitedKeys []string `yaml:"unlimited_keys" envconfig:"UNLIMITED_KEYS"`
}

// OriginConfig points at the private firmware origin.
type OriginConfig struct {
	// Repo is the "owner/name" of the repository holding images.
	Repo string `yaml:"repo" envconfig:"REPO"`
	// Token authenticates against the origin API. Required unless
	// every catalog entry is served from somewhere else.
	Token   string        `yaml:"token" envconfig:"TOKEN"`
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"30s"`
}

// FirmwareConfig maps public firmware IDs to origin paths.
type FirmwareConfig struct {
	Catalog map[string]string `yaml:"catalog" envconfig:"CATALOG"`
}

// DownloadsConfig controls the per-device daily quota.
type DownloadsConfig struct {
	DailyCeiling int `yaml:"daily_ceiling" envconfig:"DAILY_CEILING" default:"20"`
}

// TurnstileConfig configures optional human verification on the
// validation endpoint. An empty secret disables it.
type TurnstileConfig struct {
	Secret   string `yaml:"secret" envconfig:"SECRET"`
	Endpoint string `yaml:"endpoint" envconfig:"ENDPOINT"`
}

// defaultCatalog mirrors the deployed catalog.
func defaultCatalog() map[string]string {
	return map[string]string{
		"firmware1": "firmware/firmware1.bin",
		"firmware2": "firmware/firmware2.bin",
		"firmware3": "firmware/firmware3.bin",
		"demo":      "firmware/demo.bin",
	}
}

// Load loads configuration from environment variables and, when
// present, the YAML file at configFile. Pass "" to use config.yaml
// next to the binary.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if configFile == "" {
		configFile = "config.yaml"
	}
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment overrides file values.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.sanitize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// sanitize normalizes values that commonly arrive mangled. Secrets
// pasted into dashboards pick up UTF-8 BOMs and stray whitespace.
func (c *Config) sanitize() {
	c.License.SecretKey = cleanSecret(c.License.SecretKey)
	c.Origin.Token = cleanSecret(c.Origin.Token)
	c.Turnstile.Secret = cleanSecret(c.Turnstile.Secret)

	if len(c.Firmware.Catalog) == 0 {
		c.Firmware.Catalog = defaultCatalog()
	}
}

func cleanSecret(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.TrimSpace(s)
}

// validate validates the configuration.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.License.SecretKey == "" {
		return fmt.Errorf("license secret key is required")
	}
	switch c.License.Provisioning {
	case "registry", "static":
	default:
		return fmt.Errorf("invalid provisioning mode: %q", c.License.Provisioning)
	}
	if c.License.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.Downloads.DailyCeiling <= 0 {
		return fmt.Errorf("daily download ceiling must be positive")
	}
	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	return nil
}
