package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelay     = time.Second
	defaultLogLevel       = "info"
	defaultTimezone       = "UTC"
)

// Config holds runtime configuration for one import cycle.
type Config struct {
	Upstream Upstream
	Ingress  Ingress

	IncludePublishedAt bool
	Timezone           *time.Location

	PushgatewayURL string
	LogLevel       string
	DryRun         bool
}

// Upstream configures the WaterLand fetcher.
type Upstream struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	ProxyURL    string
	Concurrency int
}

// Ingress configures the SmartDrainage importer.
type Ingress struct {
	URL           string
	Username      string
	Password      string
	Timeout       time.Duration
	ProxyURL      string
	RetryAttempts int
	RetryDelay    time.Duration
	Envelope      string
}

// Override adjusts a loaded Config before it is validated.
type Override func(*Config)

// WithDryRun forces dry-run mode on or off regardless of DRY_RUN.
func WithDryRun(dryRun bool) Override {
	return func(c *Config) {
		c.DryRun = dryRun
	}
}

// WithLogLevel replaces the level read from LOG_LEVEL.
func WithLogLevel(lvl string) Override {
	return func(c *Config) {
		if lvl = strings.TrimSpace(lvl); lvl != "" {
			c.LogLevel = strings.ToLower(lvl)
		}
	}
}

// Load reads configuration from environment variables, after loading envFile
// (default .env) into the environment when it exists. Overrides are applied
// last, before the settings that depend on them are checked.
func Load(envFile string, overrides ...Override) (Config, error) {
	if envFile == "" {
		envFile = defaultEnvFile
	}
	_ = godotenv.Load(envFile)

	cfg := Config{
		IncludePublishedAt: true,
		LogLevel:           defaultLogLevel,
	}

	cfg.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("WATERLAND_API_BASE_URL")), "/")
	if cfg.Upstream.BaseURL == "" {
		return cfg, errors.New("WATERLAND_API_BASE_URL is required")
	}

	cfg.Upstream.AccessToken = strings.TrimSpace(os.Getenv("WATERLAND_API_ACCESS_TOKEN"))
	if cfg.Upstream.AccessToken == "" {
		return cfg, errors.New("WATERLAND_API_ACCESS_TOKEN is required")
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	cfg.Ingress.URL = strings.TrimSpace(os.Getenv("DASHBOARD_INGRESS_URL"))
	cfg.Ingress.Username = strings.TrimSpace(os.Getenv("DASHBOARD_INGRESS_USERNAME"))
	cfg.Ingress.Password = os.Getenv("DASHBOARD_INGRESS_PASSWORD")
	cfg.Ingress.Envelope = strings.TrimSpace(os.Getenv("DASHBOARD_PAYLOAD_ENVELOPE"))

	timeout := defaultRequestTimeout
	if v := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return cfg, errors.New("REQUEST_TIMEOUT must be positive")
		}
		timeout = d
	}
	cfg.Upstream.Timeout = timeout
	cfg.Ingress.Timeout = timeout

	if v := strings.TrimSpace(os.Getenv("OUTBOUND_PROXY_URL")); v != "" {
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return cfg, fmt.Errorf("invalid OUTBOUND_PROXY_URL: %q", v)
		}
		cfg.Upstream.ProxyURL = v
		cfg.Ingress.ProxyURL = v
	}

	if v := strings.TrimSpace(os.Getenv("FETCH_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid FETCH_CONCURRENCY: %s", v)
		}
		cfg.Upstream.Concurrency = n
	}

	cfg.Ingress.RetryAttempts = defaultRetryAttempts
	if v := strings.TrimSpace(os.Getenv("IMPORT_RETRY_ATTEMPTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid IMPORT_RETRY_ATTEMPTS: %s", v)
		}
		cfg.Ingress.RetryAttempts = n
	}

	cfg.Ingress.RetryDelay = defaultRetryDelay
	if v := strings.TrimSpace(os.Getenv("IMPORT_RETRY_DELAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid IMPORT_RETRY_DELAY: %w", err)
		}
		if d <= 0 {
			return cfg, errors.New("IMPORT_RETRY_DELAY must be positive")
		}
		cfg.Ingress.RetryDelay = d
	}

	if v := strings.TrimSpace(os.Getenv("INCLUDE_PUBLISHED_AT")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid INCLUDE_PUBLISHED_AT: %w", err)
		}
		cfg.IncludePublishedAt = b
	}

	tz := strings.TrimSpace(os.Getenv("WATERLAND_TIMEZONE"))
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return cfg, fmt.Errorf("invalid WATERLAND_TIMEZONE: %w", err)
	}
	cfg.Timezone = loc

	cfg.PushgatewayURL = strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL"))

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	for _, o := range overrides {
		o(&cfg)
	}

	if cfg.Ingress.URL == "" && !cfg.DryRun {
		return cfg, errors.New("DASHBOARD_INGRESS_URL is required")
	}

	return cfg, nil
}
