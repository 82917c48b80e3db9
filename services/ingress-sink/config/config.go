package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the ingress sink.
type Config struct {
	Port           int
	Path           string
	Username       string
	Password       string
	Envelope       string
	DatabaseURL    string
	MemoryCapacity int
	FailFirst      int
	LogLevel       string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:           8090,
		Path:           "/ingress",
		Envelope:       "sensorInfo",
		MemoryCapacity: 1000,
		LogLevel:       "info",
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	}

	if path := strings.TrimSpace(os.Getenv("INGRESS_PATH")); path != "" {
		if !strings.HasPrefix(path, "/") {
			return cfg, fmt.Errorf("invalid INGRESS_PATH: %s", path)
		}
		cfg.Path = path
	}

	cfg.Username = os.Getenv("INGRESS_USERNAME")
	cfg.Password = os.Getenv("INGRESS_PASSWORD")
	if cfg.Username == "" && cfg.Password != "" {
		return cfg, errors.New("INGRESS_USERNAME is required when INGRESS_PASSWORD is set")
	}

	if envelope, ok := os.LookupEnv("INGRESS_ENVELOPE"); ok {
		cfg.Envelope = strings.TrimSpace(envelope)
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if capStr := os.Getenv("MEMORY_CAPACITY"); capStr != "" {
		if n, err := strconv.Atoi(capStr); err == nil && n > 0 {
			cfg.MemoryCapacity = n
		} else {
			return cfg, fmt.Errorf("invalid MEMORY_CAPACITY: %s", capStr)
		}
	}

	if failStr := os.Getenv("SINK_FAIL_FIRST"); failStr != "" {
		if n, err := strconv.Atoi(failStr); err == nil && n >= 0 {
			cfg.FailFirst = n
		} else {
			return cfg, fmt.Errorf("invalid SINK_FAIL_FIRST: %s", failStr)
		}
	}

	if lvl := strings.TrimSpace(os.Getenv("LOG_LEVEL")); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
