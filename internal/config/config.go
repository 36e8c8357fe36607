package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"RagChat/internal/endpoint"
)

const (
	HealthPathDefault = "/health"
	HealthPathV1      = "/api/v1/health"
	SearchPathDefault = "/search"
	SearchPathV1      = "/api/v1/search/"
)

// Config holds application configuration
type Config struct {
	Endpoint  string // name of the endpoint selected at startup
	Endpoints string // extra endpoints, "name=url[|coldstart];..."
	Origin    string `validate:"omitempty,url"` // resolves relative endpoint bases

	HealthPath  string `validate:"required,startswith=/"`
	SearchPath  string `validate:"required,startswith=/"`
	ResultCount int    `validate:"gte=1,lte=50"`

	ProbeInterval   time.Duration `validate:"gt=0"`
	ProbeTimeout    time.Duration `validate:"gt=0"`
	ColdStartGrace  time.Duration `validate:"gt=0"`
	FirstRetryDelay time.Duration `validate:"gt=0"`
	SearchTimeout   time.Duration `validate:"gt=0"`

	LogDir      string `validate:"required"`
	ArchivePath string // empty disables the transcript archive
	Telemetry   bool
	Debug       bool
}

var validate = validator.New()

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Endpoint:        endpoint.NameRender,
		HealthPath:      HealthPathDefault,
		SearchPath:      SearchPathDefault,
		ResultCount:     4,
		ProbeInterval:   10 * time.Second,
		ProbeTimeout:    60 * time.Second,
		ColdStartGrace:  50 * time.Second,
		FirstRetryDelay: 2 * time.Second,
		SearchTimeout:   60 * time.Second,
		LogDir:          "logs",
		Telemetry:       true,
	}
}

// Load applies a .env file (when present) and RAGCHAT_* variables on top of Default.
// Variables already set in the process environment win over the file.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := Default()
	cfg.Endpoint = getEnv("RAGCHAT_ENDPOINT", cfg.Endpoint)
	cfg.Endpoints = getEnv("RAGCHAT_ENDPOINTS", cfg.Endpoints)
	cfg.Origin = getEnv("RAGCHAT_ORIGIN", cfg.Origin)
	cfg.HealthPath = getEnv("RAGCHAT_HEALTH_PATH", cfg.HealthPath)
	cfg.SearchPath = getEnv("RAGCHAT_SEARCH_PATH", cfg.SearchPath)
	cfg.LogDir = getEnv("RAGCHAT_LOG_DIR", cfg.LogDir)
	cfg.ArchivePath = getEnv("RAGCHAT_ARCHIVE", cfg.ArchivePath)

	var err error
	if cfg.ResultCount, err = getInt("RAGCHAT_RESULT_COUNT", cfg.ResultCount); err != nil {
		return Config{}, err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RAGCHAT_PROBE_INTERVAL", &cfg.ProbeInterval},
		{"RAGCHAT_PROBE_TIMEOUT", &cfg.ProbeTimeout},
		{"RAGCHAT_COLD_START_GRACE", &cfg.ColdStartGrace},
		{"RAGCHAT_FIRST_RETRY_DELAY", &cfg.FirstRetryDelay},
		{"RAGCHAT_SEARCH_TIMEOUT", &cfg.SearchTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.Telemetry, err = getBool("RAGCHAT_TELEMETRY", cfg.Telemetry); err != nil {
		return Config{}, err
	}
	if cfg.Debug, err = getBool("RAGCHAT_DEBUG", cfg.Debug); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field ranges and that the endpoint set is usable
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Registry builds the endpoint registry: the built-in targets plus any extras
func (c Config) Registry() (*endpoint.Registry, error) {
	extra, err := endpoint.Parse(c.Endpoints)
	if err != nil {
		return nil, err
	}
	return endpoint.NewRegistry(endpoint.Merge(endpoint.DefaultEndpoints(), extra), c.Endpoint)
}

// UseV1Paths switches to the versioned API layout
func (c *Config) UseV1Paths() {
	c.HealthPath = HealthPathV1
	c.SearchPath = SearchPathV1
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
