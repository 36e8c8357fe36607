package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "render", cfg.Endpoint)
	assert.Equal(t, 4, cfg.ResultCount)
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 60*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 50*time.Second, cfg.ColdStartGrace)
	assert.Equal(t, 2*time.Second, cfg.FirstRetryDelay)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("RAGCHAT_ENDPOINT", "local")
	t.Setenv("RAGCHAT_RESULT_COUNT", "8")
	t.Setenv("RAGCHAT_PROBE_INTERVAL", "3s")
	t.Setenv("RAGCHAT_DEBUG", "true")
	t.Setenv("RAGCHAT_ENDPOINTS", "staging=https://staging.example.com|coldstart")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Endpoint)
	assert.Equal(t, 8, cfg.ResultCount)
	assert.Equal(t, 3*time.Second, cfg.ProbeInterval)
	assert.True(t, cfg.Debug)
	require.NoError(t, cfg.Validate())

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"render", "local", "staging"}, reg.Names())
	staging, err := reg.Resolve("staging")
	require.NoError(t, err)
	assert.True(t, staging.ColdStart)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RAGCHAT_SEARCH_TIMEOUT=5s\nRAGCHAT_ORIGIN=http://localhost:5173\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("RAGCHAT_SEARCH_TIMEOUT")
		os.Unsetenv("RAGCHAT_ORIGIN")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.SearchTimeout)
	assert.Equal(t, "http://localhost:5173", cfg.Origin)
}

func TestLoad_MalformedValues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Run("duration", func(t *testing.T) {
		t.Setenv("RAGCHAT_PROBE_TIMEOUT", "soon")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "RAGCHAT_PROBE_TIMEOUT")
	})
	t.Run("int", func(t *testing.T) {
		t.Setenv("RAGCHAT_RESULT_COUNT", "four")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "RAGCHAT_RESULT_COUNT")
	})
	t.Run("bool", func(t *testing.T) {
		t.Setenv("RAGCHAT_TELEMETRY", "maybe")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "RAGCHAT_TELEMETRY")
	})
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero interval":    func(c *Config) { c.ProbeInterval = 0 },
		"zero results":     func(c *Config) { c.ResultCount = 0 },
		"relative path":    func(c *Config) { c.SearchPath = "search" },
		"bad origin":       func(c *Config) { c.Origin = "not a url" },
		"unknown endpoint": func(c *Config) { c.Endpoint = "nowhere" },
		"bad extras":       func(c *Config) { c.Endpoints = "broken" },
		"no log dir":       func(c *Config) { c.LogDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestUseV1Paths(t *testing.T) {
	cfg := Default()
	cfg.UseV1Paths()
	assert.Equal(t, "/api/v1/health", cfg.HealthPath)
	assert.Equal(t, "/api/v1/search/", cfg.SearchPath)
}
