package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://127.0.0.1:8080", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30, cfg.PollAttempts)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 400, cfg.PreviewBytes)
	assert.Equal(t, int64(500), cfg.AmountMinor)
	assert.Equal(t, "smoke stdlib", cfg.Note)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "smoke.toml", `
base_url = "http://ledger.internal:9090"
request_timeout = "2s"
poll_attempts = 5
poll_interval = "250ms"
verify_csv = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://ledger.internal:9090", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.PollAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.VerifyCSV)
	assert.Equal(t, "Smoke Acc", cfg.AccountName)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "smoke.toml", `pol_attempts = 5`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}

func TestLoad_WrongExtension(t *testing.T) {
	path := writeFile(t, "smoke.yaml", `base_url: x`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "smoke.toml", `poll_attempts = 5`)
	t.Setenv(EnvPrefix+"POLL_ATTEMPTS", "12")
	t.Setenv(EnvPrefix+"BASE_URL", "http://10.0.0.5:8080")
	t.Setenv(EnvPrefix+"CHECK_DOWNLOAD", "true")
	t.Setenv(EnvPrefix+"AMOUNT_MINOR", "750")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.PollAttempts)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.BaseURL)
	assert.True(t, cfg.CheckDownload)
	assert.Equal(t, int64(750), cfg.AmountMinor)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"POLL_INTERVAL", "soon")
	t.Setenv(EnvPrefix+"POLL_ATTEMPTS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
	assert.Contains(t, err.Error(), "POLL_ATTEMPTS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "/api" }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"no poll attempts", func(c *Config) { c.PollAttempts = 0 }},
		{"negative interval", func(c *Config) { c.PollInterval = -time.Second }},
		{"negative health", func(c *Config) { c.HealthAttempts = -1 }},
		{"strict without verify", func(c *Config) { c.StrictCSV = true }},
		{"runs without table", func(c *Config) { c.RunsProject = "p"; c.RunsTable = "" }},
		{"no email prefix", func(c *Config) { c.EmailPrefix = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveFallbackDir(t *testing.T) {
	cfg := Default()
	cfg.FallbackDir = "/srv/smoke"
	assert.Equal(t, "/srv/smoke", cfg.ResolveFallbackDir())

	cfg.FallbackDir = ""
	assert.NotEmpty(t, cfg.ResolveFallbackDir())
}

func TestFileFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG", "")
	assert.Empty(t, FileFromEnv())

	t.Setenv(EnvPrefix+"CONFIG", " smoke.toml ")
	assert.Equal(t, "smoke.toml", FileFromEnv())
}
