// Package config provides configuration for smoke runs.
//
// Sources are applied in order: built-in defaults, an optional TOML file,
// a .env file in the working directory, LEDGER_SMOKE_* environment variables.
// Commands may apply flag overrides on top and then call Validate.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LEDGER_SMOKE_"

// Config holds smoke run configuration
type Config struct {
	BaseURL        string        `toml:"base_url"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	LogLevel       string        `toml:"log_level"`

	// Scenario inputs
	EmailPrefix string `toml:"email_prefix"`
	EmailDomain string `toml:"email_domain"`
	Password    string `toml:"password"`
	AccountName string `toml:"account_name"`
	Currency    string `toml:"currency"`
	AmountMinor int64  `toml:"amount_minor"`
	Note        string `toml:"note"`

	// Polling
	PollAttempts   int           `toml:"poll_attempts"`
	PollInterval   time.Duration `toml:"poll_interval"`
	HealthAttempts int           `toml:"health_attempts"` // 0 skips the health wait

	// Artifact checks
	FallbackDir   string `toml:"fallback_dir"` // parent of the exports/ fallback, defaults to the binary's directory
	PreviewBytes  int    `toml:"preview_bytes"`
	VerifyCSV     bool   `toml:"verify_csv"`
	StrictCSV     bool   `toml:"strict_csv"`
	CheckDownload bool   `toml:"check_download"`

	// Google Cloud
	ArchiveBucket   string `toml:"archive_bucket"`
	StorageEndpoint string `toml:"storage_endpoint"` // e.g. a fake-gcs-server URL
	RunsProject     string `toml:"runs_project"`
	RunsDataset     string `toml:"runs_dataset"`
	RunsTable       string `toml:"runs_table"`
}

// Default returns the configuration the smoke binary runs with when nothing is set.
func Default() *Config {
	return &Config{
		BaseURL:        "http://127.0.0.1:8080",
		RequestTimeout: 5 * time.Second,
		LogLevel:       "info",
		EmailPrefix:    "smoke2",
		EmailDomain:    "example.com",
		Password:       "password123",
		AccountName:    "Smoke Acc",
		Currency:       "USD",
		AmountMinor:    500,
		Note:           "smoke stdlib",
		PollAttempts:   30,
		PollInterval:   time.Second,
		PreviewBytes:   400,
		RunsDataset:    "smoke",
		RunsTable:      "runs",
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// non-empty), .env and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if filepath.Ext(path) != ".toml" {
		return fmt.Errorf("config file must be a .toml file: %s", path)
	}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("BASE_URL", &c.BaseURL)
	duration("REQUEST_TIMEOUT", &c.RequestTimeout)
	str("LOG_LEVEL", &c.LogLevel)
	str("EMAIL_PREFIX", &c.EmailPrefix)
	str("EMAIL_DOMAIN", &c.EmailDomain)
	str("PASSWORD", &c.Password)
	str("ACCOUNT_NAME", &c.AccountName)
	str("CURRENCY", &c.Currency)
	if v, ok := lookupEnv("AMOUNT_MINOR"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sAMOUNT_MINOR: %v", EnvPrefix, err))
		} else {
			c.AmountMinor = n
		}
	}
	str("NOTE", &c.Note)
	integer("POLL_ATTEMPTS", &c.PollAttempts)
	duration("POLL_INTERVAL", &c.PollInterval)
	integer("HEALTH_ATTEMPTS", &c.HealthAttempts)
	str("FALLBACK_DIR", &c.FallbackDir)
	integer("PREVIEW_BYTES", &c.PreviewBytes)
	boolean("VERIFY_CSV", &c.VerifyCSV)
	boolean("STRICT_CSV", &c.StrictCSV)
	boolean("CHECK_DOWNLOAD", &c.CheckDownload)
	str("ARCHIVE_BUCKET", &c.ArchiveBucket)
	str("STORAGE_ENDPOINT", &c.StorageEndpoint)
	str("RUNS_PROJECT", &c.RunsProject)
	str("RUNS_DATASET", &c.RunsDataset)
	str("RUNS_TABLE", &c.RunsTable)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.PollAttempts < 1 {
		return fmt.Errorf("poll_attempts must be at least 1")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if c.HealthAttempts < 0 {
		return fmt.Errorf("health_attempts must not be negative")
	}
	if c.PreviewBytes < 0 {
		return fmt.Errorf("preview_bytes must not be negative")
	}
	if c.EmailPrefix == "" || c.EmailDomain == "" {
		return fmt.Errorf("email_prefix and email_domain are required")
	}
	if c.StrictCSV && !c.VerifyCSV {
		return fmt.Errorf("strict_csv requires verify_csv")
	}
	if c.RunsProject != "" && (c.RunsDataset == "" || c.RunsTable == "") {
		return fmt.Errorf("runs_dataset and runs_table are required when runs_project is set")
	}
	return nil
}

// ResolveFallbackDir returns FallbackDir, or the directory holding the
// running binary when it is unset.
func (c *Config) ResolveFallbackDir() string {
	if c.FallbackDir != "" {
		return c.FallbackDir
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// FileFromEnv returns the TOML file named by LEDGER_SMOKE_CONFIG, or "".
func FileFromEnv() string {
	v, _ := lookupEnv("CONFIG")
	return v
}
