package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Safety   SafetyConfig   `yaml:"safety"`
	AI       AIConfig       `yaml:"ai"`
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`
	Policy   PolicyConfig   `yaml:"policy"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SafetyConfig holds the confinement and confirmation switches. These are
// live-toggleable: the policy engine reads them through a Handle on every
// evaluation, not once at startup.
type SafetyConfig struct {
	// SafeMode requires confirmation before destructive operations.
	// Defaults to true; a pointer so an explicit "false" survives defaulting.
	SafeMode *bool `yaml:"safe_mode"`

	// AllowedRoot is the subtree all operations are confined to.
	AllowedRoot string `yaml:"allowed_root"`

	// DryRun evaluates and reports operations without applying them.
	DryRun bool `yaml:"dry_run"`

	// RecycleBin is the quarantine directory, relative to AllowedRoot.
	RecycleBin string `yaml:"recycle_bin"`

	// ConfirmMode selects how confirmations are resolved: "tty" or "api".
	ConfirmMode string `yaml:"confirm_mode"`

	// ConfirmTimeout bounds api-mode confirmations ("0" means no timeout).
	ConfirmTimeout string `yaml:"confirm_timeout"`
}

func (s SafetyConfig) SafeModeEnabled() bool {
	return s.SafeMode == nil || *s.SafeMode
}

type AIConfig struct {
	Enabled bool `yaml:"enabled"`

	// ConfirmationRequired forces at least a confirmation step for any
	// mutating command the AI produced, even outside safe mode.
	ConfirmationRequired *bool `yaml:"confirmation_required"`

	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the service key.
	// The key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env"`

	RateLimitPerWindow     int     `yaml:"rate_limit_per_window"`
	RateLimitWindowSeconds int     `yaml:"rate_limit_window_seconds"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`

	RequestTimeout string `yaml:"request_timeout"`
}

func (a AIConfig) ConfirmationForced() bool {
	return a.ConfirmationRequired == nil || *a.ConfirmationRequired
}

func (a AIConfig) Window() time.Duration {
	return time.Duration(a.RateLimitWindowSeconds) * time.Second
}

type ServerConfig struct {
	HTTP ServerHTTPConfig `yaml:"http"`
}

type ServerHTTPConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxRequestSize string `yaml:"max_request_size"`
}

type SessionsConfig struct {
	MaxSessions int `yaml:"max_sessions"`

	// History is the per-session command history depth.
	History int `yaml:"history"`

	DefaultTimeout     string `yaml:"default_timeout"`
	DefaultIdleTimeout string `yaml:"default_idle_timeout"`
	CleanupInterval    string `yaml:"cleanup_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type AuditConfig struct {
	Enabled *bool `yaml:"enabled"`

	// Storage is the local queryable event database.
	Storage AuditStorageConfig `yaml:"storage"`

	// Output, when set, mirrors events to a JSONL file.
	Output   string         `yaml:"output"`
	Rotation RotationConfig `yaml:"rotation"`

	// Optional: ship events to an HTTP webhook.
	Webhook AuditWebhookConfig `yaml:"webhook"`

	// Optional: export events as OTLP log records.
	OTEL AuditOTELConfig `yaml:"otel"`

	// Optional: HMAC integrity chain over stored events.
	Integrity AuditIntegrityConfig `yaml:"integrity"`
}

func (a AuditConfig) EnabledOrDefault() bool {
	return a.Enabled == nil || *a.Enabled
}

type AuditStorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type AuditWebhookConfig struct {
	URL           string            `yaml:"url"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval string            `yaml:"flush_interval"`
	Timeout       string            `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
}

type AuditOTELConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // "grpc" or "http"

	TLSEnabled  bool   `yaml:"tls_enabled"`
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	TLSInsecure bool   `yaml:"tls_insecure"`

	Headers map[string]string `yaml:"headers"`

	Timeout      string `yaml:"timeout"`
	BatchTimeout string `yaml:"batch_timeout"`
	BatchMaxSize int    `yaml:"batch_max_size"`

	IncludeTypes      []string `yaml:"include_types"`
	ExcludeTypes      []string `yaml:"exclude_types"`
	IncludeCategories []string `yaml:"include_categories"`
	ExcludeCategories []string `yaml:"exclude_categories"`
}

// AuditIntegrityConfig enables a tamper-evident HMAC chain: every stored
// event carries a hash linking it to the previous one, so edits, deletions
// and reordering in the audit trail are detectable offline.
type AuditIntegrityConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyFile   string `yaml:"key_file"`
	KeyEnv    string `yaml:"key_env"`
	Algorithm string `yaml:"algorithm"` // "hmac-sha256" or "hmac-sha512"
	// StateFile persists the chain head across restarts. Defaults to a
	// file next to the sqlite database.
	StateFile string `yaml:"state_file"`
}

type RotationConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

type PolicyConfig struct {
	// ProtectedPaths points at an optional YAML rule file merged after the
	// built-in protected patterns.
	ProtectedPaths string `yaml:"protected_paths"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultPath returns the conventional config location under the user's
// home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "safesh.yaml"
	}
	return filepath.Join(home, ".safesh", "safesh.yaml")
}

// Load reads the config file, applies defaults and SAFESH_* environment
// overrides, and validates. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Safety.SafeMode == nil {
		t := true
		cfg.Safety.SafeMode = &t
	}
	if cfg.Safety.AllowedRoot == "" {
		cfg.Safety.AllowedRoot = "."
	}
	if cfg.Safety.RecycleBin == "" {
		cfg.Safety.RecycleBin = ".safesh/bin"
	}
	if cfg.Safety.ConfirmMode == "" {
		cfg.Safety.ConfirmMode = "tty"
	}
	if cfg.Safety.ConfirmTimeout == "" {
		cfg.Safety.ConfirmTimeout = "0"
	}

	if cfg.AI.ConfirmationRequired == nil {
		t := true
		cfg.AI.ConfirmationRequired = &t
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "gemini"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "gemini-2.0-flash"
	}
	if cfg.AI.APIKeyEnv == "" {
		cfg.AI.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.AI.RateLimitPerWindow <= 0 {
		cfg.AI.RateLimitPerWindow = 30
	}
	if cfg.AI.RateLimitWindowSeconds <= 0 {
		cfg.AI.RateLimitWindowSeconds = 60
	}
	if cfg.AI.ConfidenceThreshold == 0 {
		cfg.AI.ConfidenceThreshold = 0.6
	}
	if cfg.AI.RequestTimeout == "" {
		cfg.AI.RequestTimeout = "15s"
	}

	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "127.0.0.1:8375"
	}
	if cfg.Server.HTTP.ReadTimeout == "" {
		cfg.Server.HTTP.ReadTimeout = "30s"
	}
	if cfg.Server.HTTP.WriteTimeout == "" {
		cfg.Server.HTTP.WriteTimeout = "5m"
	}
	if cfg.Server.HTTP.MaxRequestSize == "" {
		cfg.Server.HTTP.MaxRequestSize = "1MB"
	}

	if cfg.Sessions.MaxSessions <= 0 {
		cfg.Sessions.MaxSessions = 50
	}
	if cfg.Sessions.History <= 0 {
		cfg.Sessions.History = 200
	}
	if cfg.Sessions.CleanupInterval == "" {
		cfg.Sessions.CleanupInterval = "1m"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Audit.Rotation.MaxSizeMB == 0 {
		cfg.Audit.Rotation.MaxSizeMB = 100
	}
	if cfg.Audit.Rotation.MaxBackups == 0 {
		cfg.Audit.Rotation.MaxBackups = 5
	}
	if cfg.Audit.Webhook.BatchSize == 0 {
		cfg.Audit.Webhook.BatchSize = 100
	}
	if cfg.Audit.Webhook.FlushInterval == "" {
		cfg.Audit.Webhook.FlushInterval = "10s"
	}
	if cfg.Audit.Webhook.Timeout == "" {
		cfg.Audit.Webhook.Timeout = "5s"
	}
	if cfg.Audit.OTEL.Protocol == "" {
		cfg.Audit.OTEL.Protocol = "grpc"
	}
	if cfg.Audit.Integrity.Algorithm == "" {
		cfg.Audit.Integrity.Algorithm = "hmac-sha256"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SAFESH_ROOT"); v != "" {
		cfg.Safety.AllowedRoot = v
	}
	if v := os.Getenv("SAFESH_SAFE_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Safety.SafeMode = &b
		}
	}
	if v := os.Getenv("SAFESH_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Safety.DryRun = b
		}
	}
	if v := os.Getenv("SAFESH_AI_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AI.Enabled = b
		}
	}
	if v := os.Getenv("SAFESH_HTTP_ADDR"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := os.Getenv("SAFESH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SAFESH_DATA_DIR"); v != "" {
		cfg.Audit.Storage.SQLitePath = filepath.Join(v, "events.db")
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Safety.ConfirmMode {
	case "tty", "api":
	default:
		return fmt.Errorf("invalid safety.confirm_mode %q", cfg.Safety.ConfirmMode)
	}
	if cfg.Safety.ConfirmTimeout != "" && cfg.Safety.ConfirmTimeout != "0" {
		if _, err := time.ParseDuration(cfg.Safety.ConfirmTimeout); err != nil {
			return fmt.Errorf("parse safety.confirm_timeout: %w", err)
		}
	}
	if cfg.AI.ConfidenceThreshold < 0 || cfg.AI.ConfidenceThreshold > 1 {
		return fmt.Errorf("ai.confidence_threshold must be in [0,1], got %v", cfg.AI.ConfidenceThreshold)
	}
	if cfg.AI.RateLimitPerWindow < 1 {
		return fmt.Errorf("ai.rate_limit_per_window must be >= 1")
	}
	if cfg.AI.RateLimitWindowSeconds < 1 {
		return fmt.Errorf("ai.rate_limit_window_seconds must be >= 1")
	}
	if _, err := time.ParseDuration(cfg.AI.RequestTimeout); err != nil {
		return fmt.Errorf("parse ai.request_timeout: %w", err)
	}
	switch cfg.Audit.OTEL.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("invalid audit.otel.protocol %q", cfg.Audit.OTEL.Protocol)
	}
	switch cfg.Audit.Integrity.Algorithm {
	case "hmac-sha256", "hmac-sha512":
	default:
		return fmt.Errorf("invalid audit.integrity.algorithm %q", cfg.Audit.Integrity.Algorithm)
	}
	if cfg.Safety.RecycleBin == "" || filepath.IsAbs(cfg.Safety.RecycleBin) {
		return fmt.Errorf("safety.recycle_bin must be a relative path under the allowed root")
	}
	return nil
}
