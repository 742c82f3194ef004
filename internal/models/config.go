// Package models - Service configuration and operational settings.
// This file defines the configuration structures for all service components,
// with environment-friendly defaults and validation that catches
// misconfigurations at startup.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeSQLite   = "sqlite"
	StorageTypePostgres = "postgres"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Artifacts     ArtifactConfig      `yaml:"artifacts" json:"artifacts"`
	Delta         DeltaConfig         `yaml:"delta" json:"delta"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Realtime      RealtimeConfig      `yaml:"realtime" json:"realtime"`
	Downloads     DownloadConfig      `yaml:"downloads" json:"downloads"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// ArtifactConfig bounds what the artifact store accepts. The entry and
// manifest caps guard against archive bombs.
type ArtifactConfig struct {
	Root             string `yaml:"root" json:"root"`
	MaxSizeBytes     int64  `yaml:"max_size_bytes" json:"max_size_bytes"`
	MaxEntries       int    `yaml:"max_entries" json:"max_entries"`
	MaxManifestBytes int64  `yaml:"max_manifest_bytes" json:"max_manifest_bytes"`
}

// DeltaConfig controls differential update computation.
// CompressionThreshold is the delta/full size ratio above which the full
// artifact is served instead.
type DeltaConfig struct {
	Enabled              bool          `yaml:"enabled" json:"enabled"`
	CompressionThreshold float64       `yaml:"compression_threshold" json:"compression_threshold"`
	CacheTTL             time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// RateLimitConfig holds both tiers of limiting: the sliding-window limiter
// that gates download-class endpoints per client, and the token-bucket HTTP
// middleware applied across the API.
type RateLimitConfig struct {
	Enabled           bool                         `yaml:"enabled" json:"enabled"`
	Classes           map[string]EndpointClassRate `yaml:"classes" json:"classes"`
	EscalationAfter   int                          `yaml:"escalation_after" json:"escalation_after"`
	ViolationCooldown time.Duration                `yaml:"violation_cooldown" json:"violation_cooldown"`
	Backoff           []time.Duration              `yaml:"backoff" json:"backoff"`
	RetentionHorizon  time.Duration                `yaml:"retention_horizon" json:"retention_horizon"`
	RequestsPerMinute int                          `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int                          `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration                `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// EndpointClassRate is the window configuration for one endpoint class.
type EndpointClassRate struct {
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
}

// RealtimeConfig controls the notification channel. HeartbeatInterval and
// SessionTimeout are independent; a session silent past SessionTimeout is
// swept.
type RealtimeConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	SessionTimeout    time.Duration `yaml:"session_timeout" json:"session_timeout"`
	QueueSize         int           `yaml:"queue_size" json:"queue_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DownloadConfig controls attempt bookkeeping.
type DownloadConfig struct {
	AttemptTimeout    time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`
}

type SecurityConfig struct {
	EnableAuth bool        `yaml:"enable_auth" json:"enable_auth"`
	Tokens     []AuthToken `yaml:"tokens" json:"tokens"`
}

// AuthToken is a statically configured bearer token with its subject and
// roles. Token issuance itself is out of scope; this feeds the static
// Authenticator.
type AuthToken struct {
	Token   string    `yaml:"token" json:"token"`
	Subject string    `yaml:"subject" json:"subject"`
	Roles   []string  `yaml:"roles" json:"roles"`
	Expires time.Time `yaml:"expires,omitempty" json:"expires,omitempty"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// Endpoint class names used by the rate limiter.
const (
	EndpointClassCheck    = "check"
	EndpointClassDownload = "download"
	EndpointClassDelta    = "delta"
)

// NewDefaultConfig creates a configuration with production-ready defaults:
// sqlite persistence, artifact store under ./data, rate limiting on, metrics
// on, realtime channel on.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeSQLite,
			Database: DatabaseConfig{
				DSN:             "./data/updatehub.db",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Artifacts: ArtifactConfig{
			Root:             "./data/artifacts",
			MaxSizeBytes:     2 << 30, // 2 GiB
			MaxEntries:       10000,
			MaxManifestBytes: 1 << 20, // 1 MiB
		},
		Delta: DeltaConfig{
			Enabled:              true,
			CompressionThreshold: 0.7,
			CacheTTL:             24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Classes: map[string]EndpointClassRate{
				EndpointClassCheck:    {Window: time.Minute, MaxRequests: 30},
				EndpointClassDownload: {Window: time.Minute, MaxRequests: 5},
				EndpointClassDelta:    {Window: time.Minute, MaxRequests: 10},
			},
			EscalationAfter:   3,
			ViolationCooldown: 10 * time.Minute,
			Backoff: []time.Duration{
				5 * time.Minute,
				15 * time.Minute,
				30 * time.Minute,
				time.Hour,
			},
			RetentionHorizon:  time.Hour,
			RequestsPerMinute: 120,
			BurstSize:         20,
			CleanupInterval:   5 * time.Minute,
		},
		Realtime: RealtimeConfig{
			Enabled:           true,
			HeartbeatInterval: 30 * time.Second,
			SessionTimeout:    5 * time.Minute,
			QueueSize:         64,
			WriteTimeout:      10 * time.Second,
		},
		Downloads: DownloadConfig{
			AttemptTimeout:    30 * time.Minute,
			ReconcileInterval: 5 * time.Minute,
		},
		Security: SecurityConfig{
			EnableAuth: false,
			Tokens:     []AuthToken{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "updatehub",
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "stdout",
				SampleRatio: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	if err := c.Artifacts.Validate(); err != nil {
		return fmt.Errorf("invalid artifacts config: %w", err)
	}
	if err := c.Delta.Validate(); err != nil {
		return fmt.Errorf("invalid delta config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}
	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("invalid realtime config: %w", err)
	}
	if err := c.Downloads.Validate(); err != nil {
		return fmt.Errorf("invalid downloads config: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}
	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeSQLite, StorageTypePostgres:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (ac *ArtifactConfig) Validate() error {
	if ac.Root == "" {
		return errors.New("artifact root cannot be empty")
	}
	if ac.MaxSizeBytes <= 0 {
		return errors.New("max size must be positive")
	}
	if ac.MaxEntries <= 0 {
		return errors.New("max entries must be positive")
	}
	if ac.MaxManifestBytes <= 0 {
		return errors.New("max manifest bytes must be positive")
	}
	return nil
}

func (dc *DeltaConfig) Validate() error {
	if !dc.Enabled {
		return nil
	}
	if dc.CompressionThreshold <= 0 || dc.CompressionThreshold > 1 {
		return errors.New("compression threshold must be in (0, 1]")
	}
	if dc.CacheTTL <= 0 {
		return errors.New("cache TTL must be positive")
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	for class, cfg := range rc.Classes {
		if cfg.Window <= 0 {
			return fmt.Errorf("window for class %q must be positive", class)
		}
		if cfg.MaxRequests <= 0 {
			return fmt.Errorf("max requests for class %q must be positive", class)
		}
	}
	if rc.EscalationAfter < 0 {
		return errors.New("escalation_after cannot be negative")
	}
	if len(rc.Backoff) == 0 {
		return errors.New("backoff table cannot be empty")
	}
	if rc.RequestsPerMinute < 0 || rc.BurstSize < 0 {
		return errors.New("middleware rate values cannot be negative")
	}
	return nil
}

func (rc *RealtimeConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if rc.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if rc.SessionTimeout <= rc.HeartbeatInterval {
		return errors.New("session timeout must exceed the heartbeat interval")
	}
	if rc.QueueSize <= 0 {
		return errors.New("queue size must be positive")
	}
	return nil
}

func (dc *DownloadConfig) Validate() error {
	if dc.AttemptTimeout <= 0 {
		return errors.New("attempt timeout must be positive")
	}
	if dc.ReconcileInterval <= 0 {
		return errors.New("reconcile interval must be positive")
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if !sec.EnableAuth {
		return nil
	}
	if len(sec.Tokens) == 0 {
		return errors.New("auth is enabled but no tokens are configured")
	}
	for _, t := range sec.Tokens {
		if t.Token == "" {
			return errors.New("token cannot be empty")
		}
		if t.Subject == "" {
			return errors.New("token subject cannot be empty")
		}
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	switch lc.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}
