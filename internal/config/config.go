// Package config loads bridge settings from an optional YAML file overlaid
// with BRIDGE_-prefixed environment variables. Environment wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full bridge configuration tree.
type Config struct {
	InstanceID     string `yaml:"instance_id"`
	Port           int    `yaml:"port"`
	PrometheusPort int    `yaml:"prometheus_port"`

	DatabaseURL    string `yaml:"database_url"`
	TrustStorePath string `yaml:"trust_store_path"`

	Conductor  ConductorConfig  `yaml:"conductor"`
	Federation FederationConfig `yaml:"federation"`
	Export     ExportConfig     `yaml:"export"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

// ConductorConfig selects and tunes the Conductor transport.
type ConductorConfig struct {
	// Mode is memory, http or grpc.
	Mode      string   `yaml:"mode"`
	Endpoints []string `yaml:"endpoints"`

	TimeoutSeconds     int `yaml:"timeout_seconds"`
	MaxRetries         int `yaml:"max_retries"`
	RetryDelayMs       int `yaml:"retry_delay_ms"`
	CBFailureThreshold int `yaml:"cb_failure_threshold"`
	CBRecoverySeconds  int `yaml:"cb_recovery_seconds"`
	CacheTTLSeconds    int `yaml:"cache_ttl_seconds"`
	CacheMaxSize       int `yaml:"cache_max_size"`
	HealthCheckSeconds int `yaml:"health_check_seconds"`
}

// FederationConfig drives fan-out and the outbound worker.
type FederationConfig struct {
	// TargetStages holds "id=url" pairs (comma separated in the environment).
	TargetStages []string `yaml:"target_stages"`

	BridgePrivateKeyHex string `yaml:"bridge_private_key_hex"`

	WorkerIntervalSeconds int `yaml:"worker_interval_seconds"`
	MaxRetries            int `yaml:"max_retries"`
	BackoffBaseMs         int `yaml:"backoff_base_ms"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// ExportConfig drives the ActivityPub side.
type ExportConfig struct {
	GenesisTimestamp int64    `yaml:"genesis_timestamp"`
	ActorDomain      string   `yaml:"actor_domain"`
	Targets          []string `yaml:"targets"`

	WorkerIntervalSeconds int `yaml:"worker_interval_seconds"`
	MaxRetries            int `yaml:"max_retries"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// AuthConfig covers both JWT directions: the key the bridge signs outbound
// tokens with, and the key it verifies inbound tokens against.
type AuthConfig struct {
	Enforce          bool   `yaml:"enforce"`
	JWTSigningKeyHex string `yaml:"jwt_signing_key_hex"`
	InboundJWTKeyHex string `yaml:"inbound_jwt_public_key_hex"`
}

// RateLimitConfig tunes the per-instance limiter.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// PipelineConfig tunes the envelope pipeline.
type PipelineConfig struct {
	ReplayCacheTTLSeconds int             `yaml:"replay_cache_ttl_seconds"`
	IdempotencyTTLSeconds int             `yaml:"idempotency_ttl_seconds"`
	QuarantineInvalid     bool            `yaml:"quarantine_invalid"`
	EnabledMessageTypes   map[string]bool `yaml:"enabled_message_types"`
}

// Load reads the optional YAML file named by BRIDGE_CONFIG, then applies
// environment overrides and defaults, then validates.
func Load() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("BRIDGE_CONFIG"); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a YAML config file without env overlay or validation.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.InstanceID, "BRIDGE_INSTANCE_ID")
	setInt(&c.Port, "BRIDGE_PORT")
	setInt(&c.PrometheusPort, "BRIDGE_PROMETHEUS_PORT")
	setString(&c.DatabaseURL, "BRIDGE_DATABASE_URL")
	setString(&c.TrustStorePath, "BRIDGE_TRUST_STORE_PATH")

	setString(&c.Conductor.Mode, "BRIDGE_CONDUCTOR_MODE")
	setList(&c.Conductor.Endpoints, "BRIDGE_CONDUCTOR_ENDPOINTS")
	setInt(&c.Conductor.TimeoutSeconds, "BRIDGE_CONDUCTOR_TIMEOUT_SECONDS")
	setInt(&c.Conductor.MaxRetries, "BRIDGE_CONDUCTOR_MAX_RETRIES")
	setInt(&c.Conductor.RetryDelayMs, "BRIDGE_CONDUCTOR_RETRY_DELAY_MS")
	setInt(&c.Conductor.CBFailureThreshold, "BRIDGE_CONDUCTOR_CB_FAILURE_THRESHOLD")
	setInt(&c.Conductor.CBRecoverySeconds, "BRIDGE_CONDUCTOR_CB_RECOVERY_SECONDS")
	setInt(&c.Conductor.CacheTTLSeconds, "BRIDGE_CONDUCTOR_CACHE_TTL_SECONDS")
	setInt(&c.Conductor.CacheMaxSize, "BRIDGE_CONDUCTOR_CACHE_MAX_SIZE")
	setInt(&c.Conductor.HealthCheckSeconds, "BRIDGE_CONDUCTOR_HEALTH_CHECK_SECONDS")

	setList(&c.Federation.TargetStages, "BRIDGE_FEDERATION_TARGET_STAGES")
	setString(&c.Federation.BridgePrivateKeyHex, "BRIDGE_PRIVATE_KEY_HEX")
	setInt(&c.Federation.WorkerIntervalSeconds, "BRIDGE_OUTBOUND_WORKER_INTERVAL_SECONDS")
	setInt(&c.Federation.MaxRetries, "BRIDGE_OUTBOUND_MAX_RETRIES")
	setInt(&c.Federation.BackoffBaseMs, "BRIDGE_OUTBOUND_BACKOFF_BASE_MS")
	setInt(&c.Federation.RequestTimeoutSeconds, "BRIDGE_OUTBOUND_REQUEST_TIMEOUT_SECONDS")

	setInt64(&c.Export.GenesisTimestamp, "BRIDGE_AP_GENESIS_TIMESTAMP")
	setString(&c.Export.ActorDomain, "BRIDGE_AP_ACTOR_DOMAIN")
	setList(&c.Export.Targets, "BRIDGE_AP_TARGETS")
	setInt(&c.Export.WorkerIntervalSeconds, "BRIDGE_AP_WORKER_INTERVAL_SECONDS")
	setInt(&c.Export.MaxRetries, "BRIDGE_AP_MAX_RETRIES")
	setInt(&c.Export.RequestTimeoutSeconds, "BRIDGE_AP_REQUEST_TIMEOUT_SECONDS")

	setBool(&c.Auth.Enforce, "BRIDGE_JWT_ENFORCE")
	setString(&c.Auth.JWTSigningKeyHex, "BRIDGE_JWT_SIGNING_KEY_HEX")
	setString(&c.Auth.InboundJWTKeyHex, "BRIDGE_INBOUND_JWT_PUBLIC_KEY_HEX")

	setInt(&c.RateLimit.RequestsPerSecond, "BRIDGE_RATE_LIMIT_RPS")
	setInt(&c.RateLimit.Burst, "BRIDGE_RATE_LIMIT_BURST")

	setInt(&c.Pipeline.ReplayCacheTTLSeconds, "BRIDGE_REPLAY_CACHE_TTL_SECONDS")
	setInt(&c.Pipeline.IdempotencyTTLSeconds, "BRIDGE_IDEMPOTENCY_TTL_SECONDS")
	setBool(&c.Pipeline.QuarantineInvalid, "BRIDGE_QUARANTINE_INVALID")
	if raw := os.Getenv("BRIDGE_ENABLED_MESSAGE_TYPES"); raw != "" {
		c.Pipeline.EnabledMessageTypes = make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Pipeline.EnabledMessageTypes[name] = true
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.PrometheusPort == 0 {
		c.PrometheusPort = 9102
	}
	if c.Conductor.Mode == "" {
		c.Conductor.Mode = "memory"
	}
	if c.Conductor.TimeoutSeconds == 0 {
		c.Conductor.TimeoutSeconds = 30
	}
	if c.Conductor.MaxRetries == 0 {
		c.Conductor.MaxRetries = 3
	}
	if c.Conductor.RetryDelayMs == 0 {
		c.Conductor.RetryDelayMs = 500
	}
	if c.Conductor.CBFailureThreshold == 0 {
		c.Conductor.CBFailureThreshold = 5
	}
	if c.Conductor.CBRecoverySeconds == 0 {
		c.Conductor.CBRecoverySeconds = 30
	}
	if c.Conductor.CacheTTLSeconds == 0 {
		c.Conductor.CacheTTLSeconds = 3600
	}
	if c.Conductor.CacheMaxSize == 0 {
		c.Conductor.CacheMaxSize = 128
	}
	if c.Conductor.HealthCheckSeconds == 0 {
		c.Conductor.HealthCheckSeconds = 30
	}
	if c.Federation.WorkerIntervalSeconds == 0 {
		c.Federation.WorkerIntervalSeconds = 1
	}
	if c.Federation.MaxRetries == 0 {
		c.Federation.MaxRetries = 5
	}
	if c.Federation.BackoffBaseMs == 0 {
		c.Federation.BackoffBaseMs = 1000
	}
	if c.Federation.RequestTimeoutSeconds == 0 {
		c.Federation.RequestTimeoutSeconds = 10
	}
	if c.Export.WorkerIntervalSeconds == 0 {
		c.Export.WorkerIntervalSeconds = 60
	}
	if c.Export.MaxRetries == 0 {
		c.Export.MaxRetries = 5
	}
	if c.Export.RequestTimeoutSeconds == 0 {
		c.Export.RequestTimeoutSeconds = 15
	}
	if c.Export.ActorDomain == "" {
		c.Export.ActorDomain = "localhost"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerSecond * 2
	}
	if c.Pipeline.ReplayCacheTTLSeconds == 0 {
		c.Pipeline.ReplayCacheTTLSeconds = 86400
	}
	if c.Pipeline.IdempotencyTTLSeconds == 0 {
		c.Pipeline.IdempotencyTTLSeconds = 3600
	}
}

// Validate rejects configurations the bridge cannot start with.
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id is required (BRIDGE_INSTANCE_ID)")
	}
	switch c.Conductor.Mode {
	case "memory", "http", "grpc":
	default:
		return fmt.Errorf("conductor mode must be memory, http or grpc, got %q", c.Conductor.Mode)
	}
	if c.Conductor.Mode != "memory" && len(c.Conductor.Endpoints) == 0 {
		return fmt.Errorf("conductor mode %s requires at least one endpoint", c.Conductor.Mode)
	}
	for _, pair := range c.Federation.TargetStages {
		if !strings.Contains(pair, "=") {
			return fmt.Errorf("federation target %q must be id=url", pair)
		}
	}
	return nil
}

// ParseTargetStages splits the "id=url" pairs into a map.
func (c *Config) ParseTargetStages() map[string]string {
	out := make(map[string]string, len(c.Federation.TargetStages))
	for _, pair := range c.Federation.TargetStages {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return out
}

func (c *ConductorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *ConductorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *ConductorConfig) CBRecovery() time.Duration {
	return time.Duration(c.CBRecoverySeconds) * time.Second
}

func (c *ConductorConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *ConductorConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthCheckSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}
