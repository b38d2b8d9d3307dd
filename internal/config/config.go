// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the server configuration from a YAML file,
// SEEDVAULT_* environment variables and built-in defaults, in that order
// of precedence from lowest to highest: defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/ratelimit"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
	"github.com/jeremyhahn/go-seedvault/pkg/webauthn"
)

// EnvPrefix prefixes every environment override. Nested keys join with
// underscores, so server.port is SEEDVAULT_SERVER_PORT.
const EnvPrefix = "SEEDVAULT"

// DefaultFileName is the config file searched for when no path is given.
const DefaultFileName = "seedvault"

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig     `yaml:"server" json:"server" mapstructure:"server"`
	Logging      LoggingConfig    `yaml:"logging" json:"logging" mapstructure:"logging"`
	TLS          TLSConfig        `yaml:"tls" json:"tls" mapstructure:"tls"`
	RelyingParty webauthn.Config  `yaml:"relying_party" json:"relying_party" mapstructure:"relying_party"`
	Storage      storage.Config   `yaml:"storage" json:"storage" mapstructure:"storage"`
	Vault        VaultConfig      `yaml:"vault" json:"vault" mapstructure:"vault"`
	Auth         AuthConfig       `yaml:"auth" json:"auth" mapstructure:"auth"`
	RateLimit    ratelimit.Config `yaml:"ratelimit" json:"ratelimit" mapstructure:"ratelimit"`
	Metrics      MetricsConfig    `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Health       HealthConfig     `yaml:"health" json:"health" mapstructure:"health"`
	Audit        AuditConfig      `yaml:"audit" json:"audit" mapstructure:"audit"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host" mapstructure:"host"`
	Port            int           `yaml:"port" json:"port" mapstructure:"port"`
	BasePath        string        `yaml:"base_path" json:"base_path" mapstructure:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"`
}

// VaultConfig controls seed storage policy and secure memory.
type VaultConfig struct {
	// MinCredentials is how many credentials a user must keep.
	MinCredentials int `yaml:"min_credentials" json:"min_credentials" mapstructure:"min_credentials"`

	// MaxCredentials is the per-user credential limit.
	MaxCredentials int `yaml:"max_credentials" json:"max_credentials" mapstructure:"max_credentials"`

	// MemoryTTL is how long a retrieved seed stays readable.
	MemoryTTL time.Duration `yaml:"memory_ttl" json:"memory_ttl" mapstructure:"memory_ttl"`

	// SweepInterval is how often expired seeds are zeroed.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" mapstructure:"sweep_interval"`

	// PurgeInterval is how often expired challenges are deleted.
	PurgeInterval time.Duration `yaml:"purge_interval" json:"purge_interval" mapstructure:"purge_interval"`
}

// AuthConfig controls the bearer tokens issued after authentication.
type AuthConfig struct {
	// JWTSecret signs HS256 tokens. JWTSecretFile is read when it is empty.
	JWTSecret     string        `yaml:"jwt_secret,omitempty" json:"-" mapstructure:"jwt_secret"`
	JWTSecretFile string        `yaml:"jwt_secret_file,omitempty" json:"jwt_secret_file,omitempty" mapstructure:"jwt_secret_file"`
	Issuer        string        `yaml:"issuer" json:"issuer" mapstructure:"issuer"`
	TokenTTL      time.Duration `yaml:"token_ttl" json:"token_ttl" mapstructure:"token_ttl"`
}

// Secret returns the configured signing secret.
func (a AuthConfig) Secret() ([]byte, error) {
	if a.JWTSecret != "" {
		return []byte(a.JWTSecret), nil
	}
	if a.JWTSecretFile == "" {
		return nil, errors.New("auth: jwt_secret or jwt_secret_file is required")
	}
	// #nosec G304 - secret file path is provided by the operator
	b, err := os.ReadFile(a.JWTSecretFile)
	if err != nil {
		return nil, fmt.Errorf("auth: read jwt_secret_file: %w", err)
	}
	return []byte(strings.TrimSpace(string(b))), nil
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`

	// CollectInterval is how often process and secure memory gauges update.
	CollectInterval time.Duration `yaml:"collect_interval" json:"collect_interval" mapstructure:"collect_interval"`
}

// HealthConfig controls the health check endpoints
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
}

// AuditConfig controls the seed access audit trail
type AuditConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`

	// Capacity is how many recent events are kept in memory.
	Capacity int `yaml:"capacity" json:"capacity" mapstructure:"capacity"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api/v1"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.TLS.MinVersion == "" {
		c.TLS.MinVersion = "TLS1.2"
	}

	if c.RelyingParty.RPID == "" {
		c.RelyingParty.RPID = "localhost"
	}
	if c.RelyingParty.RPDisplayName == "" {
		c.RelyingParty.RPDisplayName = "Seed Vault"
	}
	if len(c.RelyingParty.RPOrigins) == 0 {
		c.RelyingParty.RPOrigins = []string{"https://" + c.RelyingParty.RPID}
	}
	c.RelyingParty.SetDefaults()

	c.Storage.SetDefaults()

	if c.Vault.MinCredentials == 0 {
		c.Vault.MinCredentials = 1
	}
	if c.Vault.MaxCredentials == 0 {
		c.Vault.MaxCredentials = types.DefaultMaxCredentials
	}
	if c.Vault.MemoryTTL == 0 {
		c.Vault.MemoryTTL = 60 * time.Second
	}
	if c.Vault.SweepInterval == 0 {
		c.Vault.SweepInterval = time.Second
	}
	if c.Vault.PurgeInterval == 0 {
		c.Vault.PurgeInterval = 5 * time.Minute
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "go-seedvault"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 15 * time.Minute
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 60
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 15 * time.Second
	}
	if c.Health.Path == "" {
		c.Health.Path = "/health"
	}
	if c.Audit.Capacity == 0 {
		c.Audit.Capacity = 1024
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server base_path must start with /: %q", c.Server.BasePath)
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if err := c.RelyingParty.Validate(); err != nil {
		return fmt.Errorf("relying_party: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Vault.MinCredentials < 1 {
		return fmt.Errorf("vault min_credentials must be at least 1")
	}
	if c.Vault.MaxCredentials < c.Vault.MinCredentials {
		return fmt.Errorf("vault max_credentials (%d) must not be below min_credentials (%d)",
			c.Vault.MaxCredentials, c.Vault.MinCredentials)
	}
	if c.Vault.MemoryTTL <= 0 {
		return fmt.Errorf("vault memory_ttl must be positive")
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token_ttl must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("ratelimit requests_per_minute must be positive")
	}
	if c.Audit.Capacity < 0 {
		return fmt.Errorf("audit capacity must not be negative")
	}
	return nil
}

// Load reads configuration from path, or from the first seedvault.yaml
// found in the working directory, $HOME/.seedvault and /etc/seedvault when
// path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	bindDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultFileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".seedvault"))
		}
		v.AddConfigPath("/etc/seedvault")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// bindDefaults registers every key with viper so that AutomaticEnv can
// override keys absent from the file.
func bindDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"server.host":                            d.Server.Host,
		"server.port":                            d.Server.Port,
		"server.base_path":                       d.Server.BasePath,
		"server.read_timeout":                    d.Server.ReadTimeout,
		"server.write_timeout":                   d.Server.WriteTimeout,
		"server.shutdown_timeout":                d.Server.ShutdownTimeout,
		"logging.level":                          d.Logging.Level,
		"logging.format":                         d.Logging.Format,
		"tls.enabled":                            false,
		"tls.cert_file":                          "",
		"tls.key_file":                           "",
		"tls.client_ca_file":                     "",
		"tls.min_version":                        d.TLS.MinVersion,
		"relying_party.id":                       d.RelyingParty.RPID,
		"relying_party.display_name":             d.RelyingParty.RPDisplayName,
		"relying_party.origins":                  d.RelyingParty.RPOrigins,
		"relying_party.timeout":                  d.RelyingParty.Timeout,
		"relying_party.user_verification":        d.RelyingParty.UserVerification,
		"relying_party.attestation":              d.RelyingParty.AttestationPreference,
		"relying_party.resident_key":             d.RelyingParty.ResidentKeyRequirement,
		"relying_party.authenticator_attachment": d.RelyingParty.AuthenticatorAttachment,
		"relying_party.debug":                    false,
		"storage.driver":                         d.Storage.Driver,
		"storage.dsn":                            d.Storage.DSN,
		"storage.max_open_conns":                 d.Storage.MaxOpenConns,
		"storage.auto_migrate":                   true,
		"vault.min_credentials":                  d.Vault.MinCredentials,
		"vault.max_credentials":                  d.Vault.MaxCredentials,
		"vault.memory_ttl":                       d.Vault.MemoryTTL,
		"vault.sweep_interval":                   d.Vault.SweepInterval,
		"vault.purge_interval":                   d.Vault.PurgeInterval,
		"auth.jwt_secret":                        "",
		"auth.jwt_secret_file":                   "",
		"auth.issuer":                            d.Auth.Issuer,
		"auth.token_ttl":                         d.Auth.TokenTTL,
		"ratelimit.enabled":                      true,
		"ratelimit.requests_per_minute":          d.RateLimit.RequestsPerMinute,
		"ratelimit.burst":                        0,
		"ratelimit.trust_proxy_headers":          false,
		"ratelimit.cleanup_interval":             time.Duration(0),
		"ratelimit.max_idle":                     time.Duration(0),
		"metrics.enabled":                        true,
		"metrics.path":                           d.Metrics.Path,
		"metrics.collect_interval":               d.Metrics.CollectInterval,
		"health.enabled":                         true,
		"health.path":                            d.Health.Path,
		"audit.enabled":                          true,
		"audit.capacity":                         d.Audit.Capacity,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Sample returns the configuration written by "config init": defaults with
// the optional features switched on.
func Sample() *Config {
	cfg := Default()
	cfg.Storage.AutoMigrate = true
	cfg.RateLimit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Health.Enabled = true
	cfg.Audit.Enabled = true
	return cfg
}

// Marshal encodes the configuration as YAML. The JWT secret is omitted.
func (c *Config) Marshal() ([]byte, error) {
	out := *c
	out.Auth.JWTSecret = ""
	return yaml.Marshal(&out)
}

// WriteFile writes the configuration as YAML with owner-only permissions.
// An existing file is only replaced when overwrite is set.
func (c *Config) WriteFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
