// Package config loads and validates the service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CONNECTOR_HUB_ prefix (e.g.,
// CONNECTOR_HUB_DATABASE_HOST overrides database.host in the YAML).
//
// The ENCRYPTION_KEY variable has no prefix because it is usually injected by
// secret tooling that does not know the application-specific prefix.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every bound environment variable.
const EnvPrefix = "CONNECTOR_HUB"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Vault        VaultConfig        `mapstructure:"vault"`
	Tokens       TokensConfig       `mapstructure:"tokens"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Integrations IntegrationsConfig `mapstructure:"integrations"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// VaultConfig selects the secret-at-rest key. Either Key (32 bytes, base64 or
// hex) or Passphrase plus Salt must be set.
type VaultConfig struct {
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
	Iterations int    `mapstructure:"iterations"`
}

// TokensConfig tunes the token lifecycle manager.
type TokensConfig struct {
	RefreshBuffer  time.Duration `mapstructure:"refresh_buffer"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
}

// RedisConfig enables cross-replica refresh locking.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// AuthConfig holds service-token settings for the API.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// OAuthAppConfig is an OAuth client registered with a provider.
type OAuthAppConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	TenantID     string `mapstructure:"tenant_id"`
}

// IntegrationsConfig holds per-provider OAuth applications.
type IntegrationsConfig struct {
	HTTPTimeout time.Duration  `mapstructure:"http_timeout"`
	GitLab      OAuthAppConfig `mapstructure:"gitlab"`
	SharePoint  OAuthAppConfig `mapstructure:"sharepoint"`
	HubSpot     OAuthAppConfig `mapstructure:"hubspot"`
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	ConnectionVerifier ConnectionVerifierConfig `mapstructure:"connection_verifier"`
}

// ConnectionVerifierConfig controls the periodic connection probe.
type ConnectionVerifierConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars binds every config key explicitly. AutomaticEnv alone does not
// populate keys that are absent from both the file and the defaults when
// Unmarshal runs.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"vault.passphrase",
		"vault.salt",
		"vault.iterations",

		"tokens.refresh_buffer",
		"tokens.refresh_timeout",
		"tokens.probe_timeout",

		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.lock_ttl",

		"auth.jwt_secret",
		"auth.issuer",

		"integrations.http_timeout",
		"integrations.gitlab.client_id",
		"integrations.gitlab.client_secret",
		"integrations.gitlab.base_url",
		"integrations.sharepoint.client_id",
		"integrations.sharepoint.client_secret",
		"integrations.sharepoint.tenant_id",
		"integrations.sharepoint.token_url",
		"integrations.hubspot.client_id",
		"integrations.hubspot.client_secret",
		"integrations.hubspot.base_url",

		"jobs.connection_verifier.enabled",
		"jobs.connection_verifier.interval",
		"jobs.connection_verifier.batch_size",

		"logging.level",
		"logging.format",

		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	// Unprefixed, see package doc.
	if err := v.BindEnv("vault.key", EnvPrefix+"_VAULT_KEY", "ENCRYPTION_KEY"); err != nil {
		return fmt.Errorf("failed to bind env var %q: %w", "vault.key", err)
	}
	return nil
}

// Load reads configuration from the given path (or the default search paths
// when empty), applies environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/connector-hub")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Vault.Key = expandEnv(cfg.Vault.Key)
	cfg.Vault.Passphrase = expandEnv(cfg.Vault.Passphrase)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Integrations.GitLab.ClientSecret = expandEnv(cfg.Integrations.GitLab.ClientSecret)
	cfg.Integrations.SharePoint.ClientSecret = expandEnv(cfg.Integrations.SharePoint.ClientSecret)
	cfg.Integrations.HubSpot.ClientSecret = expandEnv(cfg.Integrations.HubSpot.ClientSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "connector_hub")
	v.SetDefault("database.user", "connector_hub")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("vault.iterations", 600000)

	v.SetDefault("tokens.refresh_buffer", "300s")
	v.SetDefault("tokens.refresh_timeout", "30s")
	v.SetDefault("tokens.probe_timeout", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "45s")

	v.SetDefault("auth.issuer", "connector-hub")

	v.SetDefault("integrations.http_timeout", "30s")
	v.SetDefault("integrations.gitlab.base_url", "https://gitlab.com")
	v.SetDefault("integrations.sharepoint.tenant_id", "common")
	v.SetDefault("integrations.hubspot.base_url", "https://api.hubapi.com")

	v.SetDefault("jobs.connection_verifier.enabled", true)
	v.SetDefault("jobs.connection_verifier.interval", "1h")
	v.SetDefault("jobs.connection_verifier.batch_size", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "connector-hub")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Vault.Key == "" && c.Vault.Passphrase == "" {
		return fmt.Errorf("vault.key (or ENCRYPTION_KEY) or vault.passphrase is required")
	}
	if c.Vault.Key == "" && c.Vault.Salt == "" {
		return fmt.Errorf("vault.salt is required when vault.passphrase is used")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Tokens.RefreshBuffer <= 0 {
		return fmt.Errorf("tokens.refresh_buffer must be positive")
	}
	if c.Tokens.RefreshTimeout <= 0 || c.Tokens.ProbeTimeout <= 0 {
		return fmt.Errorf("tokens.refresh_timeout and tokens.probe_timeout must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Jobs.ConnectionVerifier.Enabled {
		if c.Jobs.ConnectionVerifier.Interval <= 0 {
			return fmt.Errorf("jobs.connection_verifier.interval must be positive")
		}
		if c.Jobs.ConnectionVerifier.BatchSize < 1 {
			return fmt.Errorf("jobs.connection_verifier.batch_size must be at least 1")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddress returns the listen address for the Prometheus side port.
func (c *Config) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Telemetry.Metrics.PrometheusPort)
}
