package config

import "time"

// GatewayYAMLConfig is the structure of gateway.yaml: the user-editable
// settings for the proxy server, the upstream model providers, quota
// enforcement, and the dual-LLM sandbox. Secrets are never stored here —
// only the name of the environment variable that holds them, exactly as
// the teacher's own `token_env`-style fields work.
type GatewayYAMLConfig struct {
	Server    *ServerConfig             `yaml:"server"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Quota     *QuotaConfig              `yaml:"quota"`
	DualLLM   *DualLLMConfig            `yaml:"dual_llm"`
	Redis     *RedisConfig              `yaml:"redis"`
	Retention *RetentionConfig          `yaml:"retention"`
}

// RetentionConfig holds the defaults for the background interaction-history
// retention sweep.
type RetentionConfig struct {
	InteractionRetentionDays int    `yaml:"interaction_retention_days,omitempty"`
	CleanupInterval          string `yaml:"cleanup_interval,omitempty"` // parsed to time.Duration
}

// ServerConfig holds HTTP listener and admin-surface settings.
type ServerConfig struct {
	HTTPPort         string   `yaml:"http_port,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
	RequestTimeout   string   `yaml:"request_timeout,omitempty"` // parsed to time.Duration
}

// ProviderConfig describes how to reach one upstream model provider.
type ProviderConfig struct {
	Type       string `yaml:"type"` // "anthropic" | "openai"
	BaseURL    string `yaml:"base_url,omitempty"`
	APIKeyEnv  string `yaml:"api_key_env"`
	RateLimit  int    `yaml:"rate_limit_rps,omitempty"`
	RateBurst  int    `yaml:"rate_burst,omitempty"`
}

// QuotaConfig holds defaults for token-cost quota enforcement. Per-org
// overrides (limitCleanupInterval) live in the Organization/Limit rows, not
// here — this only supplies the fallback used when an organization has not
// configured one.
type QuotaConfig struct {
	DefaultCleanupIntervalCron string `yaml:"default_cleanup_interval_cron,omitempty"`
}

// DualLLMConfig holds settings for the isolated secondary model call.
type DualLLMConfig struct {
	Provider  string `yaml:"provider,omitempty"` // key into Providers
	Model     string `yaml:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// RedisConfig holds connection settings for the distributed tool-invocation
// decision cache.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password_env,omitempty"` // env var name, resolved at load time
	DB       int    `yaml:"db,omitempty"`
	TTL      string `yaml:"ttl,omitempty"`
}

// Config is the fully resolved, validated configuration used throughout the
// gateway.
type Config struct {
	configDir string

	Server  ResolvedServerConfig
	Quota     QuotaConfig
	DualLLM   DualLLMConfig
	Redis     ResolvedRedisConfig
	Retention ResolvedRetentionConfig

	Providers map[string]ProviderConfig
}

// ResolvedRetentionConfig is RetentionConfig with the duration parsed.
type ResolvedRetentionConfig struct {
	InteractionRetentionDays int
	CleanupInterval          time.Duration
}

// ResolvedServerConfig is ServerConfig with defaults applied and durations parsed.
type ResolvedServerConfig struct {
	HTTPPort         string
	AllowedWSOrigins []string
	RequestTimeout   time.Duration
}

// ResolvedRedisConfig is RedisConfig with the password env var already resolved.
type ResolvedRedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Stats summarizes the loaded configuration for startup logging and the
// health endpoint.
type Stats struct {
	Providers int
}

// Stats returns summary counts for logging/health reporting.
func (c *Config) Stats() Stats {
	return Stats{Providers: len(c.Providers)}
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }
