package config

import "time"

// DefaultServerConfig returns the built-in server defaults, merged under
// user-provided values (user overrides built-in, mirroring the teacher's
// "built-in then user" merge order).
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPPort:       "8080",
		RequestTimeout: "60s",
	}
}

// DefaultQuotaConfig returns the built-in quota defaults.
func DefaultQuotaConfig() *QuotaConfig {
	return &QuotaConfig{
		DefaultCleanupIntervalCron: "@every 1h",
	}
}

// DefaultDualLLMConfig returns the built-in dual-LLM sandbox defaults.
func DefaultDualLLMConfig() *DualLLMConfig {
	return &DualLLMConfig{
		MaxTokens: 256,
	}
}

// DefaultRedisConfig returns the built-in decision-cache defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr: "localhost:6379",
		TTL:  "60s",
	}
}

// DefaultRetentionConfig returns the built-in interaction retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		InteractionRetentionDays: 90,
		CleanupInterval:          "1h",
	}
}

// defaultRequestTimeout is used when RequestTimeout fails to parse.
const defaultRequestTimeout = 60 * time.Second
