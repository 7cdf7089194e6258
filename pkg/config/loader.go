package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed, mirroring the teacher's own config.Initialize:
//  1. Load gateway.yaml from configDir
//  2. Expand environment variables
//  3. Merge built-in defaults with user-provided values (user overrides)
//  4. Resolve secret env vars and parse durations
//  5. Validate
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized", "providers", stats.Providers)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadGatewayYAML()
	if err != nil {
		return nil, NewLoadError("gateway.yaml", err)
	}

	server := DefaultServerConfig()
	if yamlCfg.Server != nil {
		if err := mergo.Merge(server, yamlCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging server config: %w", err)
		}
	}

	quota := DefaultQuotaConfig()
	if yamlCfg.Quota != nil {
		if err := mergo.Merge(quota, yamlCfg.Quota, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging quota config: %w", err)
		}
	}

	dualLLM := DefaultDualLLMConfig()
	if yamlCfg.DualLLM != nil {
		if err := mergo.Merge(dualLLM, yamlCfg.DualLLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging dual_llm config: %w", err)
		}
	}

	redisCfg := DefaultRedisConfig()
	if yamlCfg.Redis != nil {
		if err := mergo.Merge(redisCfg, yamlCfg.Redis, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging redis config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retention, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging retention config: %w", err)
		}
	}

	requestTimeout, err := time.ParseDuration(server.RequestTimeout)
	if err != nil {
		slog.Warn("invalid server.request_timeout, using default",
			"value", server.RequestTimeout, "default", defaultRequestTimeout, "error", err)
		requestTimeout = defaultRequestTimeout
	}

	redisTTL, err := time.ParseDuration(redisCfg.TTL)
	if err != nil {
		slog.Warn("invalid redis.ttl, using default", "value", redisCfg.TTL, "error", err)
		redisTTL = 60 * time.Second
	}

	var redisPassword string
	if redisCfg.Password != "" {
		redisPassword = os.Getenv(redisCfg.Password)
	}

	cleanupInterval, err := time.ParseDuration(retention.CleanupInterval)
	if err != nil {
		slog.Warn("invalid retention.cleanup_interval, using default", "value", retention.CleanupInterval, "error", err)
		cleanupInterval = time.Hour
	}

	return &Config{
		configDir: configDir,
		Server: ResolvedServerConfig{
			HTTPPort:         server.HTTPPort,
			AllowedWSOrigins: server.AllowedWSOrigins,
			RequestTimeout:   requestTimeout,
		},
		Quota:     *quota,
		DualLLM:   *dualLLM,
		Providers: yamlCfg.Providers,
		Redis: ResolvedRedisConfig{
			Addr:     redisCfg.Addr,
			Password: redisPassword,
			DB:       redisCfg.DB,
			TTL:      redisTTL,
		},
		Retention: ResolvedRetentionConfig{
			InteractionRetentionDays: retention.InteractionRetentionDays,
			CleanupInterval:          cleanupInterval,
		},
	}, nil
}

func validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return NewValidationError("providers", "", "", fmt.Errorf("%w: at least one provider must be configured", ErrMissingRequiredField))
	}
	for name, p := range cfg.Providers {
		if p.Type != "anthropic" && p.Type != "openai" {
			return NewValidationError("provider", name, "type", fmt.Errorf("%w: must be \"anthropic\" or \"openai\"", ErrInvalidValue))
		}
		if p.APIKeyEnv == "" {
			return NewValidationError("provider", name, "api_key_env", ErrMissingRequiredField)
		}
	}
	if cfg.DualLLM.Provider != "" {
		if _, ok := cfg.Providers[cfg.DualLLM.Provider]; !ok {
			return NewValidationError("dual_llm", cfg.DualLLM.Provider, "provider", ErrProviderNotFound)
		}
	}
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadGatewayYAML() (*GatewayYAMLConfig, error) {
	path := filepath.Join(l.configDir, "gateway.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg GatewayYAMLConfig
	cfg.Providers = make(map[string]ProviderConfig)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}
