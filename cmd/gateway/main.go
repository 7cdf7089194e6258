// Command gateway runs the LLM proxy: the HTTP surface translating the
// Anthropic and OpenAI wire protocols onto the shared trust/dual-LLM/
// invocation/quota pipeline in front of the configured upstream providers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/gateway/pkg/cleanup"
	"github.com/codeready-toolchain/gateway/pkg/config"
	"github.com/codeready-toolchain/gateway/pkg/database"
	"github.com/codeready-toolchain/gateway/pkg/dualllm"
	"github.com/codeready-toolchain/gateway/pkg/events"
	"github.com/codeready-toolchain/gateway/pkg/invocation"
	"github.com/codeready-toolchain/gateway/pkg/mcpclient"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/proxy"
	"github.com/codeready-toolchain/gateway/pkg/proxyapi"
	"github.com/codeready-toolchain/gateway/pkg/quota"
	"github.com/codeready-toolchain/gateway/pkg/repository"
	"github.com/codeready-toolchain/gateway/pkg/telemetry"
	"github.com/codeready-toolchain/gateway/pkg/trust"
	"github.com/codeready-toolchain/gateway/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		logger.Info("loaded environment file", "path", envPath)
	}

	logger.Info("starting gateway", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		logger.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("error closing database client", "error", err)
		}
	}()
	logger.Info("connected to database, schema migrated")

	repo := repository.New(dbClient.Client)

	anthropicNew := upstreamFactory(cfg, "anthropic", logger)
	openaiNew := upstreamFactory(cfg, "openai", logger)

	providerBaseURLs := make(map[string]string, len(cfg.Providers))
	for name, p := range cfg.Providers {
		providerBaseURLs[name] = p.BaseURL
	}

	trustEngine := trust.New(repo, nil, logger)

	dualLLMFactory := anthropicNew
	dualLLMModel := "claude-3-5-haiku-latest"
	dualLLMMaxTokens := 256
	if cfg.DualLLM.Provider != "" {
		if f := upstreamFactory(cfg, cfg.DualLLM.Provider, logger); f != nil {
			dualLLMFactory = f
		}
	}
	if cfg.DualLLM.Model != "" {
		dualLLMModel = cfg.DualLLM.Model
	}
	if cfg.DualLLM.MaxTokens > 0 {
		dualLLMMaxTokens = cfg.DualLLM.MaxTokens
	}
	dualLLMEvaluator := dualllm.New(func(apiKey string) provider.Client { return dualLLMFactory(apiKey) }, dualLLMModel, dualLLMMaxTokens, logger)

	var decisionCache invocation.DecisionCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		decisionCache = invocation.NewRedisDecisionCache(rdb, cfg.Redis.TTL, logger)
		logger.Info("tool-invocation decision cache backed by redis", "addr", cfg.Redis.Addr)
	}
	invocationEvaluator := invocation.NewWithCache(repo, decisionCache)
	invocationEvaluator.SetTracer(telemetry.NewTracer("archestra-gateway"))

	dispatcher := quota.NewDispatcher(repo, logger, 4, 256)
	defer dispatcher.Stop()
	quotaEnforcer := quota.New(repo, dispatcher, logger)

	sweepSchedule := cfg.Quota.DefaultCleanupIntervalCron
	if sweepSchedule == "" {
		sweepSchedule = "0 * * * *"
	}
	sweeper, err := quota.NewSweeper(repo, logger, sweepSchedule)
	if err != nil {
		logger.Error("failed to build quota sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

	newTools := func() mcpclient.Executor { return mcpclient.NewHTTPExecutor(logger) }

	orchestrator := proxy.New(repo, trustEngine, dualLLMEvaluator, invocationEvaluator, quotaEnforcer, newTools, logger)

	broadcaster := events.NewBroadcaster(logger)
	orchestrator.SetBroadcaster(broadcaster)

	metrics := telemetry.NewMetrics()
	orchestrator.SetMetrics(metrics)

	retentionService := cleanup.NewService(&cfg.Retention, repo, logger)
	retentionService.Start(ctx)
	defer retentionService.Stop()

	server := proxyapi.NewServer(repo, orchestrator, anthropicNew, openaiNew, providerBaseURLs, broadcaster)

	httpPort := cfg.Server.HTTPPort
	if httpPort == "" {
		httpPort = getEnv("HTTP_PORT", "8080")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during graceful shutdown", "error", err)
	}
}

// upstreamFactory builds an UpstreamFactory for the named provider entry in
// cfg.Providers. The gateway is BYOK: the returned factory is called with
// the upstream key the inbound request carried (x-api-key or Authorization
// header) and authenticates with exactly that key. The provider's
// configured api_key_env is used only as a fallback for requests that
// supply no credential of their own. Returns nil if the provider is not
// configured.
func upstreamFactory(cfg *config.Config, name string, logger *slog.Logger) proxyapi.UpstreamFactory {
	p, ok := cfg.Providers[name]
	if !ok {
		return nil
	}
	fallbackKey := os.Getenv(p.APIKeyEnv)

	var inner proxyapi.UpstreamFactory
	switch p.Type {
	case "anthropic":
		inner = proxyapi.NewAnthropicFactory()
	case "openai":
		inner = proxyapi.NewOpenAIFactory(p.BaseURL)
	default:
		logger.Warn("unknown provider type, skipping", "provider", name, "type", p.Type)
		return nil
	}

	withFallback := func(apiKey string) provider.Client {
		if apiKey == "" {
			apiKey = fallbackKey
			if apiKey == "" {
				logger.Warn("upstream call has no request-supplied or fallback API key", "provider", name)
			}
		}
		return inner(apiKey)
	}

	limiter := rateLimiterFor(p)
	if limiter == nil {
		return withFallback
	}
	logger.Info("rate limiting upstream provider", "provider", name, "rps", p.RateLimit, "burst", p.RateBurst)
	return func(apiKey string) provider.Client { return provider.RateLimited(withFallback(apiKey), limiter) }
}

// rateLimiterFor builds a *rate.Limiter from p's configured requests-per-
// second budget, or nil when no limit is configured (RateLimit <= 0).
func rateLimiterFor(p config.ProviderConfig) *rate.Limiter {
	if p.RateLimit <= 0 {
		return nil
	}
	burst := p.RateBurst
	if burst <= 0 {
		burst = p.RateLimit
	}
	return rate.NewLimiter(rate.Limit(p.RateLimit), burst)
}
