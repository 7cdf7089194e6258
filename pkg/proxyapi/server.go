package proxyapi

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/gateway/pkg/events"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/provider/anthropic"
	"github.com/codeready-toolchain/gateway/pkg/provider/openai"
	"github.com/codeready-toolchain/gateway/pkg/proxy"
	"github.com/codeready-toolchain/gateway/pkg/repository"
	"github.com/codeready-toolchain/gateway/pkg/version"
	"github.com/codeready-toolchain/gateway/pkg/warnings"
)

// UpstreamFactory builds a fresh upstream provider.Client per request,
// authenticated with the caller-supplied apiKey (the BYOK model). The
// factories built in cmd/gateway substitute the provider's configured
// fallback key when apiKey is empty. baseURL (for OpenAI-compatible
// providers) is resolved once at startup and captured in the closure passed
// to NewServer.
type UpstreamFactory func(apiKey string) provider.Client

// Server is the HTTP API surface: one route group per supported provider
// wire protocol, driving the shared orchestrator.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	repo             repository.Repository
	orchestrator     *proxy.Orchestrator
	anthropicNew     UpstreamFactory
	openaiNew        UpstreamFactory
	providerBaseURLs map[string]string // provider name -> base URL, for the reverse-proxy passthrough
	warnings         *warnings.Service
	broadcaster      *events.Broadcaster
}

// NewServer builds a Server and registers every route. broadcaster may be
// nil, in which case the live admin trace endpoint responds 501 Not
// Implemented.
// providerBaseURLs supplies the passthrough target for every configured
// provider's non-completion routes (§6); it may be nil.
func NewServer(repo repository.Repository, orchestrator *proxy.Orchestrator, anthropicNew, openaiNew UpstreamFactory, providerBaseURLs map[string]string, broadcaster *events.Broadcaster) *Server {
	e := echo.New()
	s := &Server{
		echo:             e,
		repo:             repo,
		orchestrator:     orchestrator,
		anthropicNew:     anthropicNew,
		openaiNew:        openaiNew,
		providerBaseURLs: providerBaseURLs,
		warnings:         warnings.New(repo, nil),
		broadcaster:      broadcaster,
	}
	s.setupRoutes()
	return s
}

// NewAnthropicFactory builds an UpstreamFactory producing a fresh Anthropic
// client per call, satisfying the dual-LLM evaluator's isolation
// requirement as well as the per-request upstream call.
func NewAnthropicFactory() UpstreamFactory {
	return func(apiKey string) provider.Client { return anthropic.NewFromAPIKey(apiKey) }
}

// NewOpenAIFactory builds an UpstreamFactory for an OpenAI-compatible
// upstream. baseURL may be empty to use the default OpenAI endpoint.
func NewOpenAIFactory(baseURL string) UpstreamFactory {
	return func(apiKey string) provider.Client { return openai.NewFromAPIKey(apiKey, baseURL) }
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(4 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/metrics", s.metricsHandler)

	s.echo.POST("/v1/anthropic/v1/messages", s.anthropicMessagesHandler)
	s.echo.POST("/v1/anthropic/v1/:agentId/messages", s.anthropicMessagesHandler)

	s.echo.POST("/v1/openai/v1/chat/completions", s.openaiChatCompletionsHandler)
	s.echo.POST("/v1/openai/v1/:agentId/chat/completions", s.openaiChatCompletionsHandler)

	admin := s.echo.Group("/v1/admin")
	admin.GET("/interactions/:id", s.getInteractionHandler)
	admin.GET("/interactions", s.listInteractionsHandler)
	admin.GET("/interactions/stream", s.streamInteractionsHandler)
	admin.GET("/system/warnings", s.systemWarningsHandler)

	// Any other /v1/{provider}/... route is not a completion endpoint the
	// gateway mediates — forward it transparently to that provider's
	// upstream base URL.
	s.echo.Any("/v1/:provider/*", s.providerPassthroughHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests serving on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// metricsHandler serves the Prometheus default registry, delegating to the
// standard promhttp handler rather than re-implementing exposition
// formatting.
func (s *Server) metricsHandler(c *echo.Context) error {
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) healthHandler(c *echo.Context) error {
	_, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Full(),
	})
}
