// Package mcpclient executes managed-tool calls against the MCP endpoint
// each Tool is backed by, and exposes a StubExecutor for tests that should
// not dial out.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/version"
)

// Executor abstracts managed-tool invocation for the proxy orchestrator.
// Routing/argument errors are surfaced as a ToolResult with IsError set, not
// as a Go error — only transport-level failures (connect, context
// cancellation) return a Go error.
type Executor interface {
	Execute(ctx context.Context, call provider.ToolCall, endpoint string) (*ToolResult, error)
	Close() error
}

// ToolResult is the output of a managed-tool invocation.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// HTTPExecutor dials each Tool's MCP endpoint over streamable HTTP and
// caches the session for the lifetime of the request. One Executor is
// created per inbound proxy request, so sessions never outlive a request.
type HTTPExecutor struct {
	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // endpoint -> session
	logger   *slog.Logger
}

// NewHTTPExecutor returns an Executor that lazily connects to tool
// endpoints as calls are made.
func NewHTTPExecutor(logger *slog.Logger) *HTTPExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExecutor{
		sessions: make(map[string]*mcpsdk.ClientSession),
		logger:   logger,
	}
}

func (e *HTTPExecutor) sessionFor(ctx context.Context, endpoint string) (*mcpsdk.ClientSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[endpoint]; ok {
		return s, nil
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	transport := &mcpsdk.StreamableClientTransport{Endpoint: endpoint}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to tool endpoint %q: %w", endpoint, err)
	}

	e.sessions[endpoint] = session
	return session, nil
}

// Execute calls the named tool on its MCP endpoint. On a routing or
// argument-parse failure it returns a ToolResult with IsError set and a nil
// Go error, matching the MCP convention that tool-level failures are
// reported as content, not as transport errors.
func (e *HTTPExecutor) Execute(ctx context.Context, call provider.ToolCall, endpoint string) (*ToolResult, error) {
	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return &ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("invalid tool arguments for %q: %v", call.Name, err),
				IsError: true,
			}, nil
		}
	}

	session, err := e.sessionFor(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		return &ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("tool %q failed: %v", call.Name, err),
			IsError: true,
		}, nil
	}

	content := extractTextContent(result)
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
		IsError: result.IsError,
	}, nil
}

// Close disconnects every session opened for this request.
func (e *HTTPExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for endpoint, session := range e.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing session for %q: %w", endpoint, err)
		}
	}
	e.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}

func extractTextContent(result *mcpsdk.CallToolResult) string {
	var out string
	for _, block := range result.Content {
		if text, ok := block.(*mcpsdk.TextContent); ok {
			out += text.Text
		} else {
			slog.Debug("skipping non-text MCP content block", "type", fmt.Sprintf("%T", block))
		}
	}
	return out
}

// StubExecutor returns canned responses without dialing out. Used in unit
// tests for the proxy orchestrator.
type StubExecutor struct {
	Responses map[string]*ToolResult // keyed by call.Name
}

// NewStubExecutor returns a StubExecutor with no canned responses; callers
// populate Responses directly.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{Responses: make(map[string]*ToolResult)}
}

func (s *StubExecutor) Execute(_ context.Context, call provider.ToolCall, _ string) (*ToolResult, error) {
	if r, ok := s.Responses[call.Name]; ok {
		r.CallID = call.ID
		return r, nil
	}
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("[stub] %s called with %s", call.Name, call.Arguments),
	}, nil
}

func (s *StubExecutor) Close() error { return nil }
