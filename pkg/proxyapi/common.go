// Package proxyapi is the Echo v5 HTTP surface: one handler per supported
// provider wire protocol (Anthropic Messages, OpenAI Chat Completions), both
// driving the shared proxy.Orchestrator, plus the health/admin endpoints.
package proxyapi

import (
	"github.com/google/uuid"

	"github.com/codeready-toolchain/gateway/pkg/proxy"
)

// toolDeclaration is the wire layer's name for the orchestrator's tool
// upsert input, built from each provider's native tool-declaration shape
// before any agent-scoped defaults are known.
type toolDeclaration = proxy.Declaration

func newMessageID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
