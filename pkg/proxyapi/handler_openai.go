package proxyapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/gateway/pkg/proxy"
)

// bearerToken strips the "Bearer " scheme prefix from an Authorization
// header value, consistent with the OpenAI wire protocol's
// "Authorization: Bearer <key>" convention. Returns header unchanged if the
// scheme prefix is absent (the caller sent the bare key).
func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return header[len(prefix):]
	}
	return header
}

// openaiChatCompletionsHandler handles POST /v1/openai/v1/chat/completions
// and POST /v1/openai/v1/:agentId/chat/completions, both streaming and
// non-streaming.
func (s *Server) openaiChatCompletionsHandler(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	req, tools, err := decodeOpenAIRequest(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, encodeOpenAIError("invalid_request_error", err.Error()))
	}

	apiKey := bearerToken(c.Request().Header.Get("Authorization"))
	rc := proxy.RequestContext{
		AgentIDHint:    c.Param("agentId"),
		UserAgent:      c.Request().UserAgent(),
		ChatID:         chatIDFromRequest(c),
		ProviderName:   "openai",
		Req:            req,
		ToolDecls:      openaiDeclarationsToRepo(tools),
		Upstream:       s.openaiNew(apiKey),
		UpstreamAPIKey: apiKey,
	}

	if wantsStream(body) {
		return s.streamOpenAI(c, rc)
	}
	return s.unaryOpenAI(c, rc)
}

func (s *Server) unaryOpenAI(c *echo.Context, rc proxy.RequestContext) error {
	outcome, err := s.orchestrator.Handle(c.Request().Context(), rc)
	if err != nil {
		return c.JSON(httpStatusFor(err), encodeOpenAIError("api_error", err.Error()))
	}
	if outcome.Refusal != nil {
		return c.JSON(http.StatusOK, encodeOpenAIRefusal(rc.Req.Model, outcome.Refusal.UserMessage))
	}
	return c.JSON(http.StatusOK, encodeOpenAIResponse(rc.Req.Model, outcome.Response))
}

// streamOpenAI streams chat.completion.chunk SSE events, terminated by the
// literal "data: [DONE]" sentinel the OpenAI wire protocol expects.
func (s *Server) streamOpenAI(c *echo.Context, rc proxy.RequestContext) error {
	events, err := s.orchestrator.HandleStreaming(c.Request().Context(), rc)
	if err != nil {
		return c.JSON(httpStatusFor(err), encodeOpenAIError("api_error", err.Error()))
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	chunkID := newMessageID("chatcmpl")

	writeChunk := func(delta map[string]interface{}, finishReason interface{}) {
		chunk := map[string]interface{}{
			"id": chunkID, "object": "chat.completion.chunk", "model": rc.Req.Model,
			"choices": []map[string]interface{}{
				{"index": 0, "delta": delta, "finish_reason": finishReason},
			},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()
	}

	writeChunk(map[string]interface{}{"role": "assistant"}, nil)

	toolCallIndex := 0
	for ev := range events {
		switch ev.Type {
		case proxy.StreamEventText:
			writeChunk(map[string]interface{}{"content": ev.TextDelta}, nil)
		case proxy.StreamEventToolUse:
			writeChunk(map[string]interface{}{
				"tool_calls": []map[string]interface{}{
					{
						"index": toolCallIndex,
						"id":    ev.ToolCallID,
						"type":  "function",
						"function": map[string]interface{}{
							"name":      ev.ToolName,
							"arguments": ev.ToolArgsJSON,
						},
					},
				},
			}, nil)
			toolCallIndex++
		case proxy.StreamEventRefusal:
			writeChunk(map[string]interface{}{"refusal": ev.Refusal.UserMessage}, nil)
		case proxy.StreamEventMessageDelta:
			finish := "stop"
			if toolCallIndex > 0 {
				finish = "tool_calls"
			}
			if ev.StopReason == "refusal" {
				finish = "stop"
			}
			writeChunk(map[string]interface{}{}, finish)
		case proxy.StreamEventStop:
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
		case proxy.StreamEventError:
			writeChunk(map[string]interface{}{}, "stop")
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
		}
	}
	return nil
}
