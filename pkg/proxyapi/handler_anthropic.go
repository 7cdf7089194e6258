package proxyapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/gateway/pkg/proxy"
)

// anthropicMessagesHandler handles POST /v1/anthropic/v1/messages and
// POST /v1/anthropic/v1/:agentId/messages, both streaming and non-streaming.
func (s *Server) anthropicMessagesHandler(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	req, toolDecls, err := decodeAnthropicRequest(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, encodeAnthropicError("invalid_request_error", err.Error()))
	}

	apiKey := c.Request().Header.Get("x-api-key")
	rc := proxy.RequestContext{
		AgentIDHint:    c.Param("agentId"),
		UserAgent:      c.Request().UserAgent(),
		ChatID:         chatIDFromRequest(c),
		ProviderName:   "anthropic",
		Req:            req,
		ToolDecls:      anthropicDeclarationsToRepo(toolDecls),
		Upstream:       s.anthropicNew(apiKey),
		UpstreamAPIKey: apiKey,
	}

	if wantsStream(body) {
		return s.streamAnthropic(c, rc)
	}
	return s.unaryAnthropic(c, rc)
}

func (s *Server) unaryAnthropic(c *echo.Context, rc proxy.RequestContext) error {
	outcome, err := s.orchestrator.Handle(c.Request().Context(), rc)
	if err != nil {
		return c.JSON(httpStatusFor(err), encodeAnthropicError("api_error", err.Error()))
	}
	if outcome.Refusal != nil {
		return c.JSON(http.StatusOK, encodeAnthropicRefusal(rc.Req.Model, outcome.Refusal.UserMessage))
	}
	return c.JSON(http.StatusOK, encodeAnthropicResponse(rc.Req.Model, outcome.Response))
}

func (s *Server) streamAnthropic(c *echo.Context, rc proxy.RequestContext) error {
	events, err := s.orchestrator.HandleStreaming(c.Request().Context(), rc)
	if err != nil {
		return c.JSON(httpStatusFor(err), encodeAnthropicError("api_error", err.Error()))
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	msgID := newMessageID("msg")
	blockOpen := false
	blockIndex := 0

	writeSSE := func(event string, data interface{}) {
		payload, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		w.Flush()
	}

	writeSSE("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id": msgID, "type": "message", "role": "assistant", "model": rc.Req.Model,
			"content": []interface{}{}, "usage": map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
		},
	})

	for ev := range events {
		switch ev.Type {
		case proxy.StreamEventDualLLMStarted:
			writeSSE("dual_llm_started", map[string]interface{}{"type": "dual_llm_started"})
		case proxy.StreamEventDualLLMProgress:
			writeSSE("dual_llm_progress", map[string]interface{}{
				"type": "dual_llm_progress", "tool_call_id": ev.Progress.ToolCallID,
				"question": ev.Progress.Question, "options": ev.Progress.Options, "answer": ev.Progress.Answer,
			})
		case proxy.StreamEventText:
			if !blockOpen {
				writeSSE("content_block_start", map[string]interface{}{
					"type": "content_block_start", "index": blockIndex,
					"content_block": map[string]interface{}{"type": "text", "text": ""},
				})
				blockOpen = true
			}
			writeSSE("content_block_delta", map[string]interface{}{
				"type": "content_block_delta", "index": blockIndex,
				"delta": map[string]interface{}{"type": "text_delta", "text": ev.TextDelta},
			})
		case proxy.StreamEventToolUse:
			if blockOpen {
				writeSSE("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": blockIndex})
				blockIndex++
				blockOpen = false
			}
			var input interface{}
			_ = json.Unmarshal([]byte(ev.ToolArgsJSON), &input)
			writeSSE("content_block_start", map[string]interface{}{
				"type": "content_block_start", "index": blockIndex,
				"content_block": map[string]interface{}{"type": "tool_use", "id": ev.ToolCallID, "name": ev.ToolName, "input": input},
			})
			writeSSE("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": blockIndex})
			blockIndex++
		case proxy.StreamEventRefusal:
			writeSSE("content_block_start", map[string]interface{}{
				"type": "content_block_start", "index": blockIndex,
				"content_block": map[string]interface{}{"type": "text", "text": ""},
			})
			writeSSE("content_block_delta", map[string]interface{}{
				"type": "content_block_delta", "index": blockIndex,
				"delta": map[string]interface{}{"type": "text_delta", "text": ev.Refusal.UserMessage},
			})
			writeSSE("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": blockIndex})
		case proxy.StreamEventMessageDelta:
			if blockOpen {
				writeSSE("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": blockIndex})
				blockOpen = false
			}
			writeSSE("message_delta", map[string]interface{}{
				"type":  "message_delta",
				"delta": map[string]interface{}{"stop_reason": ev.StopReason},
				"usage": map[string]interface{}{"input_tokens": ev.InputTokens, "output_tokens": ev.OutputTokens},
			})
		case proxy.StreamEventStop:
			writeSSE("message_stop", map[string]interface{}{"type": "message_stop"})
		case proxy.StreamEventError:
			writeSSE("error", encodeAnthropicError("api_error", ev.Err.Error()))
		}
	}
	return nil
}

// wantsStream peeks at the raw body for "stream": true without fully
// re-decoding; decodeAnthropicRequest already consumed the typed fields.
func wantsStream(body []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Stream
}

func chatIDFromRequest(c *echo.Context) string {
	if id := c.Request().Header.Get("X-Chat-Id"); id != "" {
		return id
	}
	return newMessageID("chat")
}
