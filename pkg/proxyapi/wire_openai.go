package proxyapi

import (
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/gateway/pkg/provider"
)

// openaiRequest mirrors the inbound shape of POST /v1/chat/completions.
type openaiRequest struct {
	Model     string          `json:"model"`
	Stream    bool            `json:"stream,omitempty"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Messages  []openaiMessage `json:"messages"`
	Tools     []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

func decodeOpenAIRequest(body []byte) (*provider.Request, []openaiTool, error) {
	var req openaiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, fmt.Errorf("malformed request body: %w", err)
	}

	var system string
	messages := make([]provider.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem {
			system += m.Content
			continue
		}
		pm := provider.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		messages = append(messages, pm)
	}

	out := &provider.Request{
		Model:     req.Model,
		System:    system,
		MaxTokens: req.MaxTokens,
		Messages:  messages,
		Tools:     encodeOpenAIToolDefs(req.Tools),
	}
	return out, req.Tools, nil
}

func encodeOpenAIToolDefs(tools []openaiTool) []provider.ToolDefinition {
	out := make([]provider.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, provider.ToolDefinition{
			Name:             t.Function.Name,
			Description:      t.Function.Description,
			ParametersSchema: t.Function.Parameters,
		})
	}
	return out
}

func openaiDeclarationsToRepo(tools []openaiTool) []toolDeclaration {
	out := make([]toolDeclaration, 0, len(tools))
	for _, t := range tools {
		var params map[string]interface{}
		if len(t.Function.Parameters) > 0 {
			_ = json.Unmarshal(t.Function.Parameters, &params)
		}
		out = append(out, toolDeclaration{Name: t.Function.Name, Description: t.Function.Description, Parameters: params})
	}
	return out
}

// encodeOpenAIResponse renders a provider.Response as a non-streaming
// chat.completion response body.
func encodeOpenAIResponse(model string, resp *provider.Response) map[string]interface{} {
	message := map[string]interface{}{"role": "assistant"}
	if resp.Text != "" {
		message["content"] = resp.Text
	} else {
		message["content"] = nil
	}
	if len(resp.ToolCalls) > 0 {
		calls := make([]map[string]interface{}, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			calls = append(calls, map[string]interface{}{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			})
		}
		message["tool_calls"] = calls
	}

	return map[string]interface{}{
		"id":      newMessageID("chatcmpl"),
		"object":  "chat.completion",
		"model":   model,
		"choices": []map[string]interface{}{{"index": 0, "message": message, "finish_reason": openAIFinishReason(resp)}},
		"usage": map[string]interface{}{
			"prompt_tokens":     resp.InputTokens,
			"completion_tokens": resp.OutputTokens,
			"total_tokens":      resp.InputTokens + resp.OutputTokens,
		},
	}
}

func openAIFinishReason(resp *provider.Response) string {
	if len(resp.ToolCalls) > 0 {
		return "tool_calls"
	}
	if resp.StopReason != "" {
		return resp.StopReason
	}
	return "stop"
}

// encodeOpenAIRefusal renders a refusal using Chat Completions' native
// message.refusal field — a 200 response, not an error.
func encodeOpenAIRefusal(model, userMessage string) map[string]interface{} {
	return map[string]interface{}{
		"id":     newMessageID("chatcmpl"),
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]interface{}{{
			"index": 0,
			"message": map[string]interface{}{
				"role":    "assistant",
				"refusal": userMessage,
			},
			"finish_reason": "stop",
		}},
	}
}

// encodeOpenAIError renders an upstream/internal failure as the OpenAI-native
// error envelope.
func encodeOpenAIError(errType, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
		},
	}
}
