package proxyapi

import (
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/gateway/pkg/provider"
)

// anthropicRequest mirrors the inbound shape of POST /v1/messages, the
// subset this gateway needs to translate into provider.Request.
type anthropicRequest struct {
	Model     string              `json:"model"`
	System    json.RawMessage     `json:"system,omitempty"`
	MaxTokens int                 `json:"max_tokens"`
	Stream    bool                `json:"stream,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Tools     []anthropicToolDecl `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicToolDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// decodeAnthropicRequest translates the wire body into the provider-agnostic
// request shape plus the tool declarations to upsert against the agent.
func decodeAnthropicRequest(body []byte) (*provider.Request, []anthropicToolDecl, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, fmt.Errorf("malformed request body: %w", err)
	}

	messages, err := decodeAnthropicMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}

	out := &provider.Request{
		Model:     req.Model,
		System:    decodeAnthropicSystem(req.System),
		MaxTokens: req.MaxTokens,
		Messages:  messages,
		Tools:     encodeAnthropicToolDefs(req.Tools),
	}
	return out, req.Tools, nil
}

func decodeAnthropicSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out
}

// decodeAnthropicMessages expands each wire message into one or more
// provider.Message: a tool_result block becomes its own RoleTool message,
// since the gateway's internal shape keeps tool results as distinct entries.
func decodeAnthropicMessages(msgs []anthropicMessage) ([]provider.Message, error) {
	var out []provider.Message
	for _, m := range msgs {
		blocks, plain, err := parseAnthropicContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("message with role %q: %w", m.Role, err)
		}
		if plain != "" {
			out = append(out, provider.Message{Role: m.Role, Content: plain})
			continue
		}

		switch m.Role {
		case provider.RoleUser:
			var text string
			for _, b := range blocks {
				switch b.Type {
				case "text":
					text += b.Text
				case "tool_result":
					out = append(out, provider.Message{
						Role:       provider.RoleTool,
						Content:    b.Content,
						ToolCallID: b.ToolUseID,
					})
				}
			}
			if text != "" {
				out = append(out, provider.Message{Role: provider.RoleUser, Content: text})
			}
		case provider.RoleAssistant:
			assistantMsg := provider.Message{Role: provider.RoleAssistant}
			for _, b := range blocks {
				switch b.Type {
				case "text":
					assistantMsg.Content += b.Text
				case "tool_use":
					assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, provider.ToolCall{
						ID:        b.ID,
						Name:      b.Name,
						Arguments: string(b.Input),
					})
				}
			}
			out = append(out, assistantMsg)
		default:
			return nil, fmt.Errorf("unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func parseAnthropicContent(raw json.RawMessage) ([]anthropicContentBlock, string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nil, s, nil
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, "", fmt.Errorf("malformed content: %w", err)
	}
	return blocks, "", nil
}

func encodeAnthropicToolDefs(decls []anthropicToolDecl) []provider.ToolDefinition {
	out := make([]provider.ToolDefinition, 0, len(decls))
	for _, d := range decls {
		out = append(out, provider.ToolDefinition{
			Name:             d.Name,
			Description:      d.Description,
			ParametersSchema: d.InputSchema,
		})
	}
	return out
}

// anthropicDeclarationsToRepo converts the wire-level tool declarations into
// the repository upsert shape. Trust defaults are left at zero value — only
// an agent operator sets those, never an inbound request.
func anthropicDeclarationsToRepo(decls []anthropicToolDecl) []toolDeclaration {
	out := make([]toolDeclaration, 0, len(decls))
	for _, d := range decls {
		var params map[string]interface{}
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &params)
		}
		out = append(out, toolDeclaration{Name: d.Name, Description: d.Description, Parameters: params})
	}
	return out
}

// encodeAnthropicResponse renders a provider.Response as a non-streaming
// Anthropic Messages API response body.
func encodeAnthropicResponse(model string, resp *provider.Response) map[string]interface{} {
	content := make([]map[string]interface{}, 0, 1+len(resp.ToolCalls))
	if resp.Text != "" {
		content = append(content, map[string]interface{}{"type": "text", "text": resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		var input interface{}
		if tc.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Arguments), &input)
		}
		content = append(content, map[string]interface{}{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": input,
		})
	}
	return map[string]interface{}{
		"id":          newMessageID("msg"),
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     content,
		"stop_reason": resp.StopReason,
		"usage": map[string]interface{}{
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		},
	}
}

// encodeAnthropicRefusal renders a refusal as a normal-shaped message whose
// text content carries the user-facing refusal message — refusals are 200
// responses, never error bodies.
func encodeAnthropicRefusal(model, userMessage string) map[string]interface{} {
	return map[string]interface{}{
		"id":    newMessageID("msg"),
		"type":  "message",
		"role":  "assistant",
		"model": model,
		"content": []map[string]interface{}{
			{"type": "text", "text": userMessage},
		},
		"stop_reason": "refusal",
	}
}

// encodeAnthropicError renders an upstream/internal failure as the
// Anthropic-native error envelope.
func encodeAnthropicError(errType, message string) map[string]interface{} {
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}
}
