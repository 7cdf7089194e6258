// Package anthropic implements provider.Client against the Anthropic Messages
// API using github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/codeready-toolchain/gateway/pkg/provider"
)

// messagesClient captures the subset of the SDK client this adapter drives,
// so tests can substitute a fake.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client adapts the Anthropic Messages API to provider.Client.
type Client struct {
	msg messagesClient
}

// New builds a Client from a configured Anthropic Messages service.
func New(msg messagesClient) *Client {
	return &Client{msg: msg}
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP transport.
// Per the isolation requirement for secondary-model calls, callers wanting a
// fresh client with no shared state should call this again rather than reuse
// one returned earlier.
func NewFromAPIKey(apiKey string) *Client {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages)
}

// Generate performs a non-streaming Messages.New call.
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

// Stream performs a streaming Messages.New call and adapts the SSE events
// into provider.Chunk values.
func (c *Client) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}

	chunks := make(chan provider.Chunk, 32)
	go runStream(ctx, stream, chunks)
	return chunks, nil
}

func buildParams(req *provider.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	if req.MaxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	return &params, nil
}

func encodeMessages(msgs []provider.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case provider.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						return nil, fmt.Errorf("anthropic: tool call %q has malformed arguments: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case provider.RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeTools(defs []provider.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.ParametersSchema) > 0 {
			_ = json.Unmarshal(def.ParametersSchema, &schema)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func translateMessage(msg *sdk.Message) *provider.Response {
	resp := &provider.Response{
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	return resp
}

type toolBuffer struct {
	id, name string
}

func runStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- provider.Chunk) {
	defer close(out)
	defer func() { _ = stream.Close() }()

	tools := make(map[int]*toolBuffer)

	emit := func(c provider.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				tools[int(ev.Index)] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					if !emit(provider.Chunk{Type: provider.ChunkTypeText, TextDelta: delta.Text}) {
						return
					}
				}
			case sdk.InputJSONDelta:
				tb := tools[idx]
				if tb == nil {
					continue
				}
				if !emit(provider.Chunk{
					Type:      provider.ChunkTypeToolCall,
					CallIndex: idx,
					CallID:    tb.id,
					CallName:  tb.name,
					ArgsDelta: delta.PartialJSON,
				}) {
					return
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if tb := tools[idx]; tb != nil {
				delete(tools, idx)
				if !emit(provider.Chunk{
					Type:      provider.ChunkTypeToolCall,
					CallIndex: idx,
					CallID:    tb.id,
					CallName:  tb.name,
					IsFinal:   true,
				}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			if ev.Usage.OutputTokens != 0 {
				if !emit(provider.Chunk{Type: provider.ChunkTypeUsage, OutputTokens: int(ev.Usage.OutputTokens)}) {
					return
				}
			}
			if ev.Delta.StopReason != "" {
				if !emit(provider.Chunk{Type: provider.ChunkTypeStop, StopReason: string(ev.Delta.StopReason)}) {
					return
				}
			}
		case sdk.MessageStartEvent:
			if ev.Message.Usage.InputTokens != 0 {
				emit(provider.Chunk{Type: provider.ChunkTypeUsage, InputTokens: int(ev.Message.Usage.InputTokens)})
			}
		}
	}
	if err := stream.Err(); err != nil {
		emit(provider.Chunk{Type: provider.ChunkTypeError, Err: err})
	}
}
