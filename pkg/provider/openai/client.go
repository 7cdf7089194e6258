// Package openai implements provider.Client against an OpenAI-compatible
// Chat Completions API using github.com/openai/openai-go.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/codeready-toolchain/gateway/pkg/provider"
)

// chatClient captures the subset of the SDK client this adapter drives, so
// tests can substitute a fake.
type chatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

type Client struct {
	chat chatClient
}

// New builds a Client from a configured Chat Completions service.
func New(chat chatClient) *Client {
	return &Client{chat: chat}
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP transport.
// baseURL is optional; leave empty to use OpenAI's default endpoint (set it
// to point at any OpenAI-compatible upstream).
func NewFromAPIKey(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := sdk.NewClient(opts...)
	return New(&chatAdapter{svc: c.Chat.Completions})
}

// chatAdapter narrows the generated service to chatClient.
type chatAdapter struct {
	svc sdk.ChatCompletionService
}

func (a *chatAdapter) New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error) {
	return a.svc.New(ctx, body, opts...)
}

func (a *chatAdapter) NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk] {
	return a.svc.NewStreaming(ctx, body, opts...)
}

// Generate performs a non-streaming chat completion call.
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *body)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateCompletion(resp), nil
}

// Stream performs a streaming chat completion call and adapts the SSE deltas
// into provider.Chunk values.
func (c *Client) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	body, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *body)

	chunks := make(chan provider.Chunk, 32)
	go runStream(ctx, stream, chunks)
	return chunks, nil
}

func buildParams(req *provider.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}

	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, sdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case provider.RoleUser:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		case provider.RoleAssistant:
			msgs = append(msgs, encodeAssistantMessage(m))
		case provider.RoleTool:
			msgs = append(msgs, sdk.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}

	body := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		body.Tools = encodeTools(req.Tools)
	}
	return &body, nil
}

func encodeAssistantMessage(m provider.Message) sdk.ChatCompletionMessageParamUnion {
	msg := sdk.AssistantMessage(m.Content)
	if len(m.ToolCalls) > 0 && msg.OfAssistant != nil {
		calls := make([]sdk.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			calls = append(calls, sdk.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: sdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msg.OfAssistant.ToolCalls = calls
	}
	return msg
}

func encodeTools(defs []provider.ToolDefinition) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.ParametersSchema) > 0 {
			_ = json.Unmarshal(def.ParametersSchema, &schema)
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}

func translateCompletion(resp *sdk.ChatCompletion) *provider.Response {
	out := &provider.Response{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	out.StopReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func runStream(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk], out chan<- provider.Chunk) {
	defer close(out)
	defer func() { _ = stream.Close() }()

	type callState struct {
		id, name string
	}
	calls := make(map[int64]*callState)

	emit := func(c provider.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(provider.Chunk{Type: provider.ChunkTypeText, TextDelta: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := tc.Index
			st := calls[idx]
			if st == nil {
				st = &callState{id: tc.ID, name: tc.Function.Name}
				calls[idx] = st
			}
			if !emit(provider.Chunk{
				Type:      provider.ChunkTypeToolCall,
				CallIndex: int(idx),
				CallID:    st.id,
				CallName:  st.name,
				ArgsDelta: tc.Function.Arguments,
			}) {
				return
			}
		}
		if choice.FinishReason != "" {
			for idx, st := range calls {
				emit(provider.Chunk{Type: provider.ChunkTypeToolCall, CallIndex: int(idx), CallID: st.id, CallName: st.name, IsFinal: true})
			}
			if !emit(provider.Chunk{Type: provider.ChunkTypeStop, StopReason: string(choice.FinishReason)}) {
				return
			}
		}
		if chunk.Usage.TotalTokens != 0 {
			if !emit(provider.Chunk{
				Type:         provider.ChunkTypeUsage,
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}) {
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		emit(provider.Chunk{Type: provider.ChunkTypeError, Err: err})
	}
}
