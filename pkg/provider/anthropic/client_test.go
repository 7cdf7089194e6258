package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gateway/pkg/provider"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func TestGenerate_TextAndToolUse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello"},
				{Type: "tool_use", ID: "call-1", Name: "lookup", Input: map[string]any{"q": "x"}},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl := New(stub)

	resp, err := cl.Generate(context.Background(), &provider.Request{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 128,
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestGenerate_RequiresMaxTokens(t *testing.T) {
	cl := New(&stubMessagesClient{})

	_, err := cl.Generate(context.Background(), &provider.Request{
		Model:    "claude-3-5-sonnet",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})

	assert.Error(t, err)
}

func TestGenerate_RequiresAtLeastOneMessage(t *testing.T) {
	cl := New(&stubMessagesClient{})

	_, err := cl.Generate(context.Background(), &provider.Request{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 128,
	})

	assert.Error(t, err)
}
