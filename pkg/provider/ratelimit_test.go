package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type recordingClient struct {
	generateCalls int
	streamCalls   int
}

func (c *recordingClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	c.generateCalls++
	return &Response{Text: "ok"}, nil
}

func (c *recordingClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	c.streamCalls++
	ch := make(chan Chunk)
	close(ch)
	return ch, nil
}

func TestRateLimited_NilLimiterReturnsClientUnwrapped(t *testing.T) {
	inner := &recordingClient{}
	wrapped := RateLimited(inner, nil)
	assert.Same(t, inner, wrapped)
}

func TestRateLimited_WaitsOnLimiterBeforeDelegating(t *testing.T) {
	inner := &recordingClient{}
	limiter := rate.NewLimiter(rate.Inf, 1)
	wrapped := RateLimited(inner, limiter)

	_, err := wrapped.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.generateCalls)

	_, err = wrapped.Stream(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.streamCalls)
}

func TestRateLimited_RespectsContextCancellation(t *testing.T) {
	inner := &recordingClient{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow() // drain the single burst token so the next Wait must block

	wrapped := RateLimited(inner, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.Generate(ctx, &Request{})
	assert.Error(t, err)
	assert.Equal(t, 0, inner.generateCalls)
}
