package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps client so every Generate/Stream call first waits on
// limiter, enforcing the per-provider requests-per-second budget configured
// for that upstream. limiter may be nil, in which case the client is
// returned unwrapped.
func RateLimited(client Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return client
	}
	return &rateLimitedClient{client: client, limiter: limiter}
}

type rateLimitedClient struct {
	client  Client
	limiter *rate.Limiter
}

func (c *rateLimitedClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.client.Generate(ctx, req)
}

func (c *rateLimitedClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.client.Stream(ctx, req)
}
