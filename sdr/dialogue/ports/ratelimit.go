package dialogueports

import "context"

// RateLimiter coordinates throughput to the completion provider.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
