package ratelimit

import (
	"context"
	"time"
)

// Limiter admits at most limit events per key inside a sliding window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}
