package limiter

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// 公共节点的保护上限：即使配置更高也强制降级
const (
	MaxSafetyRPS     = 50
	DefaultBurstSize = 2
)

// RateLimiter 单个端点的令牌桶
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter for one endpoint. rps <= 0 disables
// limiting; values above MaxSafetyRPS are clamped.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if rps > MaxSafetyRPS {
		slog.Warn("endpoint_rps_clamped",
			slog.Float64("requested_rps", rps),
			slog.Float64("forced_rps", MaxSafetyRPS))
		rps = MaxSafetyRPS
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), DefaultBurstSize)}
}

// Wait blocks until a token is available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Set lazily creates one limiter per endpoint key, all with the same rate.
type Set struct {
	rps      float64
	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

func NewSet(rps float64) *Set {
	return &Set{rps: rps, limiters: make(map[string]*RateLimiter)}
}

// For returns the limiter for key, creating it on first use.
func (s *Set) For(key string) *RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.limiters[key]
	if !ok {
		rl = NewRateLimiter(s.rps)
		s.limiters[key] = rl
	}
	return rl
}
