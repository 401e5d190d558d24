package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.Equal(t, rate.Inf, rl.limiter.Limit())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for i := 0; i < 1000; i++ {
		assert.NoError(t, rl.Wait(ctx))
	}
}

func TestClamp(t *testing.T) {
	rl := NewRateLimiter(10_000)
	assert.Equal(t, rate.Limit(MaxSafetyRPS), rl.limiter.Limit())
}

func TestWaitHonoursDeadline(t *testing.T) {
	rl := NewRateLimiter(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// burst is consumed immediately, the next token is a second away
	for i := 0; i < DefaultBurstSize; i++ {
		assert.NoError(t, rl.Wait(ctx))
	}
	assert.Error(t, rl.Wait(ctx))
}

func TestSetReusesLimiters(t *testing.T) {
	s := NewSet(5)
	a := s.For("btc/mainnet/http://a")
	assert.Same(t, a, s.For("btc/mainnet/http://a"))
	assert.NotSame(t, a, s.For("btc/mainnet/http://b"))
}
