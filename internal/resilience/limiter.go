package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig bounds call volume to one external service.
type LimiterConfig struct {
	PerMinute     int
	Burst         int
	MaxConcurrent int
}

// Limiter queues callers until a token and a concurrency slot are free.
type Limiter struct {
	tokens *rate.Limiter
	slots  chan struct{}
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	l := &Limiter{tokens: rate.NewLimiter(rate.Inf, 1)}
	if cfg.PerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.tokens = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), burst)
	}
	if cfg.MaxConcurrent > 0 {
		l.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return l
}

// Acquire blocks until the call may proceed. The returned release must be called once the call ends.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	release := func() {}
	if l.slots != nil {
		var once sync.Once
		release = func() { once.Do(func() { <-l.slots }) }
	}

	if err := l.tokens.Wait(ctx); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// InFlight returns the number of held concurrency slots.
func (l *Limiter) InFlight() int {
	if l.slots == nil {
		return 0
	}
	return len(l.slots)
}
