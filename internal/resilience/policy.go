package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PolicyConfig is the full resilience setup for one external integration.
type PolicyConfig struct {
	Name    string
	Retry   RetryConfig
	Limiter LimiterConfig
	Breaker BreakerConfig
	// Timeout bounds a single attempt. Zero means the caller's context only.
	Timeout time.Duration
}

// Policy applies retry, rate limiting, circuit breaking and a per-attempt
// timeout, in that order from the outside in.
type Policy struct {
	name     string
	retry    RetryConfig
	timeout  time.Duration
	limiter  *Limiter
	breaker  *Breaker
	observer Observer
	logger   *zap.Logger
}

func NewPolicy(cfg PolicyConfig, logger *zap.Logger, observer Observer) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		name:     cfg.Name,
		retry:    cfg.Retry,
		timeout:  cfg.Timeout,
		limiter:  NewLimiter(cfg.Limiter),
		breaker:  NewBreaker(cfg.Name, cfg.Breaker, observer),
		observer: observer,
		logger:   logger.With(zap.String("integration", cfg.Name)),
	}
}

func (p *Policy) Name() string {
	return p.name
}

func (p *Policy) State() State {
	return p.breaker.State()
}

// Do runs fn under the policy.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	return Retry(ctx, p.retry, p.onRetry, func(ctx context.Context) error {
		release, err := p.limiter.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		return p.breaker.Execute(func() error {
			callCtx := ctx
			if p.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, p.timeout)
				defer cancel()
			}
			return fn(callCtx)
		})
	})
}

// DoUnlimited runs fn with retry, breaker and timeout but without taking a
// rate-limit token. Status polls use it so they do not eat the submit quota.
func (p *Policy) DoUnlimited(ctx context.Context, fn func(context.Context) error) error {
	return Retry(ctx, p.retry, p.onRetry, func(ctx context.Context) error {
		return p.breaker.Execute(func() error {
			callCtx := ctx
			if p.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, p.timeout)
				defer cancel()
			}
			return fn(callCtx)
		})
	})
}

func (p *Policy) onRetry(err error, wait time.Duration, attempt int) {
	p.logger.Warn("retrying call",
		zap.Int("attempt", attempt),
		zap.Duration("backoff", wait),
		zap.Error(err),
	)
	if p.observer != nil {
		p.observer(Event{Integration: p.name, Kind: EventRetry, Attempt: attempt, Err: err, At: time.Now()})
	}
}

// Execute is Do for calls that return a value.
func Execute[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Registry keeps the shared policy of every integration so concurrent jobs
// are throttled together.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]*Policy)}
}

func (r *Registry) Register(p *Policy) *Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name()] = p
	return p
}

func (r *Registry) Get(name string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// States reports the breaker state per integration.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.policies))
	for name, p := range r.policies {
		out[name] = p.State()
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogObserver writes breaker events to the logger.
func LogObserver(logger *zap.Logger) Observer {
	return func(e Event) {
		switch e.Kind {
		case EventStateChange:
			logger.Warn("circuit breaker state changed",
				zap.String("integration", e.Integration),
				zap.String("from", string(e.From)),
				zap.String("to", string(e.To)),
			)
		case EventRejected:
			logger.Warn("circuit breaker rejected call", zap.String("integration", e.Integration))
		case EventFailure:
			logger.Debug("integration call failed", zap.String("integration", e.Integration), zap.Error(e.Err))
		}
	}
}
