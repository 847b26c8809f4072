package resilience

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/castreel/api/internal/apperr"
)

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// EventKind tells observers what happened.
type EventKind string

const (
	EventStateChange EventKind = "state_change"
	EventFailure     EventKind = "failure"
	EventRejected    EventKind = "rejected"
	EventRetry       EventKind = "retry"
)

// Event is emitted on breaker failures, rejections, state changes and retries.
type Event struct {
	Integration string
	Kind        EventKind
	From        State
	To          State
	Attempt     int
	Err         error
	At          time.Time
}

// Observer receives events. It must not block.
type Observer func(Event)

// BreakerConfig sets when the circuit trips and how long it stays open.
type BreakerConfig struct {
	Window           time.Duration
	Cooldown         time.Duration
	FailureRatio     float64
	MinRequests      uint32
	HalfOpenRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		FailureRatio:     0.5,
		MinRequests:      5,
		HalfOpenRequests: 1,
	}
}

// Breaker wraps one integration's calls in a gobreaker circuit.
type Breaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	observer Observer
}

func NewBreaker(name string, cfg BreakerConfig, observer Observer) *Breaker {
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	b := &Breaker{name: name, observer: observer}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.emit(Event{Kind: EventStateChange, From: fromGobreaker(from), To: fromGobreaker(to)})
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
	})
	return b
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if isBreakerRejection(err) {
		b.emit(Event{Kind: EventRejected, Err: err})
		return apperr.TransientProvider(b.name, err)
	}
	if countsAsFailure(err) {
		b.emit(Event{Kind: EventFailure, Err: err})
	}
	return err
}

func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

func (b *Breaker) emit(e Event) {
	if b.observer == nil {
		return
	}
	e.Integration = b.name
	e.At = time.Now()
	b.observer(e)
}
