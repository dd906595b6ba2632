package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	ErrOpen          = errors.New("circuit breaker is open")
	ErrHalfOpenLimit = errors.New("circuit breaker is half-open, probe limit reached")
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	Name                string
	FailureThreshold    int           // consecutive failures before opening
	SuccessThreshold    int           // half-open successes before closing
	ResetTimeout        time.Duration // time open before probing
	MaxRequestsHalfOpen int           // concurrent probes while half-open

	// IsFailure decides whether an error counts against the breaker. Nil counts every error.
	IsFailure func(err error) bool
	// OnStateChange is called with the lock released.
	OnStateChange func(name string, from, to State)
	Clock         clock.Clock
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		ResetTimeout:        30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// CircuitBreaker stops calling a dependency that keeps failing and lets a
// limited number of probes through after ResetTimeout.
type CircuitBreaker struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
}

func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxRequestsHalfOpen <= 0 {
		cfg.MaxRequestsHalfOpen = 1
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &CircuitBreaker{cfg: cfg, clock: clk, state: StateClosed}
}

// Execute runs fn unless the breaker is open. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if cb.state == StateOpen {
		if cb.clock.Since(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrOpen
		}
		changed = cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.cfg.MaxRequestsHalfOpen {
			return ErrHalfOpenLimit
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}

	if err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)) {
		cb.failures++
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.cfg.FailureThreshold {
				changed = cb.transition(StateOpen)
			}
		case StateHalfOpen:
			changed = cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			changed = cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held. It returns the notification to run
// after unlocking.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	cb.successes = 0
	cb.inFlight = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
	case StateClosed:
		cb.failures = 0
	}
	if cb.cfg.OnStateChange == nil || from == to {
		return nil
	}
	name, notify := cb.cfg.Name, cb.cfg.OnStateChange
	return func() { notify(name, from, to) }
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.transition(StateClosed)
	cb.mu.Unlock()
	if changed != nil {
		changed()
	}
}
