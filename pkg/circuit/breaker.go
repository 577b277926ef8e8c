// Package circuit guards daemon and broker calls with a circuit breaker so a
// dead coin daemon does not stall the template loop on every poll.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/multipool/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all requests
	StateClosed State = iota
	// StateOpen rejects requests until the cool-down elapses
	StateOpen
	// StateHalfOpen lets probe requests through
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

// Config holds circuit breaker configuration
type Config struct {
	MaxFailures     int           // consecutive failures before opening
	SuccessRequired int           // probe successes needed to close from half-open
	Timeout         time.Duration // open period before probing
	ResetTimeout    time.Duration // idle period after which closed-state failures are forgotten

	// OnStateChange is invoked outside the breaker lock on every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the configuration used for daemon RPC
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailTime  time.Time
	lastResetTime time.Time
}

// New creates a named circuit breaker
func New(name string, config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	b := &Breaker{
		name:   name,
		config: *config,
		now:    time.Now,
	}
	b.lastResetTime = b.now()
	return b
}

// Name returns the breaker's name
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn if the breaker admits the request
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs fn under breaker protection and returns its result
func ExecuteWithResult[T any](_ context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if state, ok := b.admit(); !ok {
		return zero, errors.New(errors.ErrorTypeNetwork, "circuit_breaker", "circuit breaker is open").
			WithContext("breaker", b.name).
			WithContext("state", state.String())
	}

	res, err := fn()
	b.record(err)
	return res, err
}

func (b *Breaker) admit() (State, bool) {
	b.mu.Lock()
	now := b.now()
	from := b.state
	allowed := true

	switch b.state {
	case StateClosed:
		if now.Sub(b.lastResetTime) > b.config.ResetTimeout {
			b.failures = 0
			b.lastResetTime = now
		}
	case StateOpen:
		if now.Sub(b.lastFailTime) > b.config.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
		} else {
			allowed = false
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return to, allowed
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state

	if err != nil {
		b.failures++
		b.lastFailTime = b.now()
		if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.config.MaxFailures) {
			b.state = StateOpen
			b.successes = 0
		}
	} else {
		b.successes++
		switch b.state {
		case StateHalfOpen:
			if b.successes >= b.config.SuccessRequired {
				b.state = StateClosed
				b.failures = 0
				b.successes = 0
				b.lastResetTime = b.now()
			}
		case StateClosed:
			b.failures = 0
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a snapshot of breaker counters
type Stats struct {
	State        State
	Failures     int
	Successes    int
	LastFailTime time.Time
}

// Stats returns a snapshot of the breaker counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:        b.state,
		Failures:     b.failures,
		Successes:    b.successes,
		LastFailTime: b.lastFailTime,
	}
}

// Reset forces the breaker closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.lastResetTime = b.now()
	b.mu.Unlock()

	b.notify(from, StateClosed)
}
