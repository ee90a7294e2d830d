// Package breaker implements a per-dependency circuit breaker.
//
// The breaker starts closed. failure_threshold consecutive failures open it;
// once the timeout has elapsed the next ShouldAttemptRequest call moves it to
// half-open and admits a single trial. success_threshold consecutive trial
// successes close it again, while any trial failure reopens it and restarts
// the timeout. State is process-local and never persisted.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

var (
	// ErrInvalidConfig is returned for non-positive thresholds or timeout.
	ErrInvalidConfig = errors.New("breaker: invalid configuration")

	// ErrOpen is returned by Execute when the breaker rejects the call.
	ErrOpen = errors.New("breaker: circuit open")
)

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
}

// DefaultConfig returns 5 failures to open, 2 successes to close, 60s timeout.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// Validate fails fast instead of coercing bad thresholds.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure_threshold must be at least 1", ErrInvalidConfig)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("%w: success_threshold must be at least 1", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Snapshot is a copy of the breaker's counters.
type Snapshot struct {
	Name                 string     `json:"name"`
	State                State      `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	OpenedAt             *time.Time `json:"opened_at,omitempty"`
}

// Breaker guards calls to one dependency. It is safe for concurrent use.
type Breaker struct {
	Name  string
	Clock func() time.Time

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trial     bool
}

// New returns a closed breaker.
func New(name string, cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("breaker %s: %w", name, err)
	}
	return &Breaker{Name: name, cfg: cfg, state: StateClosed}, nil
}

// ShouldAttemptRequest reports whether a call may proceed. An open breaker
// whose timeout has elapsed moves to half-open here.
func (b *Breaker) ShouldAttemptRequest() bool {
	b.mu.Lock()
	var from State
	allowed := false

	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Timeout {
			from = b.state
			b.state = StateHalfOpen
			b.successes = 0
			b.trial = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.trial {
			b.trial = true
			allowed = true
		}
	}
	b.mu.Unlock()

	if from != "" {
		b.notify(from, StateHalfOpen)
	}
	return allowed
}

// RecordSuccess resets the failure count and, in half-open, counts towards
// closing the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.trial = false

	var from State
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			from = b.state
			b.state = StateClosed
			b.successes = 0
			b.openedAt = time.Time{}
		}
	default:
		b.successes++
	}
	b.mu.Unlock()

	if from != "" {
		b.notify(from, StateClosed)
	}
}

// RecordFailure resets the success count and opens the breaker once the
// failure threshold is reached. A half-open failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.successes = 0
	b.failures++
	b.trial = false

	var from State
	switch b.state {
	case StateHalfOpen:
		from = b.state
		b.open()
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			from = b.state
			b.open()
		}
	case StateOpen:
		// A late result from a call admitted before opening.
	}
	b.mu.Unlock()

	if from != "" {
		b.notify(from, StateOpen)
	}
}

// Execute runs fn if the breaker admits it and records the outcome. Context
// cancellation by the caller is not counted as a dependency failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.ShouldAttemptRequest() {
		return fmt.Errorf("%w: %s", ErrOpen, b.Name)
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.Abandon()
	default:
		b.RecordFailure()
	}
	return err
}

// Abandon releases an admitted half-open trial without recording an outcome.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	b.trial = false
	b.mu.Unlock()
}

// Timeout is how long the breaker stays open before allowing a trial.
func (b *Breaker) Timeout() time.Duration {
	return b.cfg.Timeout
}

// State returns the current state without triggering the lazy transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:                 b.Name,
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.openedAt = time.Time{}
	b.trial = false
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *Breaker) notify(from, to State) {
	if b.OnStateChange != nil {
		b.OnStateChange(b.Name, from, to)
	}
}

func (b *Breaker) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}
