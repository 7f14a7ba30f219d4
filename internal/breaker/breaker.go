package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the circuit state of a Breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpenCircuit is the cause handed to the fallback when a call is
// rejected without being attempted, either because the circuit is open
// or because the half-open trial slot is already taken.
var ErrOpenCircuit = errors.New("breaker: circuit open")

// Operation is the guarded call, typically a model inference.
type Operation func(ctx context.Context) (string, error)

// Fallback produces a degraded substitute when the operation failed or
// was rejected. It receives the cause so it can tailor the substitute.
type Fallback func(ctx context.Context, cause error) (string, error)

// Config tunes a Breaker. Zero values fall back to the defaults below.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit from closed.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial
	// call is admitted.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the consecutive trial successes required to
	// close the circuit from half-open.
	SuccessThreshold int
	// FailureWindow bounds how long a failure streak stays relevant. A
	// failure arriving after the window since the previous one starts a
	// fresh streak of one.
	FailureWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 2 * time.Minute
	}
	return c
}

// Result is the outcome of Execute. Degraded is true whenever the text
// came from the fallback rather than the operation.
type Result struct {
	Text     string
	Degraded bool
	State    State
}

// Breaker guards one downstream dependency with a circuit-breaker state
// machine. Breakers are long-lived; create one per dependency and share
// it across goroutines.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	state          State
	failureStreak  int
	lastFailureAt  time.Time
	openedAt       time.Time
	trialInFlight  bool
	trialSuccesses int

	onStateChange func(name string, from, to State)
	onRejection   func(name string)
	onFallback    func(name string)
}

// Option customizes a Breaker at construction time.
type Option func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChangeHook registers a callback fired on every transition,
// while the breaker lock is held. Keep it cheap.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithRejectionHook registers a callback fired whenever a call is
// rejected without reaching the operation.
func WithRejectionHook(fn func(name string)) Option {
	return func(b *Breaker) { b.onRejection = fn }
}

// WithFallbackHook registers a callback fired whenever the fallback
// serves a degraded result.
func WithFallbackHook(fn func(name string)) Option {
	return func(b *Breaker) { b.onFallback = fn }
}

// New creates a closed Breaker named for the dependency it guards.
func New(name string, cfg Config, logger *slog.Logger, opts ...Option) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State reports the current circuit state, advancing open to half-open
// if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()
	return b.state
}

// Execute runs op under the circuit. When the circuit rejects the call
// or op fails, the fallback supplies the text and the result is marked
// degraded. The error is non-nil only when no text could be produced at
// all.
func (b *Breaker) Execute(ctx context.Context, op Operation, fb Fallback) (Result, error) {
	trial, admitted := b.admit()
	if !admitted {
		if b.onRejection != nil {
			b.onRejection(b.name)
		}
		return b.degrade(ctx, fb, ErrOpenCircuit)
	}

	text, err := op(ctx)
	if err != nil {
		b.recordFailure(trial)
		return b.degrade(ctx, fb, err)
	}

	b.recordSuccess(trial)
	return Result{Text: text, State: b.State()}, nil
}

// admit decides whether a call may reach the operation. The second
// return is false on rejection; the first is true when the admitted
// call is the half-open trial.
func (b *Breaker) admit() (trial, admitted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeRecover()

	switch b.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if b.trialInFlight {
			return false, false
		}
		b.trialInFlight = true
		return true, true
	default:
		return false, false
	}
}

// maybeRecover moves open to half-open once the recovery timeout has
// elapsed. Caller holds b.mu.
func (b *Breaker) maybeRecover() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.transition(StateHalfOpen)
		b.trialInFlight = false
		b.trialSuccesses = 0
	}
}

func (b *Breaker) recordSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
		b.trialSuccesses++
		if b.trialSuccesses >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failureStreak = 0
			b.trialSuccesses = 0
		}
		return
	}
	b.failureStreak = 0
}

func (b *Breaker) recordFailure(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if trial {
		// A failed trial reopens immediately and restarts the timeout.
		b.trialInFlight = false
		b.trialSuccesses = 0
		b.transition(StateOpen)
		b.openedAt = now
		return
	}

	if b.state != StateClosed {
		return
	}
	if !b.lastFailureAt.IsZero() && now.Sub(b.lastFailureAt) > b.cfg.FailureWindow {
		b.failureStreak = 0
	}
	b.failureStreak++
	b.lastFailureAt = now
	if b.failureStreak >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
		b.openedAt = now
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.logger.Info("breaker state change",
		"breaker", b.name,
		"from", string(from),
		"to", string(to),
	)
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// degrade runs the fallback. A missing or failing fallback turns the
// cause into the returned error.
func (b *Breaker) degrade(ctx context.Context, fb Fallback, cause error) (Result, error) {
	state := b.State()
	if fb == nil {
		return Result{State: state}, fmt.Errorf("breaker %s: no fallback: %w", b.name, cause)
	}
	text, err := fb(ctx, cause)
	if err != nil {
		b.logger.Error("breaker fallback failed",
			"breaker", b.name,
			"cause", cause.Error(),
			"error", err.Error(),
		)
		return Result{State: state}, fmt.Errorf("breaker %s: fallback failed: %w", b.name, err)
	}
	b.logger.Warn("breaker served degraded result",
		"breaker", b.name,
		"state", string(state),
		"cause", cause.Error(),
	)
	if b.onFallback != nil {
		b.onFallback(b.name)
	}
	return Result{Text: text, Degraded: true, State: state}, nil
}
