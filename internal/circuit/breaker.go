// Package circuit implements a small circuit breaker used to shed load from
// a failing archive store backend.
//
// The breaker trips after a run of consecutive failures, rejects calls while
// open, and probes with a single call once the cooldown passes. A retry
// policy keeps hammering a dead backend; the breaker is what stops a whole
// batch from queueing up behind it.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned for calls rejected while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config tunes a Breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker. Zero means 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Zero means 30 seconds.
	Cooldown time.Duration

	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every non-nil error.
	IsFailure func(err error) bool

	// OnStateChange, when set, is notified of transitions.
	OnStateChange func(from, to State)
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// New creates a Breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn if the breaker allows it, recording the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

// State returns the current state, applying any pending cooldown
// transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick(time.Now())
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick(time.Now())
	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		// One probe at a time while half-open.
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	if !b.cfg.IsFailure(err) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// tick moves an expired open breaker to half-open. Callers hold the lock.
func (b *Breaker) tick(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
}

// trip opens the breaker. Callers hold the lock.
func (b *Breaker) trip() {
	b.openedAt = time.Now()
	b.transition(StateOpen)
}

// transition changes state and fires the notification. Callers hold the
// lock.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
