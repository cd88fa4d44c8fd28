// Package resilience hardens the transcription path. A [Breaker] tracks each
// backend's health and stops sending recordings to one that keeps failing;
// [TranscribeFallback] chains backends so an unhealthy primary is bypassed in
// favour of its fallbacks; [Retry] bounds the aggregation conflict loop.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker is open and
// the cool-down has not yet elapsed. The call never reaches the backend.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call; the backend is considered healthy.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]; the backend tripped
	// the strike limit and is cooling down.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to find out
	// whether the backend recovered during the cool-down.
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

// BreakerConfig tunes a [Breaker]. The zero value gets usable defaults.
type BreakerConfig struct {
	// Name labels the guarded backend in log output.
	Name string

	// TripAfter is how many consecutive countable failures open the breaker.
	// Default: 5.
	TripAfter int

	// CoolDown is how long an open breaker rejects calls before probing the
	// backend again. Default: 30s.
	CoolDown time.Duration

	// ProbeQuota is how many half-open probe calls must succeed before the
	// breaker closes. A countable probe failure re-opens immediately.
	// Default: 3.
	ProbeQuota int

	// Countable decides whether an error says something about the backend's
	// health. Errors it rejects still surface to the caller but leave the
	// strike counter alone. Default: every error except the caller's own
	// context cancellation — an abandoned recording is not a backend fault.
	Countable func(error) bool
}

// Breaker is a three-state circuit breaker guarding one transcription
// backend (or any other remote collaborator).
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	strikes   int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewBreaker creates a [Breaker], filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 3
	}
	if cfg.Countable == nil {
		cfg.Countable = CountableError
	}
	return &Breaker{cfg: cfg}
}

// CountableError is the default health classifier: every failure counts
// against the backend except a cancellation the caller asked for.
func CountableError(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Do runs fn if the breaker admits the call. Open breakers return
// [ErrCircuitOpen] without invoking fn; half-open breakers admit calls up to
// the probe quota. fn's error is returned unchanged either way.
func (b *Breaker) Do(fn func() error) error {
	probing, admit := b.admit()
	if !admit {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.onSuccess(probing)
	case b.cfg.Countable(err):
		b.onFailure(probing)
	}
	return err
}

// admit decides whether a call may proceed, handling the open→half-open
// transition. The probing result tells Do which accounting to apply.
func (b *Breaker) admit() (probing, admit bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.CoolDown {
			return false, false
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeWins = 0
		slog.Info("circuit half-open, probing backend", "backend", b.cfg.Name)

	case StateHalfOpen:
		if b.probes >= b.cfg.ProbeQuota {
			// Probe budget spent; wait for the in-flight probes to decide.
			return false, false
		}
	}

	if b.state == StateHalfOpen {
		b.probes++
		return true, true
	}
	return false, true
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if !probing {
		b.strikes = 0
		return
	}
	b.probeWins++
	if b.probeWins >= b.cfg.ProbeQuota {
		b.state = StateClosed
		b.strikes = 0
		slog.Info("circuit closed, backend recovered", "backend", b.cfg.Name)
	}
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()

	if probing {
		b.state = StateOpen
		b.strikes = b.cfg.TripAfter
		slog.Warn("circuit re-opened, probe failed", "backend", b.cfg.Name)
		return
	}

	b.strikes++
	if b.strikes >= b.cfg.TripAfter {
		b.state = StateOpen
		slog.Warn("circuit opened, backend unhealthy",
			"backend", b.cfg.Name, "strikes", b.strikes)
	}
}

// State reports the breaker's mode. An open breaker whose cool-down elapsed
// reports half-open; the stored transition happens on the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.CoolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.strikes = 0
	b.probes = 0
	b.probeWins = 0
}
