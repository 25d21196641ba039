// Package breaker tracks dispatch outcomes per route path. The gateway
// itself never retries and never denies on an open circuit; open-circuit
// policy is delegated outward. The breaker here observes, transitions,
// and reports state.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota + 1
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
		return "half_open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureRateThresholdPercent int
	MinimumRequests             int
	EvaluationWindow            time.Duration
	OpenDuration                time.Duration
	HalfOpenSuccesses           int
}

func (c Config) withDefaults() Config {
	if c.FailureRateThresholdPercent <= 0 {
		c.FailureRateThresholdPercent = 50
	}
	if c.MinimumRequests <= 0 {
		c.MinimumRequests = 20
	}
	if c.EvaluationWindow <= 0 {
		c.EvaluationWindow = 10 * time.Second
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 2 * time.Second
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = 5
	}
	return c
}

// Breaker is the state machine for one route path.
type Breaker struct {
	mu          sync.Mutex
	config      Config
	state       State
	windowStart time.Time
	requests    int
	failures    int
	openUntil   time.Time
	probeOK     int
}

func New(cfg Config) *Breaker {
	return &Breaker{
		config:      cfg.withDefaults(),
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// Report records one dispatch outcome and returns the resulting state.
func (b *Breaker) Report(success bool) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateOpen:
		if now.Before(b.openUntil) {
			return b.state
		}
		b.state = StateHalfOpen
		b.probeOK = 0
		fallthrough
	case StateHalfOpen:
		if !success {
			b.open(now)
			return b.state
		}
		b.probeOK++
		if b.probeOK >= b.config.HalfOpenSuccesses {
			b.close(now)
		}
	case StateClosed:
		if now.Sub(b.windowStart) > b.config.EvaluationWindow {
			b.windowStart = now
			b.requests = 0
			b.failures = 0
		}
		b.requests++
		if !success {
			b.failures++
		}
		if b.requests >= b.config.MinimumRequests &&
			b.failures*100 >= b.requests*b.config.FailureRateThresholdPercent {
			b.open(now)
		}
	}
	return b.state
}

// CurrentState returns the state without recording an outcome.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openUntil = now.Add(b.config.OpenDuration)
}

func (b *Breaker) close(now time.Time) {
	b.state = StateClosed
	b.windowStart = now
	b.requests = 0
	b.failures = 0
}
