// Package circuitbreaker implements the per-runner circuit breaker used by
// the orchestrator (C8, §4.8). Grounded on the retrieval pack's
// closed/open/half-open AIMD breaker (99souls-ariadne's
// internal/ratelimit/domain_state.go circuitBreaker/domainState), simplified
// to the spec's pure consecutive-failure trip condition — the rate-limit
// AIMD feedback this package's model is grounded on does not apply here,
// since C4 already owns rate limiting.
package circuitbreaker

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Config controls trip/reset thresholds (§4.8 defaults).
type Config struct {
	FailureThreshold int           // consecutive failures to trip; default 5
	ResetTimeout     time.Duration // open -> half-open after this; default 30s
	SuccessThreshold int           // half-open successes to close; default 3
}

// DefaultConfig returns the §4.8 defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, SuccessThreshold: 3}
}

// Breaker is one runner's circuit breaker.
type Breaker struct {
	mu sync.Mutex
	cfg Config
	now func() time.Time

	st                state
	consecutiveFails  int
	halfOpenSuccesses int
	openedAt          time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	return &Breaker{cfg: cfg, now: time.Now, st: closed}
}

// Allow reports whether a request may be routed to this runner right now,
// transitioning open -> half-open once ResetTimeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case closed, halfOpen:
		return true
	case open:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.st = halfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful call, closing a half-open breaker
// after SuccessThreshold consecutive successes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case closed:
		b.consecutiveFails = 0
	case halfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.st = closed
			b.consecutiveFails = 0
			b.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure registers a failed call, tripping the breaker open on
// FailureThreshold consecutive failures (or immediately from half-open).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.trip()
		}
	case halfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.st = open
	b.openedAt = b.now()
	b.consecutiveFails = 0
	b.halfOpenSuccesses = 0
}

// Healthy reports whether the breaker is currently closed, for the metrics
// store's health flag (§4.2).
func (b *Breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st == closed
}
