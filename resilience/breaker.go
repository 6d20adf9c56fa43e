// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit-breaker states from spec §4.4.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// OpenError is returned by Breaker.Do when the breaker is Open and refuses
// to invoke the call.
type OpenError struct {
	Endpoint string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %q", e.Endpoint)
}

// BreakerConfig configures a Breaker, with spec §4.4's defaults.
type BreakerConfig struct {
	FailureThreshold int           // default 5
	RecoveryTimeout  time.Duration // default 500ms, grows on repeated trips up to RecoveryTimeoutCeiling
	SuccessThreshold int           // default 2, consecutive HalfOpen successes required to close
	RecoveryTimeoutCeiling time.Duration // default 60s
}

// DefaultBreakerConfig matches spec §4.4.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:       5,
		RecoveryTimeout:        500 * time.Millisecond,
		SuccessThreshold:       2,
		RecoveryTimeoutCeiling: 60 * time.Second,
	}
}

// Stats is the introspectable snapshot of a Breaker's state, per spec §4.4.
type Stats struct {
	State              State
	FailureCount       int
	ConsecutiveSuccess int
	LastTransition     time.Time
}

// Breaker is a single (endpoint, method-class) circuit breaker instance.
// It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	key string

	mu                 sync.Mutex
	state              State
	failureCount       int
	consecutiveSuccess int
	lastTransition     time.Time
	openUntil          time.Time
	currentTimeout     time.Duration
	halfOpenInFlight   bool
}

// NewBreaker creates a Breaker identified by key (conventionally
// "endpoint|method-class"), used only for OpenError messages and logging.
func NewBreaker(key string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if cfg.RecoveryTimeoutCeiling <= 0 {
		cfg.RecoveryTimeoutCeiling = DefaultBreakerConfig().RecoveryTimeoutCeiling
	}
	return &Breaker{
		cfg:            cfg,
		key:            key,
		state:          Closed,
		lastTransition: time.Now(),
		currentTimeout: cfg.RecoveryTimeout,
	}
}

// Stats returns a snapshot of the breaker's current state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:              b.state,
		FailureCount:       b.failureCount,
		ConsecutiveSuccess: b.consecutiveSuccess,
		LastTransition:     b.lastTransition,
	}
}

// allow decides whether a call may proceed, transitioning Open->HalfOpen if
// the recovery timeout has elapsed. It reserves the single in-flight probe
// slot when transitioning into HalfOpen.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if time.Now().Before(b.openUntil) {
			return &OpenError{Endpoint: b.key}
		}
		b.transitionLocked(HalfOpen)
		b.halfOpenInFlight = true
		return nil
	case HalfOpen:
		if b.halfOpenInFlight {
			// Only one probe at a time is permitted while half-open; concurrent
			// callers are refused exactly like an open breaker.
			return &OpenError{Endpoint: b.key}
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) transitionLocked(to State) {
	b.state = to
	b.lastTransition = time.Now()
	switch to {
	case Closed:
		b.failureCount = 0
		b.consecutiveSuccess = 0
		b.currentTimeout = b.cfg.RecoveryTimeout
	case Open:
		b.consecutiveSuccess = 0
		b.openUntil = time.Now().Add(b.currentTimeout)
		b.currentTimeout = minDuration(b.currentTimeout*2, b.cfg.RecoveryTimeoutCeiling)
	case HalfOpen:
		b.consecutiveSuccess = 0
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (b *Breaker) onResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenInFlight = false

	switch b.state {
	case Closed:
		if err != nil {
			b.failureCount++
			if b.failureCount >= b.cfg.FailureThreshold {
				b.transitionLocked(Open)
			}
		} else {
			b.failureCount = 0
		}
	case HalfOpen:
		if err != nil {
			b.transitionLocked(Open)
			return
		}
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	case Open:
		// A stray result arriving after the breaker re-opened; ignore.
	}
}

// Do runs op if the breaker permits it, and records the outcome. If the
// breaker is Open (or a HalfOpen probe is already in flight), op is not
// invoked and an *OpenError is returned.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.onResult(err)
	return err
}
