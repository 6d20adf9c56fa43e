// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file wires the resilience package's retry-with-backoff and
// circuit-breaker machinery into every outgoing call a Session makes, per
// spec §4.4: the dispatcher's transport-facing send path retries
// recoverable failures with jittered backoff and keys a circuit breaker
// per (endpoint, method-class).

package mcp

import (
	"context"
	"sync"

	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
	"github.com/mcpcore/sdk-go/resilience"
)

// emptyResult is a throwaway decode target for calls whose result carries
// no data the caller needs (ping, subscribe, set-level): resilientCall
// still decodes the response to detect a malformed result, but the caller
// only wants the error.
type emptyResult struct{}

// ResilienceOptions configures the retry and circuit-breaker behavior
// wrapping a Session's outgoing calls. A nil *ResilienceOptions anywhere in
// this package's option structs means [DefaultResilienceOptions].
type ResilienceOptions struct {
	// Policy controls retry attempts, backoff, and jitter.
	Policy resilience.Policy

	// BreakerConfig controls the circuit breaker each (session, method)
	// pair gets on first use.
	BreakerConfig resilience.BreakerConfig

	// Disabled issues every call directly, with no retry and no breaker.
	// Useful for transports (e.g. an in-memory pipe in tests) where retrying
	// a failed call can never help.
	Disabled bool
}

// DefaultResilienceOptions matches spec §4.4's defaults.
func DefaultResilienceOptions() ResilienceOptions {
	return ResilienceOptions{
		Policy:        resilience.DefaultPolicy(),
		BreakerConfig: resilience.DefaultBreakerConfig(),
	}
}

func resolveResilience(o *ResilienceOptions) ResilienceOptions {
	if o == nil {
		return DefaultResilienceOptions()
	}
	r := *o
	if r.Policy.MaxAttempts == 0 {
		r.Policy = resilience.DefaultPolicy()
	}
	if r.BreakerConfig.FailureThreshold == 0 {
		r.BreakerConfig = resilience.DefaultBreakerConfig()
	}
	return r
}

// breakerRegistry hands out one resilience.Breaker per (endpoint,
// method-class) key, created lazily on first use, per spec §4.4.
type breakerRegistry struct {
	cfg resilience.BreakerConfig

	mu sync.Mutex
	m  map[string]*resilience.Breaker
}

func newBreakerRegistry(cfg resilience.BreakerConfig) *breakerRegistry {
	return &breakerRegistry{cfg: cfg, m: make(map[string]*resilience.Breaker)}
}

func (r *breakerRegistry) get(endpoint, methodClass string) *resilience.Breaker {
	key := endpoint + "|" + methodClass
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.m[key]
	if !ok {
		b = resilience.NewBreaker(key, r.cfg)
		r.m[key] = b
	}
	return b
}

// breakerFor returns s's breaker for method, creating s's registry on first
// use. The session ID stands in for "endpoint": each connection gets its
// own breaker per method, rather than sharing one across every session a
// Client or Server happens to be driving.
func (s *Session) breakerFor(method string) *resilience.Breaker {
	s.breakersOnce.Do(func() {
		s.breakers = newBreakerRegistry(s.resilience.BreakerConfig)
	})
	return s.breakers.get(s.id, method)
}

// resilientCall issues method over s's connection, retrying recoverable
// failures per s.resilience.Policy and short-circuiting through s's
// per-method circuit breaker, per spec §4.4. Disabling resilience (or a
// session with MaxAttempts==1 and no breaker trips) degrades to a single
// direct call, so this is always safe to use in place of [call].
func resilientCall[R any](ctx context.Context, s *Session, method string, params Params, opts *jsonrpc2.CallOptions) (*R, error) {
	if s.resilience.Disabled {
		return call[R](ctx, s.conn, method, params, opts)
	}
	breaker := s.breakerFor(method)
	var res *R
	err := resilience.Do(ctx, s.resilience.Policy, func(ctx context.Context, attempt int) error {
		return breaker.Do(ctx, func(ctx context.Context) error {
			r, err := call[R](ctx, s.conn, method, params, opts)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// breakerStats reports the current state of every circuit breaker s has
// created, keyed by "sessionID|method". It is primarily for diagnostics
// and tests; the map is a snapshot and not kept live.
func (s *Session) breakerStats() map[string]resilience.Stats {
	if s.breakers == nil {
		return nil
	}
	s.breakers.mu.Lock()
	defer s.breakers.mu.Unlock()
	out := make(map[string]resilience.Stats, len(s.breakers.m))
	for k, b := range s.breakers.m {
		out[k] = b.Stats()
	}
	return out
}
