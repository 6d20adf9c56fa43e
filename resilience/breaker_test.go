// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("ep|tools/call", BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 2,
	})

	failing := errors.New("boom")
	calls := 0
	op := func(ctx context.Context) error {
		calls++
		return failing
	}

	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), op); !errors.Is(err, failing) {
			t.Fatalf("call %d: got %v, want the underlying failure", i, err)
		}
	}

	// Fourth call must be refused without invoking op.
	err := b.Do(context.Background(), op)
	var openErr *OpenError
	if !errorsAs(err, &openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("op invoked %d times, want 3 (4th call should short-circuit)", calls)
	}
}

func TestBreakerHalfOpenRequiresSuccessThreshold(t *testing.T) {
	b := NewBreaker("ep|tools/call", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
	})

	failing := errors.New("boom")
	_ = b.Do(context.Background(), func(ctx context.Context) error { return failing })
	if b.Stats().State != Open {
		t.Fatalf("want Open after 1 failure with threshold 1, got %v", b.Stats().State)
	}

	time.Sleep(20 * time.Millisecond)

	// First probe succeeds: should move to HalfOpen but not yet Closed.
	if err := b.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("probe 1: unexpected error %v", err)
	}
	if b.Stats().State != HalfOpen {
		t.Fatalf("want HalfOpen after 1 of 2 required successes, got %v", b.Stats().State)
	}

	if err := b.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("probe 2: unexpected error %v", err)
	}
	if b.Stats().State != Closed {
		t.Fatalf("want Closed after success threshold reached, got %v", b.Stats().State)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("ep|tools/call", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
	})
	failing := errors.New("boom")
	_ = b.Do(context.Background(), func(ctx context.Context) error { return failing })
	time.Sleep(20 * time.Millisecond)

	err := b.Do(context.Background(), func(ctx context.Context) error { return failing })
	if !errors.Is(err, failing) {
		t.Fatalf("probe should still invoke op and surface its error, got %v", err)
	}
	if b.Stats().State != Open {
		t.Fatalf("failed probe should reopen the breaker, got %v", b.Stats().State)
	}
}

func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}
