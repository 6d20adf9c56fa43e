// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures the retry-with-backoff loop described in spec §4.4.
type Policy struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	JitterFactor         float64
	RespectRecoverability bool
}

// DefaultPolicy matches spec §4.4's defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:           3,
		InitialDelay:          100 * time.Millisecond,
		MaxDelay:              30 * time.Second,
		BackoffMultiplier:     2,
		JitterFactor:          0.1,
		RespectRecoverability: true,
	}
}

// delay returns the backoff duration before attempt number `attempt`
// (1-based: the delay before the 2nd attempt is delay(1)), with jitter
// applied in [1-JitterFactor, 1+JitterFactor].
func (p Policy) delay(attempt int, rng *rand.Rand) time.Duration {
	d := float64(p.InitialDelay) * pow(p.BackoffMultiplier, attempt-1)
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	jitter := 1 - p.JitterFactor + rng.Float64()*2*p.JitterFactor
	return time.Duration(d * jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Do runs op, retrying on recoverable failures per p. It stops as soon as
// op succeeds, a non-recoverable error is classified, MaxAttempts is
// reached, or ctx is done. The attempt count passed to op is 1-based.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		kind := Classify(lastErr)
		if p.RespectRecoverability && !kind.Recoverable() {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := p.delay(attempt, rng)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
