// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifierOptions configures NewJWTVerifier.
type JWTVerifierOptions struct {
	// Issuer, if set, must match the token's "iss" claim.
	Issuer string
	// Audience, if set, must appear in the token's "aud" claim.
	Audience string
}

// NewJWTVerifier returns a Verifier that checks a bearer token as a JWT
// signed with one of the methods keyfunc accepts, matching how
// internal/testing's fake authorization server issues tokens
// (jwt.NewWithClaims(jwt.SigningMethodHS256, ...).SignedString(key)) so a
// server using this Verifier against that fake server needs only supply its
// shared secret as keyfunc's return value.
func NewJWTVerifier(keyfunc jwt.Keyfunc, opts *JWTVerifierOptions) Verifier {
	var parserOpts []jwt.ParserOption
	if opts != nil && opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts != nil && opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(ctx context.Context, token string, _ *http.Request) (*TokenInfo, error) {
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(token, claims, keyfunc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}

		info := &TokenInfo{}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			info.Expiration = exp.Time
		}
		if scope, ok := claims["scope"].(string); ok {
			info.Scopes = splitScope(scope)
		}
		// ParseWithClaims above already enforced exp/nbf and, when configured,
		// iss/aud; TokenInfo.Expiration is surfaced so verify's own
		// belt-and-suspenders expiry check still sees it.
		return info, nil
	}
}

func splitScope(scope string) []string {
	var scopes []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				scopes = append(scopes, scope[start:i])
			}
			start = i + 1
		}
	}
	return scopes
}
