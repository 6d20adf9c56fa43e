// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidToken indicates the bearer token is missing, malformed, unknown,
// or rejected by the verifier for any reason other than a client request
// error.
var ErrInvalidToken = errors.New("invalid token")

// ErrOAuth indicates the verifier rejected the request itself (RFC 6750's
// "invalid_request"), as distinct from the token being invalid.
var ErrOAuth = errors.New("oauth error")

// TokenInfo is what a Verifier reports about an access token it accepted.
type TokenInfo struct {
	// Expiration is when the token stops being valid. A zero value is
	// treated as "never verified an expiration" and rejected, since MCP
	// resource servers must not accept tokens without one.
	Expiration time.Time
	// Scopes lists the scopes the token carries.
	Scopes []string
}

// Verifier validates an opaque bearer token extracted from an incoming
// request's Authorization header, typically by checking it against an
// authorization server (introspection) or verifying a signed JWT locally.
type Verifier func(ctx context.Context, token string, r *http.Request) (*TokenInfo, error)

// RequireBearerTokenOptions configures RequireBearerToken.
type RequireBearerTokenOptions struct {
	// Scopes lists the scopes every request must carry; a token missing
	// any of them is rejected with 403.
	Scopes []string
	// ResourceMetadataURL, if set, is advertised in the WWW-Authenticate
	// header of requests rejected with 401 or 403, per RFC 9728 section 5.1.
	ResourceMetadataURL string
}

// RequireBearerToken returns middleware enforcing that every request carries
// a valid bearer token, as judged by verifier. It implements the
// Authenticate half of the server-side Authenticator seam http.go defines:
//
//	mw := auth.RequireBearerToken(verifier, opts)
//	sse := mcp.NewSSEHandler(serverFor)
//	sse.Authenticator = mcp.AuthenticatorFunc(func(r *http.Request) error {
//	    ... wrap mw or call verify directly ...
//	})
func RequireBearerToken(verifier Verifier, opts *RequireBearerTokenOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, msg, code := verify(r, verifier, opts)
			if code != 0 {
				if (code == http.StatusUnauthorized || code == http.StatusForbidden) &&
					opts != nil && opts.ResourceMetadataURL != "" {
					w.Header().Set("WWW-Authenticate", "Bearer resource_metadata="+opts.ResourceMetadataURL)
				}
				http.Error(w, msg, code)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRequestAuthenticator adapts verifier into the shape the mcp package's
// Authenticator expects (Authenticate(*http.Request) error) without this
// package importing mcp:
//
//	sse := mcp.NewSSEHandler(serverFor)
//	sse.Authenticator = mcp.AuthenticatorFunc(auth.NewRequestAuthenticator(verifier, opts))
func NewRequestAuthenticator(verifier Verifier, opts *RequireBearerTokenOptions) func(*http.Request) error {
	return func(r *http.Request) error {
		_, msg, code := verify(r, verifier, opts)
		if code != 0 {
			return errors.New(msg)
		}
		return nil
	}
}

// verify extracts and validates the bearer token carried by r. On success it
// returns the verified TokenInfo with an empty message and zero code; on
// failure it returns a nil TokenInfo with the message and HTTP status the
// caller should reject the request with.
func verify(r *http.Request, verifier Verifier, opts *RequireBearerTokenOptions) (*TokenInfo, string, int) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, "no bearer token", http.StatusUnauthorized
	}

	info, err := verifier(r.Context(), token, r)
	switch {
	case errors.Is(err, ErrOAuth):
		return nil, "oauth error", http.StatusBadRequest
	case err != nil:
		return nil, "invalid token", http.StatusUnauthorized
	}

	if info.Expiration.IsZero() {
		return nil, "token missing expiration", http.StatusUnauthorized
	}
	if time.Now().After(info.Expiration) {
		return nil, "token expired", http.StatusUnauthorized
	}

	if opts != nil && len(opts.Scopes) > 0 && !hasScopes(info.Scopes, opts.Scopes) {
		return nil, "insufficient scope", http.StatusForbidden
	}

	return info, "", 0
}

// bearerToken extracts the token from a "Bearer <token>" Authorization
// header value, matching the scheme case-insensitively per RFC 6750 section 2.1.
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

func hasScopes(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[s] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
