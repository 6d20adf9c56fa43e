// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestJWTVerifierAccepts(t *testing.T) {
	key := []byte("test-secret")
	verifier := NewJWTVerifier(func(*jwt.Token) (any, error) { return key, nil }, &JWTVerifierOptions{
		Issuer:   "https://issuer.example",
		Audience: "mcp-server",
	})

	token := signedToken(t, key, jwt.MapClaims{
		"iss":   "https://issuer.example",
		"aud":   "mcp-server",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "tools.call resources.read",
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	info, msg, code := verify(req, verifier, &RequireBearerTokenOptions{Scopes: []string{"tools.call"}})
	if code != 0 {
		t.Fatalf("verify() = (%q, %d), want (\"\", 0)", msg, code)
	}
	if len(info.Scopes) != 2 || info.Scopes[0] != "tools.call" {
		t.Errorf("Scopes = %v, want [tools.call resources.read]", info.Scopes)
	}
}

func TestJWTVerifierRejectsWrongIssuer(t *testing.T) {
	key := []byte("test-secret")
	verifier := NewJWTVerifier(func(*jwt.Token) (any, error) { return key, nil }, &JWTVerifierOptions{
		Issuer: "https://issuer.example",
	})

	token := signedToken(t, key, jwt.MapClaims{
		"iss": "https://evil.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, _, code := verify(req, verifier, nil); code != http.StatusUnauthorized {
		t.Errorf("verify() code = %d, want %d", code, http.StatusUnauthorized)
	}
}

func TestJWTVerifierRejectsExpired(t *testing.T) {
	key := []byte("test-secret")
	verifier := NewJWTVerifier(func(*jwt.Token) (any, error) { return key, nil }, nil)

	token := signedToken(t, key, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, _, code := verify(req, verifier, nil); code != http.StatusUnauthorized {
		t.Errorf("verify() code = %d, want %d", code, http.StatusUnauthorized)
	}
}
