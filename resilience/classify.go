// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package resilience implements the retry-with-backoff and circuit-breaker
// layer that wraps outgoing dispatcher calls, per the error taxonomy in
// spec §7: validation/authentication/method-not-found/cancellation never
// retry, while connection/timeout/transient-transport/5xx errors do.
package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/mcpcore/sdk-go/jsonrpc"
)

// ErrorKind classifies a failure for retry and breaker purposes.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindProtocol
	KindTransport
	KindTimeout
	KindCancelled
	KindValidation
	KindAuthentication
	KindMethodNotFound
	KindToolNotFound
	KindResourceNotFound
	KindPromptNotFound
	KindCircuitOpen
	KindInternal
	KindIO
	KindSerialization
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindMethodNotFound:
		return "method_not_found"
	case KindToolNotFound:
		return "tool_not_found"
	case KindResourceNotFound:
		return "resource_not_found"
	case KindPromptNotFound:
		return "prompt_not_found"
	case KindCircuitOpen:
		return "circuit_open"
	case KindInternal:
		return "internal"
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Recoverable reports whether errors of this kind have nonzero retry
// success probability, per spec §4.4 and §7.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindTransport, KindTimeout, KindIO:
		return true
	default:
		return false
	}
}

// KindError wraps an underlying error with its classification, so that
// callers that went through Classify once don't need to reclassify.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string { return e.Err.Error() }
func (e *KindError) Unwrap() error { return e.Err }

// Classify inspects err and assigns it an ErrorKind. It understands
// context errors, *KindError, *jsonrpc.Error codes, *OpenError, and
// *HTTPStatusError; anything else is KindUnknown (non-recoverable, since
// an unrecognized failure should not be retried blindly).
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var breakerErr *OpenError
	if errors.As(err, &breakerErr) {
		return KindCircuitOpen
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return classifyHTTPStatus(httpErr.StatusCode)
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return classifyRPCCode(rpcErr.Code)
	}

	return KindUnknown
}

func classifyRPCCode(code int) ErrorKind {
	switch code {
	case jsonrpc.CodeMethodNotFound:
		return KindMethodNotFound
	case jsonrpc.CodeToolNotFound:
		return KindToolNotFound
	case jsonrpc.CodeResourceNotFound:
		return KindResourceNotFound
	case jsonrpc.CodePromptNotFound:
		return KindPromptNotFound
	case jsonrpc.CodeInvalidParams:
		return KindValidation
	case jsonrpc.CodeCircuitOpen:
		return KindCircuitOpen
	case jsonrpc.CodeParseError, jsonrpc.CodeInvalidRequest:
		return KindProtocol
	default:
		return KindInternal
	}
}

// HTTPStatusError wraps an HTTP response status that a transport treats as
// a send failure (4xx/5xx), so Classify can apply spec §4.4's mapping.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return http.StatusText(e.StatusCode)
}

func classifyHTTPStatus(code int) ErrorKind {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindTransport
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return KindTimeout
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthentication
	default:
		if code >= 400 && code < 500 {
			return KindValidation
		}
		return KindTransport
	}
}
