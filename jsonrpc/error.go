// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc

import "fmt"

// Error codes defined by JSON-RPC 2.0 and the MCP extensions layered on it.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// MCP-specific error codes.
	CodeToolNotFound     = -32000
	CodeResourceNotFound = -32001
	CodePromptNotFound   = -32002

	// CodeCircuitOpen is returned locally (never placed on the wire by a
	// compliant peer) when the resilience layer's breaker refuses a call.
	CodeCircuitOpen = -32010
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError constructs an *Error, the standard way handlers and the
// dispatcher report failures that must cross the wire.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// codeMessages gives the standard message for the fixed JSON-RPC codes;
// used when the dispatcher synthesizes an error without a handler-supplied
// message.
var codeMessages = map[int]string{
	CodeParseError:       "Parse error",
	CodeInvalidRequest:   "Invalid Request",
	CodeMethodNotFound:   "Method not found",
	CodeInvalidParams:    "Invalid params",
	CodeInternalError:    "Internal error",
	CodeToolNotFound:     "Tool not found",
	CodeResourceNotFound: "Resource not found",
	CodePromptNotFound:   "Prompt not found",
	CodeCircuitOpen:      "Circuit open",
}

// NewStandardError builds an *Error for one of the fixed codes above, using
// its standard message, optionally overridden by detail.
func NewStandardError(code int, detail string, data any) *Error {
	msg := codeMessages[code]
	if msg == "" {
		msg = "Error"
	}
	if detail != "" {
		msg = msg + ": " + detail
	}
	return &Error{Code: code, Message: msg, Data: data}
}
