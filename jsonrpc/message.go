// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc defines the JSON-RPC 2.0 wire envelope used by the MCP
// dispatcher: requests, responses, notifications, batches, and the standard
// error object. It has no knowledge of MCP method names or params shapes;
// those live in package mcp.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the fixed jsonrpc wire-level version this package speaks.
const ProtocolVersion = "2.0"

// ID is a request or response correlation id: a string or a JSON number.
// The zero ID (nil Value) marks a notification.
type ID struct {
	Value any // nil, string, or int64
}

// IsValid reports whether the ID is set (i.e. this is not a notification).
func (id ID) IsValid() bool {
	return id.Value != nil
}

// Int64 returns the ID as an int64, for ids allocated by this process's
// monotonic counter.
func (id ID) Int64() (int64, bool) {
	switch v := id.Value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func (id ID) String() string {
	switch v := id.Value.(type) {
	case nil:
		return "<no id>"
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.Value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		id.Value = nil
	case string:
		id.Value = x
	case float64:
		id.Value = int64(x)
	default:
		return fmt.Errorf("jsonrpc: invalid id type %T", v)
	}
	return nil
}

// Int64ID constructs an ID from a monotonic int64 counter value.
func Int64ID(n int64) ID { return ID{Value: n} }

// StringID constructs an ID from a string.
func StringID(s string) ID { return ID{Value: s} }

// Message is any of Request, Response, or a decoded batch element.
// Implementations are Request and Response; a Request with no ID is a
// notification.
type Message interface {
	isMessage()
}

// Request is a JSON-RPC request or notification (when ID.IsValid() is false).
type Request struct {
	ID     ID              `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (*Request) isMessage() {}

// IsNotification reports whether this request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool { return !r.ID.IsValid() }

// Response is a JSON-RPC response, carrying exactly one of Result or Error.
type Response struct {
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

func (*Response) isMessage() {}

// wireEnvelope is the shape used to sniff request vs. response vs. batch
// when decoding a raw JSON value, and to marshal outgoing messages with the
// fixed "jsonrpc":"2.0" tag.
type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// EncodeMessage marshals a single Request or Response into its wire form,
// including the "jsonrpc":"2.0" tag.
func EncodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		return json.Marshal(wireEnvelope{
			JSONRPC: ProtocolVersion,
			ID:      idPtr(m),
			Method:  m.Method,
			Params:  m.Params,
		})
	case *Response:
		id := m.ID
		return json.Marshal(wireEnvelope{
			JSONRPC: ProtocolVersion,
			ID:      &id,
			Result:  m.Result,
			Error:   m.Error,
		})
	default:
		return nil, fmt.Errorf("jsonrpc: unknown message type %T", msg)
	}
}

func idPtr(r *Request) *ID {
	if !r.ID.IsValid() {
		return nil
	}
	id := r.ID
	return &id
}

// DecodeMessage unmarshals a single JSON value into a Request or Response,
// based on the presence of "method" (request/notification) vs. "result" or
// "error" (response). Malformed envelopes (missing jsonrpc, wrong version,
// or ambiguous shape) return an error whose caller should, per spec,
// respond with code CodeInvalidRequest.
func DecodeMessage(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("jsonrpc: parse error: %w", err)
	}
	if env.JSONRPC != ProtocolVersion {
		return nil, fmt.Errorf("jsonrpc: invalid request: jsonrpc must be %q, got %q", ProtocolVersion, env.JSONRPC)
	}
	switch {
	case env.Method != "":
		req := &Request{Method: env.Method, Params: env.Params}
		if env.ID != nil {
			req.ID = *env.ID
		}
		return req, nil
	case env.Result != nil || env.Error != nil:
		if env.ID == nil {
			return nil, fmt.Errorf("jsonrpc: invalid request: response missing id")
		}
		return &Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil
	default:
		return nil, fmt.Errorf("jsonrpc: invalid request: neither method nor result/error present")
	}
}

// DecodeBatch splits a raw JSON value into one or more Messages. A single
// object decodes to a one-element slice; a JSON array decodes to a message
// per array element. An empty array is rejected, per spec.md's "a batch
// must be non-empty".
func DecodeBatch(data []byte) ([]Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("jsonrpc: empty message")
	}
	if data[0] != '[' {
		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("jsonrpc: parse error: %w", err)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("jsonrpc: invalid request: batch must be non-empty")
	}
	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		msg, err := DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// EncodeBatch marshals several messages as a JSON array. A single-element
// slice is still encoded as an array; callers that want the "one logical
// message" wire form should call EncodeMessage directly.
func EncodeBatch(msgs []Message) ([]byte, error) {
	parts := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		data, err := EncodeMessage(m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, data)
	}
	return json.Marshal(parts)
}
