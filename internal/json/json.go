// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package json provides internal JSON utilities, backed by
// github.com/segmentio/encoding/json for the hot dispatch path (decoding
// every incoming frame, encoding every outgoing one). RawMessage is kept as
// an alias of encoding/json's type so it interoperates with struct fields
// declared against the standard library elsewhere in the module.
package json

import (
	stdjson "encoding/json"

	segmentjson "github.com/segmentio/encoding/json"
)

// RawMessage aliases encoding/json.RawMessage for interoperability with the
// rest of the module, while Marshal/Unmarshal below use the faster
// segmentio codec.
type RawMessage = stdjson.RawMessage

// Unmarshal decodes data into v, matching object keys to struct fields
// case-sensitively.
func Unmarshal(data []byte, v any) error {
	_, err := segmentjson.Parse(data, v, segmentjson.DontMatchCaseInsensitiveStructFields)
	return err
}

func Marshal(v any) ([]byte, error) {
	return segmentjson.Marshal(v)
}

// MarshalRaw marshals v, returning a RawMessage ready to embed in a
// jsonrpc.Response.Result or .Params field. A nil v marshals to "null",
// matching the behavior callers expect for empty results.
func MarshalRaw(v any) (RawMessage, error) {
	if v == nil {
		return RawMessage("null"), nil
	}
	data, err := segmentjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return RawMessage(data), nil
}
