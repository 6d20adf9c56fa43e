// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"log/slog"

	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
)

// SlogLogger adapts a *slog.Logger to the jsonrpc2.Logger interface consumed
// by ServerOptions.Logger and ClientOptions.Logger, so the dispatcher's own
// diagnostics (malformed messages, dropped notifications) flow through the
// same structured logger as the rest of an application.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger for use as a ServerOptions.Logger or
// ClientOptions.Logger value.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// Warn implements jsonrpc2.Logger.
func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

var _ jsonrpc2.Logger = (*SlogLogger)(nil)
