// Package logging is the ambient structured-logging setup shared by
// internal/bus and cmd/securepeerd, built directly on pion/logging — the
// same logging library the teacher uses throughout pkg/transport,
// pkg/commissioning, and pkg/im. No other logging library appears
// anywhere in the retrieval pack, so this package never reaches for one.
package logging

import (
	"os"

	"github.com/pion/logging"
)

// Scope names for NewLogger and for the scopeLevels keys of NewFactory.
// internal/bus.Runtime uses ScopeBus and ScopeTransport.
const (
	ScopeBus        = "bus"
	ScopeTransport  = "transport"
	ScopePeer       = "peer"
	ScopePermission = "permission"
)

// NewFactory builds a pion/logging.LoggerFactory writing to stderr at
// level, applying it uniformly across scopes unless overridden by
// scopeLevels.
func NewFactory(level logging.LogLevel, scopeLevels map[string]logging.LogLevel) logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stderr
	f.DefaultLogLevel = level
	if len(scopeLevels) > 0 {
		f.ScopeLevels = scopeLevels
	}
	return f
}

// NewLogger returns a scoped logger from factory, falling back to a
// fresh default factory if factory is nil — collapsing the
// `if cfg.LoggerFactory != nil` guard pkg/commissioning and pkg/im
// repeat at every call site into one helper.
func NewLogger(factory logging.LoggerFactory, scope string) logging.LeveledLogger {
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	return factory.NewLogger(scope)
}
