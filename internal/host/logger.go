// Package host collects the capabilities the scheduler borrows from
// its embedding process: structured logging, an optional external
// event loop a worker can hand control to while parked, and the
// jitter source used for multi-queue two-choice sampling.
package host

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the narrow logging surface the scheduler depends on. It is
// satisfied by *logiface.Logger[*stumpy.Event], so callers get
// structured, leveled JSON logging without the scheduler importing a
// concrete backend beyond what NewLogger wires up.
type Logger interface {
	Info() *logiface.Builder[*stumpy.Event]
	Debug() *logiface.Builder[*stumpy.Event]
	Warning() *logiface.Builder[*stumpy.Event]
	Err() *logiface.Builder[*stumpy.Event]
	Trace() *logiface.Builder[*stumpy.Event]
}

// NewLogger builds the default stumpy-backed JSON logger, writing to
// the process's configured writer (stumpy.L.WithWriter defaults to
// os.Stderr when none is given).
func NewLogger() Logger {
	return stumpy.L.New(stumpy.L.WithStumpy())
}

// NopLogger discards everything; used by tests and by DefaultConfig
// when the embedder doesn't care to wire structured logging.
type NopLogger struct{}

func (NopLogger) Info() *logiface.Builder[*stumpy.Event]    { return nopBuilder() }
func (NopLogger) Debug() *logiface.Builder[*stumpy.Event]   { return nopBuilder() }
func (NopLogger) Warning() *logiface.Builder[*stumpy.Event] { return nopBuilder() }
func (NopLogger) Err() *logiface.Builder[*stumpy.Event]     { return nopBuilder() }
func (NopLogger) Trace() *logiface.Builder[*stumpy.Event]   { return nopBuilder() }

var nopLogger = stumpy.L.New(stumpy.L.WithStumpy(), stumpy.L.WithLevel(logiface.LevelEmergency))

// nopBuilder returns a builder from a logger configured below every
// real level, so chained field calls are cheap no-ops.
func nopBuilder() *logiface.Builder[*stumpy.Event] { return nopLogger.Trace() }
