// Package logging provides the shared zerolog logger used across the
// scanning engine, grounded on the teacher's logging.L global-logger idiom
// (cmd/blindbit-desktop/main.go's init(), which toggles level via a -debug
// flag).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// L is the process-wide logger. Swappable in tests via SetLogger.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// SetLogLevel adjusts the global minimum level, e.g. zerolog.DebugLevel
// when a caller passes -debug.
func SetLogLevel(level zerolog.Level) {
	L = L.Level(level)
}

// SetLogger replaces the shared logger outright, used by tests that want a
// silent or buffered sink.
func SetLogger(l zerolog.Logger) {
	L = l
}
