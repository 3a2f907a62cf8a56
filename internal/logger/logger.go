// Package logger provides a small leveled logging facade used across the
// pipeline.
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Error and Info cover run milestones (spot fetched, table written); Debug is
// where per-row diagnostics go (dropped rows, solver non-convergence), so a
// noisy subgraph never floods the default output.
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("spot price %s=%.2f USD", ticker, spot)
//	logger.Debugf("row %s: implied vol did not converge", id)
package logger

import (
	"log"
	"os"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level run progress.
	Debug              // Debug logs per-row diagnostics.
	Trace              // Trace logs very fine-grained execution details.
)

// current holds the active verbosity level.
// Only messages with level <= current are logged.
var current Level = Info

func init() {
	// Logs go to stderr so the run summary and report paths printed on
	// stdout stay machine-readable.
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// SetVerbosity sets the global logging verbosity.
// Typically called once during application startup, after flag parsing.
func SetVerbosity(v int) {
	current = Level(v)
}

func logf(l Level, prefix, format string, args ...any) {
	if current >= l {
		log.Printf(prefix+format, args...)
	}
}

// Errorf logs an error-level message.
func Errorf(format string, args ...any) {
	logf(Error, "[ERROR] ", format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logf(Info, "[INFO]  ", format, args...)
}

// Debugf logs debugging information, including per-row pipeline decisions.
func Debugf(format string, args ...any) {
	logf(Debug, "[DEBUG] ", format, args...)
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	logf(Trace, "[TRACE] ", format, args...)
}
