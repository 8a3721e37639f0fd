// Package logging provides the small logging seam the rest of this module
// depends on, so call sites never reach for the standard log package
// directly and tests can swap in a recording Logger.
package logging

import "log"

// Logger is the narrow interface every component logs through.
type Logger interface {
	Printf(format string, v ...any)
}

// StdLogger implements Logger on top of the standard library's log package.
type StdLogger struct{}

// NewStdLogger returns a Logger backed by the standard log package's
// default logger.
func NewStdLogger() Logger {
	return StdLogger{}
}

func (StdLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}

// Nop is a Logger that discards everything, useful in tests that don't care
// about log output but need a non-nil Logger.
type Nop struct{}

func (Nop) Printf(string, ...any) {}
