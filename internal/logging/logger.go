// Package logging defines the minimal logging interface shared by the
// internal engine packages, mirroring the root package's own Logger
// (see logger.go) so the same *log.Logger (or any custom logger) can back
// both without internal packages importing the root package.
package logging

import "log"

// Logger is satisfied by *log.Logger and by the root package's Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Default wraps the standard library's default logger.
func Default() Logger { return log.Default() }

// nopLogger discards everything; useful in tests that don't want log spam.
type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Nop returns a Logger that discards all output.
func Nop() Logger { return nopLogger{} }
