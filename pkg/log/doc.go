// Package log provides pulse's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by the standard library's
// slog through a handler that renders entries with a Formatter and writes
// them to one or more Outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("subscriber"), log.Str("stream", "ingest:uploads"))
//	l.Info("subscriber started", log.Int("count", 50))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config: level, json or text
// format, stderr/stdout/null output, key redaction and per-message sampling.
//
// # Interop
//
// RedirectStdLog routes the standard library logger (used by some
// dependencies) through a Logger; ToStdLogger wraps a Logger for APIs that
// want a *log.Logger.
package log
