// Package log provides the relay's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Records are built as slog records and
// handled by a bridge handler that applies redaction and sampling before
// handing entries to a Formatter and one or more Outputs.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("relay"), log.Str("subject", "file:42:analysis"))
//	l.Info("session opened", log.Int("cursors", 1))
//
// ApplyConfig builds a logger from a declarative Config. RedirectStdLog sends
// output of the standard library logger through a Logger.
package log
