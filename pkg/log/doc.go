// Package log provides leveled, structured logging for the queue core.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default. Typical usage:
//
//	logger := log.New(log.Options{Level: log.InfoLevel, Format: "text"})
//	logger = logger.With(log.Component("queue"))
//	logger.Info("queue created", log.Str("name", "orders"))
package log
