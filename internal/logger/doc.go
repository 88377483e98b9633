// Package logger wraps zap for the alarm monitor.
//
// It keeps one global sugared logger (console or JSON encoded), lets callers
// change its level at runtime and carries scoped loggers through a context so
// every component logs with its own name and key-value pairs.
package logger
