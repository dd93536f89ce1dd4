// Package log defines the structured logging facade shared by both services.
// Production code logs through the Logger interface; the zap package provides
// the default implementation.
package log
