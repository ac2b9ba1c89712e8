// Package slog bridges log/slog handlers into the library's Logger
// interface, for host applications that standardize on the standard
// structured logger instead of the zerolog default.
package slog

import "log/slog"

// Adapter routes the library's leveled calls through a slog.Handler.
type Adapter struct {
	logger *slog.Logger
}

// New wraps h into a logger.Logger implementation.
func New(h slog.Handler) *Adapter {
	return &Adapter{logger: slog.New(h)}
}

func (a *Adapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *Adapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *Adapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
