package audit

import (
	"context"
	"sync/atomic"
	"time"
)

// AtomicLogger wraps a Logger with an atomic pointer for lock-free
// hot-reload. All Logger method calls are delegated to the currently
// stored logger. Swap() atomically replaces the inner logger, making all
// subsequent calls use the new one without requiring consumers to be
// re-wired.
//
// This solves the stale-reference problem where HTTP middleware captures
// the logger at creation time via closures. By passing an AtomicLogger
// instead, the closures always delegate to the current logger.
type AtomicLogger struct {
	current atomic.Pointer[Logger]
}

// Ensure AtomicLogger satisfies the Logger interface.
var _ Logger = (*AtomicLogger)(nil)

// defaultNoopLogger avoids allocating a new noopLogger on every Load()
// when the atomic pointer is nil (zero-value struct).
var defaultNoopLogger Logger = &noopLogger{}

// NewAtomicLogger creates a new AtomicLogger wrapping the given logger.
// If logger is nil, a NoopLogger is used as the initial delegate to
// guarantee nil-safe operation.
func NewAtomicLogger(logger Logger) *AtomicLogger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	a := &AtomicLogger{}
	a.current.Store(&logger)
	return a
}

// Load returns the current delegate logger.
func (a *AtomicLogger) Load() Logger {
	p := a.current.Load()
	if p == nil {
		return defaultNoopLogger
	}
	return *p
}

// Swap atomically replaces the delegate and returns the previous one.
// The caller owns closing the previous logger once in-flight calls have
// finished.
func (a *AtomicLogger) Swap(logger Logger) Logger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	prev := a.current.Swap(&logger)
	if prev == nil {
		return defaultNoopLogger
	}
	return *prev
}

// LogEvent implements Logger.
func (a *AtomicLogger) LogEvent(ctx context.Context, event *Event) {
	a.Load().LogEvent(ctx, event)
}

// LogAuthentication implements Logger.
func (a *AtomicLogger) LogAuthentication(ctx context.Context, outcome Outcome, reason string, subject *Subject) {
	a.Load().LogAuthentication(ctx, outcome, reason, subject)
}

// LogAuthorization implements Logger.
func (a *AtomicLogger) LogAuthorization(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource) {
	a.Load().LogAuthorization(ctx, outcome, subject, resource)
}

// LogRateLimit implements Logger.
func (a *AtomicLogger) LogRateLimit(ctx context.Context, subject *Subject, limit int, retryAfter time.Duration) {
	a.Load().LogRateLimit(ctx, subject, limit, retryAfter)
}

// LogLifecycle implements Logger.
func (a *AtomicLogger) LogLifecycle(ctx context.Context, action Action, outcome Outcome, subject *Subject) {
	a.Load().LogLifecycle(ctx, action, outcome, subject)
}

// Close implements Logger. It closes the current delegate.
func (a *AtomicLogger) Close() error {
	return a.Load().Close()
}
