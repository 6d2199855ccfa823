// Package amphislog carries the store's structured logger, a thin wrapper
// around a *zap.SugaredLogger. The logger is passed to the Open functions
// as its own parameter; config.Config does not carry it.
package amphislog

import "go.uber.org/zap"

// Logger is the structured logger used by the façade, the FPTree manager,
// and the flush worker.
type Logger struct {
	sugared *zap.SugaredLogger
}

// New builds a production zap logger wrapped as a Logger. If construction
// fails (should not happen with the default production config), a no-op
// logger is returned instead of failing Open.
func New() *Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		return &Logger{sugared: zap.NewNop().Sugar()}
	}
	return &Logger{sugared: zl.Sugar()}
}

// Noop returns a Logger that discards everything, used in tests.
func Noop() *Logger {
	return &Logger{sugared: zap.NewNop().Sugar()}
}

// Wrap adapts an existing *zap.SugaredLogger.
func Wrap(s *zap.SugaredLogger) *Logger {
	if s == nil {
		return Noop()
	}
	return &Logger{sugared: s}
}

func (l *Logger) Infow(msg string, kv ...interface{}) {
	if l == nil || l.sugared == nil {
		return
	}
	l.sugared.Infow(msg, kv...)
}

func (l *Logger) Warnw(msg string, kv ...interface{}) {
	if l == nil || l.sugared == nil {
		return
	}
	l.sugared.Warnw(msg, kv...)
}

func (l *Logger) Errorw(msg string, kv ...interface{}) {
	if l == nil || l.sugared == nil {
		return
	}
	l.sugared.Errorw(msg, kv...)
}

// Sync flushes any buffered log entries. Errors are expected and ignored
// when the underlying sink is a console/terminal (zap's documented caveat).
func (l *Logger) Sync() {
	if l == nil || l.sugared == nil {
		return
	}
	_ = l.sugared.Sync()
}
