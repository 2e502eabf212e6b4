// Package zaplogger adapts go.uber.org/zap to modelsync.Logger, mirroring
// the teacher's promotion of zap as the structured logging backend for its
// own modules.
package zaplogger

import "go.uber.org/zap"

// Logger wraps a *zap.SugaredLogger to satisfy modelsync.Logger's
// key-value argument convention.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New adapts logger. A nil logger adapts zap.NewNop().
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sugar: logger.Sugar()}
}

func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
