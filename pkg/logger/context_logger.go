package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	stageKey   ctxKey = "stage"
	sessionKey ctxKey = "session_id"
)

// WithStage returns a context tagged with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// WithSession returns a context tagged with a source/sink session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.SugaredLogger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.SugaredLogger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds stage and session fields carried by ctx
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.SugaredLogger {
	fields := []interface{}{}

	if stage, ok := ctx.Value(stageKey).(string); ok && stage != "" {
		fields = append(fields, "stage", stage)
	}
	if id, ok := ctx.Value(sessionKey).(string); ok && id != "" {
		fields = append(fields, "session_id", id)
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithFields adds custom fields to logger
func (cl *ContextLogger) WithFields(fields ...zapcore.Field) *zap.SugaredLogger {
	return cl.logger.Desugar().With(fields...).Sugar()
}

// Logger returns the underlying logger
func (cl *ContextLogger) Logger() *zap.SugaredLogger {
	return cl.logger
}
