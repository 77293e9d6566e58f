package log

import (
	"context"
	"os"

	"go.uber.org/zap"
)

var logger *zap.Logger

type ctxKey string

const (
	ClientIDKey  ctxKey = "client_id"
	RequestIDKey ctxKey = "request_id"
	JobIDKey     ctxKey = "job_id"
)

func init() {
	if os.Getenv("DEBUG") == "true" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
}

// SetLogger swaps the package logger, e.g. for zap.NewNop in tests or a
// level chosen from configuration.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// WithValue returns a copy of ctx carrying a field WithCtx will log.
func WithValue(ctx context.Context, key ctxKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

func WithCtx(ctx context.Context) *zap.Logger {
	fields := []zap.Field{}

	for _, key := range []ctxKey{ClientIDKey, RequestIDKey, JobIDKey} {
		if v := ctx.Value(key); v != nil {
			fields = append(fields, zap.Any(string(key), v))
		}
	}

	return logger.With(fields...)
}

func With(fields ...zap.Field) *zap.Logger {
	return logger.With(fields...)
}

func Sync() error {
	return logger.Sync()
}
