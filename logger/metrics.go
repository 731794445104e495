package logger

import (
	"context"

	"go.uber.org/zap"
)

// MetricRegistry is metric registry.
type MetricRegistry interface {
	IncrementConnectorErrorCounter()
}

// WithMetrics returns logger reporting metrics on error logs.
func WithMetrics(l Logger, metricRegistry MetricRegistry) Logger {
	return metricLogger{
		parentLogger:   l,
		metricRegistry: metricRegistry,
	}
}

type metricLogger struct {
	parentLogger   Logger
	metricRegistry MetricRegistry
}

func (l metricLogger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.parentLogger.Debug(ctx, msg, fields...)
}

func (l metricLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.parentLogger.Info(ctx, msg, fields...)
}

func (l metricLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.parentLogger.Warn(ctx, msg, fields...)
}

func (l metricLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.metricRegistry.IncrementConnectorErrorCounter()
	l.parentLogger.Error(ctx, msg, fields...)
}
