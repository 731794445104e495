package logger

import (
	"context"

	"go.uber.org/zap"
)

//go:generate mockgen -destination=mock.go -package=logger . Logger

// Logger is the logging interface used across the connector.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)
}
