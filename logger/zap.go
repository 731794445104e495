package logger

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/interledgermesh/connector/tracing"
)

var _ Logger = &ZapLogger{}

const (
	tracingIDFieldName       = "tracingID"
	tracingProcessFieldName  = "process"
	tracingPacketIDFieldName = "packetID"
)

// ZapLoggerConfig is ZapLogger config.
type ZapLoggerConfig struct {
	Level  string
	Format string
}

// DefaultZapLoggerConfig returns default ZapLoggerConfig.
func DefaultZapLoggerConfig() ZapLoggerConfig {
	return ZapLoggerConfig{
		Level:  "info",
		Format: "console",
	}
}

// ZapLogger is a Logger implementation built on zap.
type ZapLogger struct {
	zapLogger *zap.Logger
}

// NewZapLoggerFromLogger returns a new instance of the ZapLogger.
func NewZapLoggerFromLogger(zapLogger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		zapLogger: zapLogger,
	}
}

// NewZapLogger creates a new instance of the ZapLogger from the config.
func NewZapLogger(cfg ZapLoggerConfig) (*ZapLogger, error) {
	logLevel, err := stringToLoggerLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(logLevel),
		Development:      false,
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	zapLogger, err := zapCfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build zap logger from the config, config:%+v", zapCfg)
	}

	return &ZapLogger{
		zapLogger: zapLogger,
	}, nil
}

// Debug logs a message at DebugLevel.
func (z ZapLogger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	z.zapLogger.Debug(msg, withTracingFields(ctx, fields)...)
}

// Info logs a message at InfoLevel.
func (z ZapLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	z.zapLogger.Info(msg, withTracingFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel.
func (z ZapLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	z.zapLogger.Warn(msg, withTracingFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel.
func (z ZapLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	z.zapLogger.Error(msg, withTracingFields(ctx, fields)...)
}

func withTracingFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if tracingID := tracing.GetTracingID(ctx); tracingID != "" {
		fields = append(fields, zap.String(tracingIDFieldName, tracingID))
	}
	if process := tracing.GetTracingProcess(ctx); process != "" {
		fields = append(fields, zap.String(tracingProcessFieldName, process))
	}
	if packetID := tracing.GetTracingPacketID(ctx); packetID != "" {
		fields = append(fields, zap.String(tracingPacketIDFieldName, packetID))
	}

	return fields
}

// stringToLoggerLevel converts the string level to zapcore.Level.
func stringToLoggerLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, errors.Errorf("unknown log level: %q", level)
	}
}
