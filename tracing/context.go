package tracing

import (
	"context"

	"github.com/google/uuid"
)

type (
	tracingIDKey       struct{}
	tracingProcessKey  struct{}
	tracingPacketIDKey struct{}
)

// WithTracingID returns context with set tracing ID.
func WithTracingID(ctx context.Context) context.Context {
	return context.WithValue(ctx, tracingIDKey{}, uuid.New().String())
}

// GetTracingID returns tracing ID from the context.
func GetTracingID(ctx context.Context) string {
	v, ok := ctx.Value(tracingIDKey{}).(string)
	if !ok {
		return ""
	}

	return v
}

// WithTracingProcess returns context with set tracing process.
func WithTracingProcess(ctx context.Context, process string) context.Context {
	return context.WithValue(ctx, tracingProcessKey{}, process)
}

// GetTracingProcess returns tracing process from the context.
func GetTracingProcess(ctx context.Context) string {
	v, ok := ctx.Value(tracingProcessKey{}).(string)
	if !ok {
		return ""
	}

	return v
}

// WithTracingPacketID returns context with set ILP packet ID.
func WithTracingPacketID(ctx context.Context, packetID string) context.Context {
	return context.WithValue(ctx, tracingPacketIDKey{}, packetID)
}

// GetTracingPacketID returns ILP packet ID from the context.
func GetTracingPacketID(ctx context.Context) string {
	v, ok := ctx.Value(tracingPacketIDKey{}).(string)
	if !ok {
		return ""
	}

	return v
}
