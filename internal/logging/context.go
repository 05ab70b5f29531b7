// internal/logging/context.go
package logging

import (
	"context"

	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task.id", taskID))
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if workerID := WorkerIDFromContext(ctx); workerID != "" {
		fields = append(fields, zap.String("worker.id", workerID))
	}

	return fields
}

// Context key types
type taskCtxKey struct{}
type runCtxKey struct{}
type workerCtxKey struct{}

// WithTaskID adds the task ID to context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// TaskIDFromContext extracts the task ID from context.
func TaskIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(taskCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRunID adds the orchestrator run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the orchestrator run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithWorkerID adds the worker ID to context.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, workerID)
}

// WorkerIDFromContext extracts the worker ID from context.
func WorkerIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(workerCtxKey{}).(string); ok {
		return s
	}
	return ""
}
