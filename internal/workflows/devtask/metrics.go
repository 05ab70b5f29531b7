package devtask

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// stageMetrics counts stage completions, rollbacks, and fix spawns. The
// meter provider is whatever the process installed globally; under tests
// that is the no-op provider.
type stageMetrics struct {
	stages    metric.Int64Counter
	rollbacks metric.Int64Counter
	fixes     metric.Int64Counter
}

func newStageMetrics() *stageMetrics {
	meter := otel.Meter("swarmd/devtask")
	stages, _ := meter.Int64Counter("swarmd.task.stage.completed",
		metric.WithDescription("Task stages completed, by stage"))
	rollbacks, _ := meter.Int64Counter("swarmd.task.rollbacks",
		metric.WithDescription("Rollback attempts, by outcome"))
	fixes, _ := meter.Int64Counter("swarmd.task.fixes.spawned",
		metric.WithDescription("Fix runs spawned after release failures"))
	return &stageMetrics{stages: stages, rollbacks: rollbacks, fixes: fixes}
}

func (m *stageMetrics) stageDone(ctx context.Context, stage string) {
	m.stages.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *stageMetrics) rollback(ctx context.Context, success bool) {
	m.rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

func (m *stageMetrics) fixSpawned(ctx context.Context) {
	m.fixes.Add(ctx, 1)
}
