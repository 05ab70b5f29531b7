package health

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
)

// stuckAfter is how long a run may stay open before it counts as stuck.
const stuckAfter = 6 * time.Hour

// TemporalProbe implements EngineProbe against a Temporal cluster.
type TemporalProbe struct {
	client    client.Client
	namespace string
}

// NewTemporalProbe creates a probe over an existing Temporal client.
func NewTemporalProbe(c client.Client, namespace string) *TemporalProbe {
	if namespace == "" {
		namespace = "default"
	}
	return &TemporalProbe{client: c, namespace: namespace}
}

// Probe verifies the cluster responds and counts open and stuck runs.
func (p *TemporalProbe) Probe(ctx context.Context) (open, stuck int, err error) {
	if _, err := p.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return 0, 0, fmt.Errorf("temporal health check: %w", err)
	}

	openResp, err := p.client.CountWorkflow(ctx, &workflowservice.CountWorkflowExecutionsRequest{
		Namespace: p.namespace,
		Query:     `ExecutionStatus='Running'`,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("count running workflows: %w", err)
	}

	cutoff := time.Now().Add(-stuckAfter).UTC().Format(time.RFC3339)
	stuckResp, err := p.client.CountWorkflow(ctx, &workflowservice.CountWorkflowExecutionsRequest{
		Namespace: p.namespace,
		Query:     fmt.Sprintf(`ExecutionStatus='Running' AND StartTime < '%s'`, cutoff),
	})
	if err != nil {
		return int(openResp.GetCount()), 0, fmt.Errorf("count stuck workflows: %w", err)
	}

	return int(openResp.GetCount()), int(stuckResp.GetCount()), nil
}
