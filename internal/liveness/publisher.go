package liveness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

// RepublishInterval is how often a worker refreshes its heartbeat. It sits
// well under the record TTL so one missed publish does not flap the worker
// to offline.
const RepublishInterval = 30 * time.Second

// HeartbeatSource supplies the current heartbeat payload on each tick.
// Implementations report the worker's own view: active task, declared LLM
// provider, auth status.
type HeartbeatSource func(ctx context.Context) Heartbeat

// Publisher republishes a worker's heartbeat on a fixed interval until the
// context is cancelled.
type Publisher struct {
	registry *Registry
	source   HeartbeatSource
	interval time.Duration
	log      *logging.Logger
}

// NewPublisher creates a Publisher. A non-positive interval uses
// RepublishInterval.
func NewPublisher(registry *Registry, source HeartbeatSource, interval time.Duration, log *logging.Logger) *Publisher {
	if interval <= 0 {
		interval = RepublishInterval
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Publisher{
		registry: registry,
		source:   source,
		interval: interval,
		log:      log,
	}
}

// Run publishes immediately, then on every tick. Publish failures are
// logged and retried on the next tick; the loop only exits with the context.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	hb := p.source(ctx)
	if err := p.registry.PublishHeartbeat(ctx, hb); err != nil {
		p.log.Warn(ctx, "heartbeat publish failed",
			zap.String("worker_id", hb.WorkerID),
			zap.Error(err),
		)
	}
}
