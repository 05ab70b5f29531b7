// Package notify delivers operator notifications. Delivery is
// fire-and-forget: failures are logged and never fatal to the caller.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

// Priority of a notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is one operator-facing message.
type Notification struct {
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Priority Priority `json:"priority"`
}

// Notifier sends notifications. Implementations must never return delivery
// errors to callers.
type Notifier interface {
	Send(ctx context.Context, n Notification)
}

// publisher is the slice of the NATS connection the notifier uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications to swarm.notify.<priority> subjects.
type NATSNotifier struct {
	conn publisher
	log  *logging.Logger
}

// NewNATSNotifier connects to the NATS server at url.
func NewNATSNotifier(url string, log *logging.Logger) (*NATSNotifier, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("swarmd-notifier"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSNotifier(conn, log), nil
}

func newNATSNotifier(conn publisher, log *logging.Logger) *NATSNotifier {
	if log == nil {
		log = logging.NewNop()
	}
	return &NATSNotifier{conn: conn, log: log.Named("notify")}
}

// Send publishes the notification. Failures are logged at warn and dropped.
func (n *NATSNotifier) Send(ctx context.Context, msg Notification) {
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		n.log.Warn(ctx, "notification encode failed", zap.Error(err))
		return
	}
	subject := "swarm.notify." + string(msg.Priority)
	if err := n.conn.Publish(subject, payload); err != nil {
		n.log.Warn(ctx, "notification publish failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Nop is a Notifier that drops everything. Intended for tests and for runs
// that did not request notifications.
type Nop struct{}

func (Nop) Send(context.Context, Notification) {}
