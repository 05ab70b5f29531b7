package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

func TestSendRoutesByPriority(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATSNotifier(pub, nil)

	n.Send(context.Background(), Notification{Subject: "system critical", Body: "engine unreachable", Priority: PriorityHigh})
	n.Send(context.Background(), Notification{Subject: "system degraded", Body: "cache slow"})

	require.Len(t, pub.subjects, 2)
	assert.Equal(t, "swarm.notify.high", pub.subjects[0])
	assert.Equal(t, "swarm.notify.normal", pub.subjects[1], "missing priority defaults to normal")

	var msg Notification
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "system critical", msg.Subject)
	assert.Equal(t, PriorityHigh, msg.Priority)
}

func TestSendSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	n := newNATSNotifier(pub, nil)

	// Must not panic or surface the error in any way.
	n.Send(context.Background(), Notification{Subject: "s", Body: "b"})
	assert.Len(t, pub.subjects, 1)
}
