package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abjtutorial/tutorbot/internal/domain"
)

type fakeChannel struct {
	declared   []string
	durable    bool
	published  []amqp.Publishing
	keys       []string
	publishErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	f.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishWritesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "tutorbot.audit")
	require.NoError(t, err)
	assert.Equal(t, []string{"tutorbot.audit"}, ch.declared)
	assert.True(t, ch.durable)

	ev := domain.AuditEvent{
		ID:        "8d4f",
		Kind:      domain.AuditReviewApproved,
		ActorID:   900,
		SubjectID: 555,
		Data:      map[string]string{"payment_id": "ABJ5553"},
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "tutorbot.audit", ch.keys[0])
	assert.Equal(t, "8d4f", msg.MessageId)
	assert.Equal(t, domain.AuditReviewApproved, msg.Type)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var got domain.AuditEvent
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, ev, got)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestPublishErrors(t *testing.T) {
	_, err := NewPublisher(&fakeChannel{}, " ")
	assert.Error(t, err)

	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := NewPublisher(ch, "q")
	require.NoError(t, err)
	err = p.Publish(context.Background(), domain.AuditEvent{ID: "x", Kind: domain.AuditGateRemoved})
	assert.ErrorContains(t, err, "publish gate.removed")
}
