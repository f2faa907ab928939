package kafka

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_Publish(t *testing.T) {
	w := &captureWriter{}
	p := &Producer{w: w}

	ev := model.QueueEvent{
		ID:        3,
		QueueID:   sql.NullInt64{Int64: 17, Valid: true},
		EventType: model.EventSent,
		Payload:   json.RawMessage(`{"message_id":"abc123"}`),
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	require.Equal(t, "17", string(m.Key))
	require.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte("sent")}}, m.Headers)
	require.JSONEq(t, `{
		"id": 3,
		"queue_id": 17,
		"event_type": "sent",
		"event_payload": {"message_id":"abc123"},
		"created_at": "2026-02-01T00:00:00Z"
	}`, string(m.Value))

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestProducer_PublishUncorrelated(t *testing.T) {
	w := &captureWriter{}
	p := &Producer{w: w}

	require.NoError(t, p.Publish(context.Background(), model.QueueEvent{EventType: "sms:delivered", Payload: json.RawMessage(`{}`)}))
	require.Nil(t, w.msgs[0].Key)
}
