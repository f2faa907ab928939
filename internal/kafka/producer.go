package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 50ms
	WriteTimeout time.Duration // default 5s
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes queue events. Messages are keyed by queue id so events
// of one entry stay ordered within a partition.
type Producer struct {
	w messageWriter
}

func NewProducer(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           bt,
		WriteTimeout:           wt,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Publish(ctx context.Context, ev model.QueueEvent) error {
	value, err := json.Marshal(ev.View())
	if err != nil {
		return err
	}

	var key []byte
	if ev.QueueID.Valid {
		key = []byte(strconv.FormatInt(ev.QueueID.Int64, 10))
	}

	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	})
}

func (p *Producer) Close() error { return p.w.Close() }
