package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/market-sms/internal/kafka"
	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/service/queue"
	"go.uber.org/zap"
)

type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, env model.Envelope) (int64, error)
}

// Ingest moves enqueue envelopes from Kafka into sms_queue:
// - fetches one message at a time so commits stay in partition order,
// - poison messages (bad json, invalid recipient/body) are committed and skipped,
// - storage errors are retried with backoff until ctx is cancelled.
type Ingest struct {
	Consumer Consumer
	Queue    Enqueuer

	FetchBackoff time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func NewIngest(consumer Consumer, q Enqueuer) *Ingest {
	return &Ingest{
		Consumer:     consumer,
		Queue:        q,
		FetchBackoff: 200 * time.Millisecond,
		RetryBackoff: 500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (w *Ingest) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Queue == nil {
		return errors.New("ingest: consumer and queue are required")
	}

	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Log.Warn("kafka fetch failed", zap.Error(err))
			if sleep(ctx, w.FetchBackoff) != nil {
				return nil
			}
			continue
		}

		if err := w.processOne(ctx, m); err != nil {
			// only ctx cancellation gets here
			return nil
		}
	}
}

func (w *Ingest) processOne(ctx context.Context, m kafka.Message) error {
	log := logger.Log.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Warn("bad envelope json, skipping", zap.Error(err))
		return w.commit(ctx, log, m)
	}

	backoff := w.RetryBackoff
	for {
		id, err := w.Queue.Enqueue(ctx, env)
		if err == nil {
			log.Debug("envelope enqueued", zap.Int64("queue_id", id))
			return w.commit(ctx, log, m)
		}
		if queue.IsInvalid(err) {
			log.Warn("invalid envelope, skipping", zap.Error(err))
			return w.commit(ctx, log, m)
		}

		log.Error("enqueue failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

func (w *Ingest) commit(ctx context.Context, log *zap.Logger, m kafka.Message) error {
	if err := w.Consumer.Commit(ctx, m); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// at-least-once: the message is redelivered after a rebalance
		log.Error("kafka commit failed", zap.Error(err))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
