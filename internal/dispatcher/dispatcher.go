package dispatcher

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/market-sms/internal/gateway"
	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/internal/metrics"
	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Config struct {
	MaxAttempts int           // e.g. 6
	BatchSize   int           // e.g. 50
	SendDelay   time.Duration // pause between gateway calls
	StaleAfter  time.Duration // a sending row older than this is retried
}

// Store is the part of the queue repository a pass needs.
type Store interface {
	ClaimBatch(ctx context.Context, maxAttempts, batchSize int) ([]model.QueueEntry, error)
	MarkSending(ctx context.Context, id int64, token string, staleAfter time.Duration) (bool, error)
	RecordSuccess(ctx context.Context, id int64, raw *string, externalID string) error
	RecordFailure(ctx context.Context, id int64, errText string, raw *string, maxAttempts int) (model.EntryStatus, error)
}

type EventLog interface {
	Append(ctx context.Context, tx *sqlx.Tx, queueID *int64, eventType string, payload []byte) (int64, error)
}

type Normalizer interface {
	Normalize(raw string) (string, error)
}

// EventSink receives a copy of every event the dispatcher appends (Kafka, ClickHouse).
type EventSink interface {
	Publish(ctx context.Context, ev model.QueueEvent) error
}

type SinkFunc func(ctx context.Context, ev model.QueueEvent) error

func (f SinkFunc) Publish(ctx context.Context, ev model.QueueEvent) error { return f(ctx, ev) }

// Summary counts what one pass did.
type Summary struct {
	Claimed  int  `json:"claimed"`
	Sent     int  `json:"sent"`
	Failed   int  `json:"failed"`
	Dead     int  `json:"dead"`
	Lost     int  `json:"lost"`     // owned by a concurrent run
	Deferred int  `json:"deferred"` // left untouched because the gateway breaker was open
	Errors   int  `json:"errors"`   // outcome could not be persisted
	Skipped  bool `json:"skipped"`  // run lock held elsewhere
}

type outcome string

const (
	outcomeSent  outcome = "sent"
	outcomeFail  outcome = "failed"
	outcomeDead  outcome = "dead"
	outcomeLost  outcome = "lost"
	outcomeError outcome = "error"

	// not counted: the entry was left untouched
	outcomeCancelled outcome = "cancelled"
)

type Dispatcher struct {
	store  Store
	events EventLog
	gw     gateway.Sender
	norm   Normalizer
	lock   Locker
	sinks  []EventSink
	cfg    Config
	now    func() time.Time
}

type Option func(*Dispatcher)

// WithLock serialises passes across processes.
func WithLock(l Locker) Option { return func(d *Dispatcher) { d.lock = l } }

func WithSinks(s ...EventSink) Option {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, s...) }
}

func NewDispatcher(store Store, events EventLog, gw gateway.Sender, norm Normalizer, cfg Config, opts ...Option) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 6
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = 0
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}

	d := &Dispatcher{store: store, events: events, gw: gw, norm: norm, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// pass holds per-run state.
type pass struct {
	token    string
	gwCalled bool
	sum      Summary
}

// RunOnce drains one batch of due entries. Only lock and claim failures are
// returned; per-entry problems are logged and counted.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { metrics.DispatchPassSeconds.Observe(time.Since(start).Seconds()) }()

	if d.lock != nil {
		release, ok, err := d.lock.Acquire(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			logger.Log.Info("dispatch pass skipped, run lock held elsewhere")
			return Summary{Skipped: true}, nil
		}
		defer release()
	}

	entries, err := d.store.ClaimBatch(ctx, d.cfg.MaxAttempts, d.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	p := &pass{token: util.NewToken()}
	p.sum.Claimed = len(entries)

	for i, e := range entries {
		if ctx.Err() != nil {
			logger.Log.Info("dispatch pass cancelled", zap.Int("remaining", len(entries)-i))
			break
		}
		if !d.gw.Ready() {
			p.sum.Deferred = len(entries) - i
			logger.Log.Warn("gateway breaker open, stopping pass", zap.Int("deferred", p.sum.Deferred))
			break
		}

		out := d.process(ctx, p, e)
		if out == outcomeCancelled {
			logger.Log.Info("dispatch pass cancelled", zap.Int("remaining", len(entries)-i))
			break
		}
		metrics.QueueProcessed.WithLabelValues(string(out)).Inc()

		switch out {
		case outcomeSent:
			p.sum.Sent++
		case outcomeFail:
			p.sum.Failed++
		case outcomeDead:
			p.sum.Failed++
			p.sum.Dead++
		case outcomeLost:
			p.sum.Lost++
		case outcomeError:
			p.sum.Errors++
		}
	}

	logger.Log.Info("dispatch pass done",
		zap.String("run", p.token),
		zap.Int("claimed", p.sum.Claimed),
		zap.Int("sent", p.sum.Sent),
		zap.Int("failed", p.sum.Failed),
		zap.Int("dead", p.sum.Dead),
		zap.Int("lost", p.sum.Lost),
		zap.Int("deferred", p.sum.Deferred),
	)
	return p.sum, nil
}

func (d *Dispatcher) process(ctx context.Context, p *pass, e model.QueueEntry) outcome {
	log := logger.Log.With(zap.Int64("queue_id", e.ID))

	to, nerr := d.norm.Normalize(e.Recipient)

	// wait before touching the row so a cancelled wait leaves it queued
	if nerr == nil && p.gwCalled && d.cfg.SendDelay > 0 {
		if err := sleepCtx(ctx, d.cfg.SendDelay); err != nil {
			return outcomeCancelled
		}
	}

	owned, err := d.store.MarkSending(ctx, e.ID, p.token, d.cfg.StaleAfter)
	switch {
	case err != nil:
		log.Warn("mark sending failed, sending anyway", zap.Error(err))
	case !owned:
		log.Info("entry owned by another run, skipping")
		return outcomeLost
	}

	attempt := e.Attempts + 1

	if nerr != nil {
		msg := nerr.Error()
		return d.fail(ctx, log, e, attempt, gateway.SendResult{Error: &msg}, util.IsNormalizationError(nerr))
	}

	p.gwCalled = true

	res := d.gw.Send(ctx, to, e.Body)
	if !res.OK {
		return d.fail(ctx, log, e, attempt, res, false)
	}

	if err := d.store.RecordSuccess(ctx, e.ID, res.RawResponse, *res.MessageID); err != nil {
		log.Error("record success failed", zap.Error(err))
		return outcomeError
	}

	d.emit(ctx, log, e.ID, model.EventSent, sentPayload{
		MessageID:   *res.MessageID,
		HTTPStatus:  res.HTTPStatus,
		RawResponse: res.RawResponse,
		Recipient:   to,
	})
	return outcomeSent
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, e model.QueueEntry, attempt int, res gateway.SendResult, permanent bool) outcome {
	errText := res.ErrorText()

	status, err := d.store.RecordFailure(ctx, e.ID, errText, res.RawResponse, d.cfg.MaxAttempts)
	if err != nil {
		log.Error("record failure failed", zap.Error(err), zap.String("send_error", errText))
		return outcomeError
	}

	log.Warn("send failed",
		zap.Int("attempt", attempt),
		zap.Int("http_status", res.HTTPStatus),
		zap.String("error", errText),
		zap.String("status", status.String()),
	)

	d.emit(ctx, log, e.ID, model.EventSendFailed, failedPayload{
		Error:       errText,
		HTTPStatus:  res.HTTPStatus,
		RawResponse: res.RawResponse,
		Attempts:    attempt,
		Permanent:   permanent,
	})

	if status != model.StatusDead {
		return outcomeFail
	}

	d.emit(ctx, log, e.ID, model.EventDeadLettered, deadPayload{
		Error:       errText,
		Attempts:    attempt,
		MaxAttempts: d.cfg.MaxAttempts,
	})
	return outcomeDead
}

type sentPayload struct {
	MessageID   string  `json:"message_id"`
	HTTPStatus  int     `json:"http_status"`
	RawResponse *string `json:"raw_response"`
	Recipient   string  `json:"recipient"`
}

type failedPayload struct {
	Error       string  `json:"error"`
	HTTPStatus  int     `json:"http_status"`
	RawResponse *string `json:"raw_response"`
	Attempts    int     `json:"attempts"`
	Permanent   bool    `json:"permanent"`
}

type deadPayload struct {
	Error       string `json:"error"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
}

// emit appends the event and fans it out to the sinks. Failures are logged only.
func (d *Dispatcher) emit(ctx context.Context, log *zap.Logger, queueID int64, eventType string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal event payload", zap.String("event", eventType), zap.Error(err))
		return
	}

	id, err := d.events.Append(ctx, nil, &queueID, eventType, b)
	if err != nil {
		log.Error("append event failed", zap.String("event", eventType), zap.Error(err))
		return
	}

	if len(d.sinks) == 0 {
		return
	}

	ev := model.QueueEvent{
		ID:        id,
		QueueID:   sql.NullInt64{Int64: queueID, Valid: true},
		EventType: eventType,
		Payload:   b,
		CreatedAt: d.now().UTC(),
	}
	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			log.Warn("publish event failed", zap.String("event", eventType), zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
