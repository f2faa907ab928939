package http

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/market-sms/internal/config"
	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/repository"
	"github.com/jmoiron/sqlx"
)

type fakeInbound struct {
	mu   sync.Mutex
	rows []model.InboundMessage
	err  error
}

var _ repository.InboundRepository = (*fakeInbound)(nil)

func (f *fakeInbound) Insert(_ context.Context, m model.InboundMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.rows = append(f.rows, m)
	return int64(len(f.rows)), nil
}

type fakeEvent struct {
	QueueID   *int64
	EventType string
	Payload   []byte
}

type fakeEvents struct {
	mu   sync.Mutex
	rows []fakeEvent
	err  error
}

func (f *fakeEvents) Append(_ context.Context, _ *sqlx.Tx, queueID *int64, eventType string, payload []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.rows = append(f.rows, fakeEvent{QueueID: queueID, EventType: eventType, Payload: payload})
	return int64(len(f.rows)), nil
}

// memQueue is a minimal in-memory sms_queue.
type memQueue struct {
	mu       sync.Mutex
	entries  []model.QueueEntry
	external map[string]int64
	err      error
}

var _ repository.QueueRepository = (*memQueue)(nil)

func newMemQueue() *memQueue { return &memQueue{external: map[string]int64{}} }

func (q *memQueue) Enqueue(_ context.Context, _ *sqlx.Tx, recipient, body string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	id := int64(len(q.entries) + 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.entries = append(q.entries, model.QueueEntry{
		ID: id, Recipient: recipient, Body: body, Status: model.StatusQueued, CreatedAt: now, UpdatedAt: now,
	})
	return id, nil
}

func (q *memQueue) Get(_ context.Context, id int64) (*model.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if id < 1 || id > int64(len(q.entries)) {
		return nil, repository.ErrNotFound
	}
	e := q.entries[id-1]
	return &e, nil
}

func (q *memQueue) ListByStatus(_ context.Context, status model.EntryStatus, limit, offset int) ([]model.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.QueueEntry
	for _, e := range q.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueue) FindByExternalID(_ context.Context, externalID string) (int64, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, false, q.err
	}
	id, ok := q.external[externalID]
	return id, ok, nil
}

func (q *memQueue) ClaimBatch(context.Context, int, int) ([]model.QueueEntry, error) { return nil, nil }

func (q *memQueue) MarkSending(context.Context, int64, string, time.Duration) (bool, error) {
	return false, nil
}

func (q *memQueue) RecordSuccess(context.Context, int64, *string, string) error { return nil }

func (q *memQueue) RecordFailure(context.Context, int64, string, *string, int) (model.EntryStatus, error) {
	return "", errors.New("not used")
}

func (q *memQueue) Requeue(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id < 1 || id > int64(len(q.entries)) {
		return repository.ErrNotFound
	}
	e := &q.entries[id-1]
	if e.Status != model.StatusDead {
		return repository.ErrNotRequeueable
	}
	e.Status, e.Attempts = model.StatusQueued, 0
	return nil
}

type fakeCHEvents struct {
	rows []model.QueueEvent
	last struct {
		eventType string
		queueID   int64
	}
}

var _ repository.CHEventsRepository = (*fakeCHEvents)(nil)

func (f *fakeCHEvents) Insert(_ context.Context, ev model.QueueEvent) error {
	f.rows = append(f.rows, ev)
	return nil
}

func (f *fakeCHEvents) List(_ context.Context, eventType string, queueID int64, _, _ int) ([]model.QueueEvent, error) {
	f.last.eventType, f.last.queueID = eventType, queueID
	return f.rows, nil
}

func testConfig() config.Config {
	return config.Config{
		Webhook: config.WebhookConfig{Secret: "s3cret"},
		Phone:   config.PhoneConfig{Region: "PH", MinDigits: 10, RestrictCountry: true},
		API:     config.APIConfig{Keys: []string{"test-key"}, MaxBodyRunes: 918},
	}
}

var errDB = errors.New("db down")

type recordingSink struct {
	mu  sync.Mutex
	evs []model.QueueEvent
	err error
}

func (s *recordingSink) Publish(_ context.Context, ev model.QueueEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return s.err
}
