package dispatcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/market-sms/internal/gateway"
	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmoiron/sqlx"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[int64]*model.QueueEntry

	claimErr   error
	markErr    error
	markRefuse map[int64]bool
	successErr error
	markedWith []string
}

var _ Store = (*fakeStore)(nil)

func newFakeStore(entries ...model.QueueEntry) *fakeStore {
	s := &fakeStore{entries: map[int64]*model.QueueEntry{}, markRefuse: map[int64]bool{}}
	for i := range entries {
		e := entries[i]
		if e.Status == "" {
			e.Status = model.StatusQueued
		}
		s.entries[e.ID] = &e
	}
	return s
}

func (s *fakeStore) get(id int64) model.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[id]
}

func (s *fakeStore) ClaimBatch(_ context.Context, maxAttempts, batchSize int) ([]model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}

	var out []model.QueueEntry
	for _, e := range s.entries {
		if (e.Status == model.StatusQueued || e.Status == model.StatusSending) && e.Attempts < maxAttempts {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > batchSize {
		out = out[:batchSize]
	}
	return out, nil
}

func (s *fakeStore) MarkSending(_ context.Context, id int64, token string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedWith = append(s.markedWith, token)
	if s.markErr != nil {
		return false, s.markErr
	}
	if s.markRefuse[id] {
		return false, nil
	}
	e := s.entries[id]
	e.Status = model.StatusSending
	e.ClaimToken.String, e.ClaimToken.Valid = token, true
	return true, nil
}

func (s *fakeStore) RecordSuccess(_ context.Context, id int64, raw *string, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.successErr != nil {
		return s.successErr
	}
	e := s.entries[id]
	e.Status = model.StatusSent
	e.Attempts++
	e.ExternalID.String, e.ExternalID.Valid = externalID, true
	e.LastError.Valid = false
	if raw != nil {
		e.ProviderResponse.String, e.ProviderResponse.Valid = *raw, true
	}
	return nil
}

func (s *fakeStore) RecordFailure(_ context.Context, id int64, errText string, raw *string, maxAttempts int) (model.EntryStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	e.Attempts++
	e.Status = model.StatusQueued
	if e.Attempts >= maxAttempts {
		e.Status = model.StatusDead
	}
	e.LastError.String, e.LastError.Valid = errText, true
	if raw != nil {
		e.ProviderResponse.String, e.ProviderResponse.Valid = *raw, true
	}
	return e.Status, nil
}

type appended struct {
	QueueID   int64
	EventType string
	Payload   []byte
}

type fakeEvents struct {
	mu   sync.Mutex
	rows []appended
	err  error
}

var _ EventLog = (*fakeEvents)(nil)

func (f *fakeEvents) Append(_ context.Context, _ *sqlx.Tx, queueID *int64, eventType string, payload []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.rows = append(f.rows, appended{QueueID: *queueID, EventType: eventType, Payload: payload})
	return int64(len(f.rows)), nil
}

func (f *fakeEvents) ofType(queueID int64, eventType string) []appended {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []appended
	for _, r := range f.rows {
		if r.QueueID == queueID && r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out
}

// fakeSender replays scripted results and can flip to not-ready after N sends.
type fakeSender struct {
	mu         sync.Mutex
	results    []gateway.SendResult
	calls      []string
	readyUntil int // -1 = always ready
}

var _ gateway.Sender = (*fakeSender)(nil)

func (f *fakeSender) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readyUntil < 0 || len(f.calls) < f.readyUntil
}

func (f *fakeSender) Send(_ context.Context, to, _ string) gateway.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to)
	if len(f.results) == 0 {
		msg := "no scripted result"
		return gateway.SendResult{Error: &msg}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func okResult(id string) gateway.SendResult {
	raw := `{"id":"` + id + `"}`
	return gateway.SendResult{OK: true, HTTPStatus: 200, MessageID: &id, RawResponse: &raw}
}

func errResult(status int, msg string) gateway.SendResult {
	return gateway.SendResult{HTTPStatus: status, Error: &msg}
}

type fakeLocker struct {
	ok       bool
	err      error
	released bool
}

func (l *fakeLocker) Acquire(context.Context) (func(), bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released = true }, true, nil
}

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

var errBoom = errors.New("boom")
