package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventsRepository appends rows to the sms_events log. Rows are never updated.
type EventsRepository interface {
	// Append writes a single event. A nil queueID stores NULL (uncorrelated
	// provider callbacks). If tx is nil an internal transaction is used.
	Append(ctx context.Context, tx *sqlx.Tx, queueID *int64, eventType string, payload []byte) (int64, error)
	ListByQueueID(ctx context.Context, queueID int64) ([]model.QueueEvent, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

func (r *EventsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *EventsRepositoryImpl) Append(ctx context.Context, tx *sqlx.Tx, queueID *int64, eventType string, payload []byte) (int64, error) {
	const q = `
		INSERT INTO sms_events (queue_id, event_type, event_payload, created_at)
		VALUES (?, ?, ?, NOW(3))
	`
	if !json.Valid(payload) {
		return 0, fmt.Errorf("append %s event: payload is not valid json", eventType)
	}

	var id int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, queueID, eventType, payload)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", eventType, err)
	}
	return id, nil
}

func (r *EventsRepositoryImpl) ListByQueueID(ctx context.Context, queueID int64) ([]model.QueueEvent, error) {
	rows := []model.QueueEvent{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, queue_id, event_type, event_payload, created_at
		  FROM sms_events
		 WHERE queue_id = ?
		 ORDER BY id ASC
	`, queueID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
