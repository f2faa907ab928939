package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHEventsRepository mirrors sms_events into ClickHouse for reporting.
type CHEventsRepository interface {
	Insert(ctx context.Context, ev model.QueueEvent) error
	List(ctx context.Context, eventType string, queueID int64, limit, offset int) ([]model.QueueEvent, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

func (r *chEventsRepository) Insert(ctx context.Context, ev model.QueueEvent) error {
	var queueID *int64
	if ev.QueueID.Valid {
		v := ev.QueueID.Int64
		queueID = &v
	}
	_, err := r.ch.ExecContext(ctx, `
		INSERT INTO sms_events (id, queue_id, event_type, event_payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, queueID, ev.EventType, string(ev.Payload), ev.CreatedAt)
	return err
}

// List returns events newest first. Zero filters are ignored.
func (r *chEventsRepository) List(ctx context.Context, eventType string, queueID int64, limit, offset int) ([]model.QueueEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT toInt64(id) AS id, ifNull(toInt64(queue_id), 0) AS queue_id,
		       event_type, event_payload, created_at
		FROM sms_events
		WHERE 1 = 1
	`
	var args []any

	if eventType != "" {
		q += " AND event_type = ?"
		args = append(args, eventType)
	}
	if queueID > 0 {
		q += " AND queue_id = ?"
		args = append(args, queueID)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []chEventRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}

	out := make([]model.QueueEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.event())
	}
	return out, nil
}

// chEventRow is the ClickHouse scan shape: the payload is a String column
// and a missing queue id comes back as 0.
type chEventRow struct {
	ID        int64     `db:"id"`
	QueueID   int64     `db:"queue_id"`
	EventType string    `db:"event_type"`
	Payload   string    `db:"event_payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (r chEventRow) event() model.QueueEvent {
	return model.QueueEvent{
		ID:        r.ID,
		QueueID:   sql.NullInt64{Int64: r.QueueID, Valid: r.QueueID > 0},
		EventType: r.EventType,
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: r.CreatedAt,
	}
}
