package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

const (
	EventSent         = "sent"
	EventSendFailed   = "send_failed"
	EventDeadLettered = "dead_lettered"
)

// QueueEvent is an append-only row in sms_events. QueueID is NULL for
// provider callbacks that could not be tied to an outbound entry.
type QueueEvent struct {
	ID        int64           `db:"id" json:"id"`
	QueueID   sql.NullInt64   `db:"queue_id" json:"-"`
	EventType string          `db:"event_type" json:"event_type"`
	Payload   json.RawMessage `db:"event_payload" json:"event_payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

type QueueEventView struct {
	ID        int64           `json:"id"`
	QueueID   *int64          `json:"queue_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"event_payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (e QueueEvent) View() QueueEventView {
	v := QueueEventView{ID: e.ID, EventType: e.EventType, Payload: e.Payload, CreatedAt: e.CreatedAt}
	if e.QueueID.Valid {
		id := e.QueueID.Int64
		v.QueueID = &id
	}
	return v
}
