package model

import (
	"database/sql"
	"time"
)

// InboundMessage is an SMS relayed to us by the gateway webhook.
type InboundMessage struct {
	ID                int64          `db:"id"`
	ProviderMessageID sql.NullString `db:"provider_message_id"`
	Sender            sql.NullString `db:"sender"`
	Body              sql.NullString `db:"body"`
	SimNumber         sql.NullString `db:"sim_number"`
	ReceivedAt        time.Time      `db:"received_at"`
	RawPayload        []byte         `db:"raw_payload"`
}
