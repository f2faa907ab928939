package model

import (
	"database/sql"
	"time"
)

type EntryStatus string

const (
	StatusQueued  EntryStatus = "queued"
	StatusSending EntryStatus = "sending"
	StatusSent    EntryStatus = "sent"
	StatusDead    EntryStatus = "dead"
)

func (s EntryStatus) String() string {
	return string(s)
}

func (s EntryStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusSending, StatusSent, StatusDead:
		return true
	}
	return false
}

// QueueEntry is one outbound message persisted in the sms_queue table.
type QueueEntry struct {
	ID               int64          `db:"id" json:"id"`
	Recipient        string         `db:"recipient" json:"recipient"`
	Body             string         `db:"body" json:"body"`
	Status           EntryStatus    `db:"status" json:"status"`
	Attempts         int            `db:"attempts" json:"attempts"`
	LastError        sql.NullString `db:"last_error" json:"-"`
	ProviderResponse sql.NullString `db:"provider_response" json:"-"`
	ExternalID       sql.NullString `db:"external_id" json:"-"`
	ClaimToken       sql.NullString `db:"claim_token" json:"-"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// QueueEntryView is the JSON shape returned by the API (nullable columns flattened to pointers).
type QueueEntryView struct {
	ID         int64       `json:"id"`
	Recipient  string      `json:"recipient"`
	Body       string      `json:"body"`
	Status     EntryStatus `json:"status"`
	Attempts   int         `json:"attempts"`
	LastError  *string     `json:"last_error"`
	ExternalID *string     `json:"external_id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (e QueueEntry) View() QueueEntryView {
	return QueueEntryView{
		ID:         e.ID,
		Recipient:  e.Recipient,
		Body:       e.Body,
		Status:     e.Status,
		Attempts:   e.Attempts,
		LastError:  nullableString(e.LastError),
		ExternalID: nullableString(e.ExternalID),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
