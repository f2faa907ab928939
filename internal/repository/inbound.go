package repository

import (
	"context"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmoiron/sqlx"
)

// InboundRepository stores SMS received through the gateway webhook.
// Rows are not deduplicated: a provider retry produces a second row.
type InboundRepository interface {
	Insert(ctx context.Context, m model.InboundMessage) (int64, error)
}

type InboundRepositoryImpl struct {
	db *sqlx.DB
}

func NewInboundRepository(db *sqlx.DB) *InboundRepositoryImpl {
	return &InboundRepositoryImpl{db: db}
}

var _ InboundRepository = (*InboundRepositoryImpl)(nil)

func (r *InboundRepositoryImpl) Insert(ctx context.Context, m model.InboundMessage) (int64, error) {
	const q = `
		INSERT INTO sms_inbound
		    (provider_message_id, sender, body, sim_number, received_at, raw_payload, created_at)
		VALUES
		    (:provider_message_id, :sender, :body, :sim_number, :received_at, :raw_payload, NOW(3))
	`
	res, err := r.db.NamedExecContext(ctx, q, m)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
