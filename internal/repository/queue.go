package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound       = errors.New("queue entry not found")
	ErrNotRequeueable = errors.New("queue entry is not dead")
	errNoRowsAffected = errors.New("no rows affected")
)

const (
	queueEntryColumns = `id, recipient, body, status, attempts, last_error, provider_response, external_id, claim_token, created_at, updated_at`
	defaultListLimit  = 50
	maxListLimit      = 500
)

// QueueRepository defines persistence for the sms_queue table.
type QueueRepository interface {
	Enqueue(ctx context.Context, tx *sqlx.Tx, recipient, body string) (int64, error)
	Get(ctx context.Context, id int64) (*model.QueueEntry, error)
	ListByStatus(ctx context.Context, status model.EntryStatus, limit, offset int) ([]model.QueueEntry, error)
	FindByExternalID(ctx context.Context, externalID string) (int64, bool, error)

	ClaimBatch(ctx context.Context, maxAttempts, batchSize int) ([]model.QueueEntry, error)
	MarkSending(ctx context.Context, id int64, token string, staleAfter time.Duration) (bool, error)
	RecordSuccess(ctx context.Context, id int64, raw *string, externalID string) error
	RecordFailure(ctx context.Context, id int64, errText string, raw *string, maxAttempts int) (model.EntryStatus, error)
	Requeue(ctx context.Context, id int64) error
}

type QueueRepositoryImpl struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepositoryImpl {
	return &QueueRepositoryImpl{db: db}
}

var _ QueueRepository = (*QueueRepositoryImpl)(nil)

func (r *QueueRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

// Enqueue inserts a new entry with status=queued and attempts=0.
func (r *QueueRepositoryImpl) Enqueue(ctx context.Context, tx *sqlx.Tx, recipient, body string) (int64, error) {
	const q = `
		INSERT INTO sms_queue
		    (recipient, body, status, attempts, created_at, updated_at)
		VALUES
		    (?,         ?,    'queued', 0,      NOW(3),     NOW(3))
	`
	var id int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, recipient, body)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

func (r *QueueRepositoryImpl) Get(ctx context.Context, id int64) (*model.QueueEntry, error) {
	var e model.QueueEntry
	err := r.db.GetContext(ctx, &e, `SELECT `+queueEntryColumns+` FROM sms_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByStatus pages through entries newest first. An empty status lists everything.
func (r *QueueRepositoryImpl) ListByStatus(ctx context.Context, status model.EntryStatus, limit, offset int) ([]model.QueueEntry, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + queueEntryColumns + ` FROM sms_queue`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status.String())
	}
	q += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows := []model.QueueEntry{}
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *QueueRepositoryImpl) FindByExternalID(ctx context.Context, externalID string) (int64, bool, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `SELECT id FROM sms_queue WHERE external_id = ? ORDER BY id DESC LIMIT 1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ClaimBatch selects due entries, oldest first. It does not change any row;
// MarkSending is the per-row ownership step.
func (r *QueueRepositoryImpl) ClaimBatch(ctx context.Context, maxAttempts, batchSize int) ([]model.QueueEntry, error) {
	const q = `
		SELECT ` + queueEntryColumns + `
		  FROM sms_queue
		 WHERE status IN ('queued', 'sending')
		   AND attempts < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?
	`
	rows := []model.QueueEntry{}
	if err := r.db.SelectContext(ctx, &rows, q, maxAttempts, batchSize); err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return rows, nil
}

// MarkSending moves a row to sending under the given claim token. It reports
// false when the row is no longer queued and its sending state is still fresh,
// i.e. another run owns it.
func (r *QueueRepositoryImpl) MarkSending(ctx context.Context, id int64, token string, staleAfter time.Duration) (bool, error) {
	const q = `
		UPDATE sms_queue
		   SET status = 'sending', claim_token = ?, updated_at = NOW(3)
		 WHERE id = ?
		   AND (status = 'queued'
		        OR (status = 'sending' AND updated_at < NOW(3) - INTERVAL ? SECOND))
	`
	secs := int64(staleAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	res, err := r.db.ExecContext(ctx, q, token, id, secs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepositoryImpl) RecordSuccess(ctx context.Context, id int64, raw *string, externalID string) error {
	const q = `
		UPDATE sms_queue
		   SET status = 'sent',
		       attempts = attempts + 1,
		       provider_response = ?,
		       external_id = ?,
		       last_error = NULL,
		       updated_at = NOW(3)
		 WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, q, raw, externalID, id)
	if err != nil {
		return fmt.Errorf("record success %d: %w", id, err)
	}
	return mustAffect(res, id)
}

// RecordFailure bumps attempts and stores the error. The entry goes back to
// queued, or to dead once attempts reach maxAttempts.
func (r *QueueRepositoryImpl) RecordFailure(ctx context.Context, id int64, errText string, raw *string, maxAttempts int) (model.EntryStatus, error) {
	var next model.EntryStatus
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		var attempts int
		if err := tx.GetContext(ctx, &attempts, `SELECT attempts FROM sms_queue WHERE id = ? FOR UPDATE`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		attempts++
		next = model.StatusQueued
		if attempts >= maxAttempts {
			next = model.StatusDead
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE sms_queue
			   SET status = ?,
			       attempts = ?,
			       last_error = ?,
			       provider_response = ?,
			       updated_at = NOW(3)
			 WHERE id = ?
		`, next.String(), attempts, errText, raw, id)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("record failure %d: %w", id, err)
	}
	return next, nil
}

// Requeue gives a dead entry a fresh set of attempts.
func (r *QueueRepositoryImpl) Requeue(ctx context.Context, id int64) error {
	const q = `
		UPDATE sms_queue
		   SET status = 'queued', attempts = 0, claim_token = NULL, updated_at = NOW(3)
		 WHERE id = ? AND status = 'dead'
	`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("requeue %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotRequeueable
}

func mustAffect(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %d: %w", id, errNoRowsAffected)
	}
	return nil
}
