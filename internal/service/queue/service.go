package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/repository"
	"github.com/jmehdipour/market-sms/internal/util"
)

const DefaultMaxBodyRunes = 918 // six concatenated GSM segments

var (
	ErrEmptyRecipient = errors.New("recipient is required")
	ErrEmptyBody      = errors.New("body is required")
	ErrBodyTooLong    = errors.New("body too long")
)

// IsInvalid reports whether err is a caller mistake rather than a storage failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrEmptyRecipient) ||
		errors.Is(err, ErrEmptyBody) ||
		errors.Is(err, ErrBodyTooLong) ||
		util.IsNormalizationError(err)
}

type Normalizer interface {
	Normalize(raw string) (string, error)
}

// Service is the single entry point for putting messages on the queue; the
// API, the Kafka ingest worker and the CLI all go through it.
type Service struct {
	repo         repository.QueueRepository
	norm         Normalizer
	maxBodyRunes int
}

func New(repo repository.QueueRepository, norm Normalizer, maxBodyRunes int) *Service {
	if maxBodyRunes <= 0 {
		maxBodyRunes = DefaultMaxBodyRunes
	}
	return &Service{repo: repo, norm: norm, maxBodyRunes: maxBodyRunes}
}

// Enqueue validates the envelope and inserts a queued entry. The stored
// recipient is the normalized number.
func (s *Service) Enqueue(ctx context.Context, env model.Envelope) (int64, error) {
	recipient := strings.TrimSpace(env.Recipient)
	body := strings.TrimSpace(env.Body)

	if recipient == "" {
		return 0, ErrEmptyRecipient
	}
	if body == "" {
		return 0, ErrEmptyBody
	}
	if n := utf8.RuneCountInString(body); n > s.maxBodyRunes {
		return 0, fmt.Errorf("%w: %d > %d characters", ErrBodyTooLong, n, s.maxBodyRunes)
	}

	to, err := s.norm.Normalize(recipient)
	if err != nil {
		return 0, err
	}

	id, err := s.repo.Enqueue(ctx, nil, to, body)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.QueueEntry, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status model.EntryStatus, limit, offset int) ([]model.QueueEntry, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// Requeue resets a dead entry so the dispatcher picks it up again.
func (s *Service) Requeue(ctx context.Context, id int64) error {
	return s.repo.Requeue(ctx, id)
}
