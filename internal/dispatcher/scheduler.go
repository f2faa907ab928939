package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/market-sms/internal/logger"
	"go.uber.org/zap"
)

// Scheduler runs dispatcher passes on a fixed interval. Passes never overlap:
// a pass longer than the interval delays the next one.
type Scheduler struct {
	every time.Duration
	pass  func(context.Context)
}

func NewScheduler(every time.Duration, pass func(context.Context)) (*Scheduler, error) {
	if every <= 0 {
		return nil, errors.New("scheduler interval must be > 0")
	}
	if pass == nil {
		return nil, errors.New("scheduler pass func is nil")
	}
	return &Scheduler{every: every, pass: pass}, nil
}

// Run fires the first pass immediately and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	logger.Log.Info("scheduler started", zap.Duration("every", s.every))
	defer logger.Log.Info("scheduler stopped")

	for ctx.Err() == nil {
		s.runPass(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("scheduled pass panicked", zap.Any("panic", r))
		}
	}()
	s.pass(ctx)
}
