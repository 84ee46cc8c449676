package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const defaultInterval = time.Minute

// Runner performs one reconcile pass.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// ServiceParams configure the reconcile service.
type ServiceParams struct {
	Runner   Runner
	Lock     Lock
	Interval time.Duration
}

// Service runs the reconciler on a fixed cadence, skipping cycles while
// another replica holds the lock.
type Service struct {
	runner   Runner
	lock     Lock
	interval time.Duration

	lastSuccess atomic.Int64 // unix nanoseconds
}

// NewService builds a reconcile service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Runner == nil {
		return nil, errors.New("runner required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		runner:   params.Runner,
		lock:     params.Lock,
		interval: interval,
	}, nil
}

// Interval returns the configured cadence.
func (s *Service) Interval() time.Duration { return s.interval }

// LastSuccess returns when a cycle last finished without error, or the zero
// time when none has. Cycles skipped because another replica holds the lock
// count as successful.
func (s *Service) LastSuccess() time.Time {
	ns := s.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run starts the reconcile loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	if err := s.runCycle(ctx); err != nil {
		lg.Error("Reconcile cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info("Reconcile service stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				lg.Error("Reconcile cycle failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "lock acquire")
	}
	if !locked {
		zctx.From(ctx).Debug("Another replica is reconciling, skipping cycle")
		s.markSuccess()
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			zctx.From(ctx).Error("Release reconcile lock", zap.Error(err))
		}
	}()

	if _, err := s.runner.Run(ctx); err != nil {
		return err
	}
	s.markSuccess()
	return nil
}

func (s *Service) markSuccess() {
	s.lastSuccess.Store(time.Now().UnixNano())
}
