package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/lock"
	sessiondomain "github.com/smallbiznis/checkout/internal/session/domain"
	webhooksvc "github.com/smallbiznis/checkout/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	expiryLockKey = "checkout:sweep:expiry"
	pollLockKey   = "checkout:sweep:poll"
	pollBatchSize = 50
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Clock       clock.Clock
	Locker      *lock.Locker
	SessionRepo sessiondomain.Repository
	Reconciler  *webhooksvc.Reconciler
}

// Scheduler runs the two background sweeps: expiring overdue sessions and
// polling providers for transactions whose webhooks never arrived. Each sweep
// takes a distributed lease so only one node runs it per tick.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	locker      *lock.Locker
	sessionRepo sessiondomain.Repository
	reconciler  *webhooksvc.Reconciler

	interval  time.Duration
	pollAfter time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) *Scheduler {
	interval := time.Duration(p.Cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	pollAfter := time.Duration(p.Cfg.PollAfterSeconds) * time.Second
	if pollAfter <= 0 {
		pollAfter = 5 * time.Minute
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler"),
		clock:       p.Clock,
		locker:      p.Locker,
		sessionRepo: p.SessionRepo,
		reconciler:  p.Reconciler,
		interval:    interval,
		pollAfter:   pollAfter,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepExpiry(ctx)
				s.sweepStale(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweepExpiry marks every overdue, non-terminal session expired in one
// statement.
func (s *Scheduler) sweepExpiry(ctx context.Context) {
	lease, ok, err := s.locker.Acquire(ctx, expiryLockKey, s.interval)
	if err != nil {
		s.log.Warn("expiry sweep lock unavailable", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	defer lease.Release(ctx)

	expired, err := s.sessionRepo.ExpireDue(ctx, s.db, s.clock.Now())
	if err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("expired overdue sessions", zap.Int64("count", expired))
	}
}

// sweepStale reconciles pending transactions that have not heard from their
// provider within the poll window.
func (s *Scheduler) sweepStale(ctx context.Context) {
	lease, ok, err := s.locker.Acquire(ctx, pollLockKey, s.interval)
	if err != nil {
		s.log.Warn("poll sweep lock unavailable", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	defer lease.Release(ctx)

	olderThan := s.clock.Now().Add(-s.pollAfter)
	reconciled, err := s.reconciler.PollStale(ctx, olderThan, pollBatchSize)
	if err != nil {
		s.log.Error("stale transaction poll failed", zap.Error(err))
		return
	}
	if reconciled > 0 {
		s.log.Info("reconciled stale transactions", zap.Int("count", reconciled))
	}
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
