package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	lockKey        = "agencyledger:lock:reconcile"
	defaultTimeout = 2 * time.Minute
)

type RunnerParams struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Reconciler *Reconciler
	Locker     *redislock.Client `optional:"true"`
}

// Runner repeats reconciliation on an interval. With Redis configured only
// one process runs a given round.
type Runner struct {
	log        *zap.Logger
	reconciler *Reconciler
	locker     *redislock.Client
	interval   time.Duration
	timeout    time.Duration
}

func NewRunner(p RunnerParams) *Runner {
	interval := p.Config.ReconcileInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	timeout := defaultTimeout
	if timeout > interval {
		timeout = interval
	}
	return &Runner{
		log:        p.Log.Named("reconciliation.runner"),
		reconciler: p.Reconciler,
		locker:     p.Locker,
		interval:   interval,
		timeout:    timeout,
	}
}

func (r *Runner) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("reconciliation run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce returns a nil report when another process holds the lock.
func (r *Runner) RunOnce(parent context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	ctx = auditcontext.WithActor(ctx, auditcontext.SystemActor("reconciler"))

	if r.locker != nil {
		lock, err := r.locker.Obtain(ctx, lockKey, r.timeout, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			r.log.Debug("reconciliation lock held elsewhere")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = lock.Release(context.WithoutCancel(ctx))
		}()
	}

	return r.reconciler.Run(ctx)
}
