package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/txrecover/internal/core/config"
)

// Pruneable drops staged records that arrived before cutoff.
type Pruneable interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Locker is a named lock shared between nodes.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

const pruneLock = "staging-pruner"

// Pruner discards staged records the admission process never picked up.
type Pruner struct {
	cfg    config.StagingConfig
	store  Pruneable
	locker Locker
	now    func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg config.StagingConfig, store Pruneable) *Pruner {
	return &Pruner{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// SetLocker makes nodes sharing a staging backend take turns pruning.
func (p *Pruner) SetLocker(l Locker) {
	p.locker = l
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.cfg.Retention <= 0 {
		return // Retention disabled
	}

	interval := p.cfg.PruneInterval
	if interval <= 0 {
		interval = min(p.cfg.Retention/10, time.Hour)
	}
	interval = max(interval, time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	if p.locker != nil {
		ok, err := p.locker.AcquireLock(ctx, pruneLock, time.Minute)
		if err != nil {
			slog.Warn("[Pruner] failed to acquire lock", "error", err)
			return
		}
		if !ok {
			slog.Debug("[Pruner] another node holds the lock")
			return
		}
		defer func() {
			if err := p.locker.ReleaseLock(ctx, pruneLock); err != nil {
				slog.Warn("[Pruner] failed to release lock", "error", err)
			}
		}()
	}

	cutoff := p.now().Add(-p.cfg.Retention)

	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("[Pruner] failed to prune staging", "cutoff", cutoff, "error", err)
		return
	}
	if n > 0 {
		slog.Info("[Pruner] pruned staged records", "count", n, "cutoff", cutoff)
	}
}
