package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a background process owned by the risk module.
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// PeriodicWorker runs a task on a fixed interval until stopped.
type PeriodicWorker struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPeriodicWorker runs task every interval under the given name.
func NewPeriodicWorker(name string, interval time.Duration, log *zap.Logger, task func(ctx context.Context) error) *PeriodicWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &PeriodicWorker{name: name, interval: interval, task: task, log: log.Named(name)}
}

// NewSweepWorker evaluates up to limit active vaults every interval.
func NewSweepWorker(svc *VaultService, interval time.Duration, limit int, log *zap.Logger) *PeriodicWorker {
	return NewPeriodicWorker("vault-sweep-worker", interval, log, func(ctx context.Context) error {
		results, err := svc.MonitorActive(ctx, limit)
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
		}
		if len(results) > 0 {
			svc.logger.Debug("Vault sweep finished", zap.Int("vaults", len(results)), zap.Int("failed", failed))
		}
		return err
	})
}

// NewRetentionWorker prunes expired risk history every interval.
func NewRetentionWorker(svc *VaultService, interval time.Duration, log *zap.Logger) *PeriodicWorker {
	return NewPeriodicWorker("history-retention-worker", interval, log, func(ctx context.Context) error {
		_, err := svc.PruneHistory(ctx)
		return err
	})
}

// Name returns the worker name
func (w *PeriodicWorker) Name() string {
	return w.name
}

// Start launches the loop. The loop outlives ctx's deadline but not Stop.
// A non-positive interval leaves the worker idle.
func (w *PeriodicWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil || w.interval <= 0 {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
	w.log.Info("Worker started", zap.Duration("interval", w.interval))
	return nil
}

// Stop cancels the loop and waits for the current run, or for ctx.
func (w *PeriodicWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		w.log.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *PeriodicWorker) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.task(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("Worker run failed", zap.Error(err))
			}
		}
	}
}
