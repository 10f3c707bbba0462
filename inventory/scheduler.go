/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Replays every item's stock log on a fixed interval and reports items whose
  projection has drifted from their ledger. Drift is a fatal-class event:
  it is logged at error level and kept in the last report for operators.

DESIGN:
  - One background goroutine, ticking every Interval
  - Runs once immediately on Start
  - Active and inactive items are both checked
  - A failing item is counted and skipped; the sweep continues

USAGE:
  s := inventory.NewReconciliationScheduler(engine, time.Hour, logger)
  s.Start(ctx)
  defer s.Stop()

SEE ALSO:
  - replay.go: Replay and Reconcile
*/
package inventory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditReport summarises one sweep over all items.
type AuditReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Failed     int
	Drifted    []Reconciliation
}

// Consistent reports whether every checked item replayed cleanly.
func (r AuditReport) Consistent() bool {
	return len(r.Drifted) == 0 && r.Failed == 0
}

// Audit reconciles every item once.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	report := AuditReport{StartedAt: e.timestamp()}

	active, inactive := true, false
	var items []Item
	for _, flag := range []*bool{&active, &inactive} {
		batch, err := e.store.ListItems(ctx, ItemFilter{Active: flag})
		if err != nil {
			return report, err
		}
		items = append(items, batch...)
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec, err := e.Reconcile(ctx, it.ID)
		report.Checked++
		if err != nil {
			report.Failed++
			e.logger.Warn("audit could not reconcile item", zap.String("item_id", it.ID), zap.Error(err))
			continue
		}
		if !rec.Consistent() {
			report.Drifted = append(report.Drifted, rec)
		}
	}
	report.FinishedAt = e.timestamp()
	return report, nil
}

// ReconciliationScheduler runs Engine.Audit on an interval.
type ReconciliationScheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	last   *AuditReport
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReconciliationScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{engine: engine, interval: interval, logger: logger}
}

// Start begins the sweep loop. Calling it while running is a no-op; after
// Stop it starts a fresh loop.
func (s *ReconciliationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("reconciliation scheduler started", zap.Duration("interval", s.interval))
}

// Stop ends the loop and waits for a running sweep to finish.
func (s *ReconciliationScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
	s.logger.Info("reconciliation scheduler stopped")
}

// LastReport returns the most recent completed sweep, if any.
func (s *ReconciliationScheduler) LastReport() (AuditReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return AuditReport{}, false
	}
	return *s.last, true
}

func (s *ReconciliationScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *ReconciliationScheduler) sweep(ctx context.Context) {
	report, err := s.engine.Audit(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("reconciliation sweep failed", zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("checked", report.Checked),
		zap.Int("failed", report.Failed),
		zap.Int("drifted", len(report.Drifted)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	}
	if len(report.Drifted) > 0 {
		s.logger.Error("reconciliation sweep found drift", fields...)
		return
	}
	s.logger.Info("reconciliation sweep completed", fields...)
}
