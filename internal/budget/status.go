package budget

import (
	"context"
	"fmt"
	"time"

	"budgetsync/internal/live"
	"budgetsync/internal/model"
)

// Status is the observable state of the sync engine.
type Status struct {
	IsOnline       bool
	IsSyncing      bool
	IsLoading      bool
	PendingChanges int
	SyncError      string
	LastSyncedAt   time.Time // last successful pull; zero if none
}

// Indicator variants, highest priority first.
const (
	IndicatorError   = "error"
	IndicatorSyncing = "syncing"
	IndicatorOffline = "offline"
	IndicatorPending = "pending"
	IndicatorHidden  = ""
)

// Indicator returns the single state a connectivity badge should show.
func (s Status) Indicator() string {
	switch {
	case s.SyncError != "":
		return IndicatorError
	case s.IsSyncing:
		return IndicatorSyncing
	case !s.IsOnline:
		return IndicatorOffline
	case s.PendingChanges > 0:
		return IndicatorPending
	default:
		return IndicatorHidden
	}
}

// Snapshot is everything a budget view renders.
type Snapshot struct {
	Month  string
	Budget *model.Budget // nil until the first pull or local edit
	Items  []*model.LineItem
	Totals Totals
	Status Status
}

// Status returns the current status, including the queue length.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	pending, err := c.store.CountOperations(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("counting pending operations: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		IsOnline:       c.online,
		IsSyncing:      c.syncing > 0,
		IsLoading:      c.loading,
		PendingChanges: pending,
		SyncError:      c.syncErr,
		LastSyncedAt:   c.lastSync,
	}, nil
}

// Snapshot reads the current month's budget, items and status from the
// local store.
func (c *Coordinator) Snapshot(ctx context.Context) (*Snapshot, error) {
	month := c.Month()
	snap := &Snapshot{Month: month}

	if c.opts.UserID != "" {
		b, err := c.store.GetBudget(ctx, c.opts.UserID, month)
		if err != nil {
			return nil, fmt.Errorf("reading budget: %w", err)
		}
		items, err := c.store.ListLineItems(ctx, c.opts.UserID, month)
		if err != nil {
			return nil, fmt.Errorf("reading line items: %w", err)
		}
		snap.Budget = b
		snap.Items = items
		snap.Totals = CalculateTotals(b, items)
	}

	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	snap.Status = status
	return snap, nil
}

// Watch emits a fresh Snapshot after every local commit or status change
// until ctx is done.
func (c *Coordinator) Watch(ctx context.Context) <-chan *Snapshot {
	return live.Watch(ctx, c.hub, c.Snapshot, func(err error) {
		c.logger.Error("refreshing snapshot failed", "error", err)
	}, live.TopicBudgets, live.TopicLineItems, live.TopicPendingOperations, live.TopicStatus)
}

// History returns the most recent sync runs, newest first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	runs, err := c.store.ListSyncRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	return runs, nil
}

func (c *Coordinator) startRun(ctx context.Context, kind, month string) *model.SyncRun {
	run, err := c.store.CreateSyncRun(ctx, kind, month, c.clock.Now())
	if err != nil {
		c.logger.Warn("recording sync run failed", "kind", kind, "error", err)
		return nil
	}
	return run
}

func (c *Coordinator) finishRun(ctx context.Context, run *model.SyncRun, runErr error) {
	if run == nil {
		return
	}
	status, detail := "success", ""
	if runErr != nil {
		status, detail = "error", runErr.Error()
	}
	// Record the outcome even if the pass itself was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := c.store.FinishSyncRun(ctx, run.ID, c.clock.Now(), status, detail); err != nil {
		c.logger.Warn("finishing sync run failed", "id", run.ID, "error", err)
		return
	}
	if err := c.store.PruneSyncRuns(ctx, c.opts.RunRetention); err != nil {
		c.logger.Warn("pruning sync runs failed", "error", err)
	}
}
