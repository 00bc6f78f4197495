package budget

import (
	"context"
	"fmt"

	"budgetsync/internal/model"
)

// SyncFromServer fetches the current month's document and merges it into the
// local store. Rows with unsynced local changes are never overwritten.
// Remote failures are recorded in the status rather than returned; only local
// store failures produce an error. Offline or without a user it does nothing.
func (c *Coordinator) SyncFromServer(ctx context.Context) error {
	if !c.IsOnline() {
		return nil
	}
	userID, month, err := c.target()
	if err != nil {
		return nil
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	err = c.pull(ctx, userID, month, true)
	if month == c.Month() {
		c.setLoading(false)
	}
	return err
}

// pull must be called with syncMu held. When the fetch fails and
// emptyOnFailure is set, a zeroed header is created locally and nil is
// returned; otherwise the fetch error is returned and nothing is written.
func (c *Coordinator) pull(ctx context.Context, userID, month string, emptyOnFailure bool) error {
	c.beginSync()
	defer c.endSync()
	c.setSyncError(nil)

	run := c.startRun(ctx, "pull", month)

	doc, fetchErr := c.remote.FetchBudget(ctx, month)
	if fetchErr != nil {
		c.logger.Warn("fetching remote budget failed", "month", month, "error", fetchErr)
		c.setSyncError(fmt.Errorf("fetching budget: %w", fetchErr))
		if !emptyOnFailure {
			c.finishRun(ctx, run, fetchErr)
			return fmt.Errorf("fetching budget: %w", fetchErr)
		}

		// Nothing local to lose: give the reader an empty budget to show.
		err := c.store.RunInTx(ctx, func(q Queries) error {
			return c.ensureBudget(ctx, q, userID, month)
		})
		if err != nil {
			err = fmt.Errorf("initializing empty budget: %w", err)
			c.finishRun(ctx, run, err)
			return err
		}
		c.finishRun(ctx, run, fetchErr)
		return nil
	}

	var stats mergeStats
	err := c.store.RunInTx(ctx, func(q Queries) error {
		if doc == nil {
			return c.ensureBudget(ctx, q, userID, month)
		}
		var err error
		stats, err = c.merge(ctx, q, userID, month, doc)
		return err
	})
	if err != nil {
		err = fmt.Errorf("merging remote budget: %w", err)
		c.finishRun(ctx, run, err)
		return err
	}

	c.mu.Lock()
	c.lastSync = c.clock.Now()
	c.mu.Unlock()

	if doc == nil {
		c.logger.Debug("no remote budget", "month", month)
	} else {
		c.logger.Debug("pulled remote budget", "month", month,
			"header", stats.header, "upserted", stats.upserted, "removed", stats.removed, "kept", stats.kept)
	}
	c.finishRun(ctx, run, nil)
	return nil
}

type mergeStats struct {
	header   string // "updated" or "kept"
	upserted int
	removed  int
	kept     int
}

// merge applies doc to the local rows of (userID, month). A pending header
// keeps its local fields; pending items and items with a queued operation are
// left untouched; other local items missing from doc are removed.
func (c *Coordinator) merge(ctx context.Context, q Queries, userID, month string, doc *model.Document) (mergeStats, error) {
	var stats mergeStats
	now := c.clock.Now()

	local, err := q.GetBudget(ctx, userID, month)
	if err != nil {
		return stats, err
	}
	if local != nil && local.SyncStatus == model.StatusPending {
		stats.header = "kept"
	} else {
		b := &model.Budget{
			UserID:          userID,
			Month:           month,
			RemoteID:        doc.ID,
			Amounts:         doc.Amounts.Clone(),
			SyncStatus:      model.StatusSynced,
			LastModified:    now,
			ServerUpdatedAt: doc.UpdatedAt,
		}
		if err := q.PutBudget(ctx, b); err != nil {
			return stats, err
		}
		stats.header = "updated"
	}

	remoteIDs := make(map[string]struct{}, len(doc.Items))
	for _, it := range doc.Items {
		remoteIDs[it.ID] = struct{}{}
	}

	localItems, err := q.ListLineItems(ctx, userID, month)
	if err != nil {
		return stats, err
	}
	for _, item := range localItems {
		if _, ok := remoteIDs[item.ID]; ok {
			continue
		}
		pending, err := itemPending(ctx, q, item.ID, item)
		if err != nil {
			return stats, err
		}
		if pending {
			stats.kept++
			continue
		}
		if err := q.DeleteLineItem(ctx, item.ID); err != nil {
			return stats, err
		}
		stats.removed++
	}

	for _, remote := range doc.Items {
		existing, err := q.GetLineItem(ctx, remote.ID)
		if err != nil {
			return stats, err
		}
		pending, err := itemPending(ctx, q, remote.ID, existing)
		if err != nil {
			return stats, err
		}
		if pending {
			stats.kept++
			continue
		}
		item := &model.LineItem{
			ID:           remote.ID,
			UserID:       userID,
			Month:        month,
			Type:         remote.Type,
			Category:     remote.Category,
			Name:         remote.Name,
			Amount:       remote.Amount,
			SyncStatus:   model.StatusSynced,
			LastModified: now,
		}
		if err := q.PutLineItem(ctx, item); err != nil {
			return stats, err
		}
		stats.upserted++
	}

	return stats, nil
}

// itemPending reports whether an item has local changes the remote has not
// confirmed: a pending row, or a queued operation (covers queued deletes whose
// row is already gone).
func itemPending(ctx context.Context, q Queries, id string, item *model.LineItem) (bool, error) {
	if item != nil && item.SyncStatus == model.StatusPending {
		return true, nil
	}
	return q.HasOperationForEntity(ctx, id)
}

// ensureBudget creates a zeroed synced header for (userID, month) if none exists.
func (c *Coordinator) ensureBudget(ctx context.Context, q Queries, userID, month string) error {
	existing, err := q.GetBudget(ctx, userID, month)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	c.logger.Info("initializing empty budget", "month", month)
	return q.PutBudget(ctx, &model.Budget{
		UserID:       userID,
		Month:        month,
		Amounts:      model.ZeroAmounts(),
		SyncStatus:   model.StatusSynced,
		LastModified: c.clock.Now(),
	})
}
