package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"budgetsync/internal/model"
)

// ProcessQueue replays queued operations against the remote store, oldest
// first. Operations still inside their retry backoff are left for a later
// pass. Remote failures are counted against the operation, not returned.
// Offline it does nothing.
func (c *Coordinator) ProcessQueue(ctx context.Context) error {
	return c.processQueue(ctx, false)
}

type drainStats struct {
	applied  int
	failed   int
	dropped  int
	deferred int
}

// processQueue drains the queue. force ignores retry backoff.
func (c *Coordinator) processQueue(ctx context.Context, force bool) error {
	if !c.IsOnline() {
		return nil
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	ops, err := c.store.ListOperations(ctx)
	if err != nil {
		return fmt.Errorf("listing pending operations: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	c.beginSync()
	defer c.endSync()
	run := c.startRun(ctx, "drain", c.Month())

	var stats drainStats
	var lastErr error
	now := c.clock.Now()
	// A document with a deferred or failed operation is skipped for the rest
	// of the pass so its operations are applied in order.
	blocked := make(map[string]bool)

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		if op.UserID != c.opts.UserID {
			continue
		}

		if op.RetryCount >= c.opts.MaxRetryCount {
			if err := c.discard(ctx, op); err != nil {
				c.finishRun(ctx, run, err)
				return err
			}
			stats.dropped++
			continue
		}

		doc := op.UserID + "/" + op.Month
		if blocked[doc] {
			stats.deferred++
			continue
		}
		if !force && op.NextAttemptAt.After(now) {
			blocked[doc] = true
			stats.deferred++
			continue
		}

		if applyErr := c.apply(ctx, op); applyErr != nil {
			if errors.Is(applyErr, context.Canceled) && ctx.Err() != nil {
				break
			}
			blocked[doc] = true
			lastErr = applyErr
			dropped, err := c.recordFailure(ctx, op, applyErr)
			if err != nil {
				c.finishRun(ctx, run, err)
				return err
			}
			if dropped {
				stats.dropped++
			} else {
				stats.failed++
			}
			continue
		}

		if err := c.complete(ctx, op); err != nil {
			c.finishRun(ctx, run, err)
			return err
		}
		stats.applied++
	}

	if lastErr != nil {
		c.setSyncError(fmt.Errorf("saving changes: %w", lastErr))
	}
	c.logger.Info("queue drained", "applied", stats.applied, "failed", stats.failed,
		"dropped", stats.dropped, "deferred", stats.deferred)
	c.finishRun(ctx, run, lastErr)
	return nil
}

// apply sends one operation to the remote store. Budget operations save
// their own payload; line item operations save a fresh snapshot of the whole
// local document, which also flushes any other queued item changes.
func (c *Coordinator) apply(ctx context.Context, op *model.PendingOperation) error {
	switch op.EntityType {
	case model.EntityBudget:
		var doc model.Document
		if err := json.Unmarshal(op.Payload, &doc); err != nil {
			return fmt.Errorf("decoding budget payload: %w", err)
		}
		return c.remote.SaveBudget(ctx, &doc)

	case model.EntityLineItem:
		doc, err := c.snapshot(ctx, op.UserID, op.Month)
		if err != nil {
			return err
		}
		return c.remote.SaveBudget(ctx, doc)

	default:
		return fmt.Errorf("unknown entity type %q", op.EntityType)
	}
}

// snapshot builds the whole document for (userID, month) from local rows.
// A missing header is pulled first so a save never blanks the remote fields;
// if that fetch fails the snapshot fails too and the operation is retried.
func (c *Coordinator) snapshot(ctx context.Context, userID, month string) (*model.Document, error) {
	b, err := c.store.GetBudget(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("reading budget: %w", err)
	}
	if b == nil {
		if err := c.pull(ctx, userID, month, false); err != nil {
			return nil, err
		}
		if b, err = c.store.GetBudget(ctx, userID, month); err != nil {
			return nil, fmt.Errorf("reading budget: %w", err)
		}
	}

	items, err := c.store.ListLineItems(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("reading line items: %w", err)
	}
	return model.NewDocument(month, b, items), nil
}

// complete removes a successfully applied operation and marks its entity
// synced, unless a newer operation for the entity was queued meanwhile.
func (c *Coordinator) complete(ctx context.Context, op *model.PendingOperation) error {
	return c.store.RunInTx(ctx, func(q Queries) error {
		if _, err := q.DeleteOperation(ctx, op.ID); err != nil {
			return fmt.Errorf("removing operation: %w", err)
		}
		newer, err := q.HasOperationForEntity(ctx, op.EntityID)
		if err != nil {
			return err
		}
		if newer {
			return nil
		}
		return c.markEntity(ctx, q, op, model.StatusSynced)
	})
}

// recordFailure counts a failed attempt. Once the count reaches
// MaxRetryCount the operation is discarded and its entity marked error.
func (c *Coordinator) recordFailure(ctx context.Context, op *model.PendingOperation, applyErr error) (dropped bool, err error) {
	retries := op.RetryCount + 1
	if retries >= c.opts.MaxRetryCount {
		c.logger.Error("operation failed permanently", "entity", op.EntityID, "op", op.OperationType,
			"attempts", retries, "error", applyErr)
		return true, c.discard(ctx, op)
	}

	next := c.backoff(retries)
	c.logger.Warn("operation failed, will retry", "entity", op.EntityID, "op", op.OperationType,
		"attempts", retries, "error", applyErr)
	if err := c.store.UpdateOperationRetry(ctx, op.ID, retries, next); err != nil {
		return false, fmt.Errorf("recording retry: %w", err)
	}
	return false, nil
}

// discard drops an operation that will not be retried and marks its entity
// error. A superseded operation is already gone and marks nothing.
func (c *Coordinator) discard(ctx context.Context, op *model.PendingOperation) error {
	err := c.store.RunInTx(ctx, func(q Queries) error {
		existed, err := q.DeleteOperation(ctx, op.ID)
		if err != nil {
			return err
		}
		if !existed {
			return nil
		}
		return c.markEntity(ctx, q, op, model.StatusError)
	})
	if err != nil {
		return fmt.Errorf("discarding operation: %w", err)
	}
	return nil
}

func (c *Coordinator) markEntity(ctx context.Context, q Queries, op *model.PendingOperation, status model.SyncStatus) error {
	switch op.EntityType {
	case model.EntityBudget:
		return q.SetBudgetStatus(ctx, op.UserID, op.Month, status)
	case model.EntityLineItem:
		if op.OperationType == model.OpDelete {
			return nil
		}
		return q.SetLineItemStatus(ctx, op.EntityID, status)
	}
	return nil
}
