package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"budgetsync/internal/model"
)

// ErrItemNotFound is returned when deleting an item that does not exist locally.
var ErrItemNotFound = errors.New("line item not found")

// AddLineItem creates a line item in the current month. The item is written
// locally as pending and a create operation is queued; the call does not wait
// for the remote store.
func (c *Coordinator) AddLineItem(ctx context.Context, in ItemInput) (*model.LineItem, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	userID, month, err := c.target()
	if err != nil {
		return nil, err
	}

	item := &model.LineItem{
		ID:           c.idgen.New(),
		UserID:       userID,
		Month:        month,
		Type:         in.Type,
		Category:     strings.TrimSpace(in.Category),
		Name:         strings.TrimSpace(in.Name),
		Amount:       in.Amount,
		SyncStatus:   model.StatusPending,
		LastModified: c.clock.Now(),
	}

	err = c.store.RunInTx(ctx, func(q Queries) error {
		if err := q.PutLineItem(ctx, item); err != nil {
			return err
		}
		return c.enqueue(ctx, q, model.OpCreate, model.EntityLineItem, item.ID, userID, month, item.DocumentItem())
	})
	if err != nil {
		return nil, fmt.Errorf("adding line item: %w", err)
	}

	c.logger.Info("line item added", "id", item.ID, "month", month)
	c.requestDrain()
	return item, nil
}

// UpdateLineItem replaces the fields of item id, creating it in the current
// month if it does not exist. Any operation already queued for the item is
// superseded by a single update carrying the new state.
func (c *Coordinator) UpdateLineItem(ctx context.Context, id string, in ItemInput) (*model.LineItem, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: item id required", ErrInvalidInput)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	userID, month, err := c.target()
	if err != nil {
		return nil, err
	}

	var item *model.LineItem
	err = c.store.RunInTx(ctx, func(q Queries) error {
		existing, err := q.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		itemUser, itemMonth := userID, month
		if existing != nil {
			itemUser, itemMonth = existing.UserID, existing.Month
		}

		item = &model.LineItem{
			ID:           id,
			UserID:       itemUser,
			Month:        itemMonth,
			Type:         in.Type,
			Category:     strings.TrimSpace(in.Category),
			Name:         strings.TrimSpace(in.Name),
			Amount:       in.Amount,
			SyncStatus:   model.StatusPending,
			LastModified: c.clock.Now(),
		}
		if err := q.PutLineItem(ctx, item); err != nil {
			return err
		}
		return c.enqueue(ctx, q, model.OpUpdate, model.EntityLineItem, id, itemUser, itemMonth, item.DocumentItem())
	})
	if err != nil {
		return nil, fmt.Errorf("updating line item: %w", err)
	}

	c.logger.Info("line item updated", "id", id, "month", item.Month)
	c.requestDrain()
	return item, nil
}

// DeleteLineItem removes item id locally and queues a delete. Deleting an
// item whose delete is already queued is a no-op.
func (c *Coordinator) DeleteLineItem(ctx context.Context, id string) error {
	err := c.store.RunInTx(ctx, func(q Queries) error {
		existing, err := q.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			queued, err := q.HasOperationForEntity(ctx, id)
			if err != nil {
				return err
			}
			if queued {
				return nil
			}
			return ErrItemNotFound
		}

		if err := q.DeleteLineItem(ctx, id); err != nil {
			return err
		}
		return c.enqueue(ctx, q, model.OpDelete, model.EntityLineItem, id, existing.UserID, existing.Month, map[string]string{"id": id})
	})
	if err != nil {
		return fmt.Errorf("deleting line item %s: %w", id, err)
	}

	c.logger.Info("line item deleted", "id", id)
	c.requestDrain()
	return nil
}

// UpdateBudget merges patch into the current month's header fields; fields
// absent from patch are unchanged. The queued operation carries the whole
// document so the remote save is self-contained.
func (c *Coordinator) UpdateBudget(ctx context.Context, patch model.Amounts) (*model.Budget, error) {
	if err := validateAmounts(patch); err != nil {
		return nil, err
	}
	userID, month, err := c.target()
	if err != nil {
		return nil, err
	}

	var b *model.Budget
	err = c.store.RunInTx(ctx, func(q Queries) error {
		current, err := q.GetBudget(ctx, userID, month)
		if err != nil {
			return err
		}
		if current == nil {
			current = &model.Budget{UserID: userID, Month: month, Amounts: model.ZeroAmounts()}
		}

		b = current
		b.Amounts = current.Amounts.Merge(patch)
		b.SyncStatus = model.StatusPending
		b.LastModified = c.clock.Now()
		if err := q.PutBudget(ctx, b); err != nil {
			return err
		}

		items, err := q.ListLineItems(ctx, userID, month)
		if err != nil {
			return err
		}
		doc := model.NewDocument(month, b, items)
		return c.enqueue(ctx, q, model.OpUpdate, model.EntityBudget, budgetEntityID(userID, month), userID, month, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("updating budget: %w", err)
	}

	c.logger.Info("budget updated", "month", month, "fields", len(patch))
	c.requestDrain()
	return b, nil
}

// ClearLocalData removes the current month's budget and items and empties
// the pending queue. Unsynced changes are lost.
func (c *Coordinator) ClearLocalData(ctx context.Context) error {
	userID, month, err := c.target()
	if err != nil {
		return err
	}

	err = c.store.RunInTx(ctx, func(q Queries) error {
		if err := q.DeleteLineItems(ctx, userID, month); err != nil {
			return err
		}
		if err := q.DeleteBudget(ctx, userID, month); err != nil {
			return err
		}
		return q.ClearOperations(ctx)
	})
	if err != nil {
		return fmt.Errorf("clearing local data: %w", err)
	}

	c.logger.Warn("local data cleared", "month", month)
	return nil
}

// enqueue replaces any queued operation for entityID with a new one.
func (c *Coordinator) enqueue(ctx context.Context, q Queries, opType model.OperationType, entityType model.EntityType, entityID, userID, month string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	superseded, err := q.DeleteOperationsForEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("superseding operations: %w", err)
	}
	if superseded > 0 {
		c.logger.Debug("superseded queued operation", "entity", entityID, "count", superseded)
	}

	op := &model.PendingOperation{
		OperationType: opType,
		EntityType:    entityType,
		EntityID:      entityID,
		UserID:        userID,
		Month:         month,
		Payload:       data,
		CreatedAt:     c.clock.Now(),
	}
	if err := q.EnqueueOperation(ctx, op); err != nil {
		return fmt.Errorf("enqueueing operation: %w", err)
	}
	return nil
}
