package budget

import (
	"context"
	"time"

	"budgetsync/internal/model"
)

// Queries is the row-level API over the local durable store.
// Lookups that find nothing return (nil, nil).
type Queries interface {
	// Budgets

	GetBudget(ctx context.Context, userID, month string) (*model.Budget, error)
	// PutBudget inserts or replaces the budget row for (UserID, Month).
	PutBudget(ctx context.Context, b *model.Budget) error
	SetBudgetStatus(ctx context.Context, userID, month string, status model.SyncStatus) error
	DeleteBudget(ctx context.Context, userID, month string) error

	// Line items

	GetLineItem(ctx context.Context, id string) (*model.LineItem, error)
	// ListLineItems returns the items of one budget ordered by id.
	ListLineItems(ctx context.Context, userID, month string) ([]*model.LineItem, error)
	// PutLineItem inserts or replaces the item with the same ID.
	PutLineItem(ctx context.Context, item *model.LineItem) error
	SetLineItemStatus(ctx context.Context, id string, status model.SyncStatus) error
	DeleteLineItem(ctx context.Context, id string) error
	DeleteLineItems(ctx context.Context, userID, month string) error

	// Pending operations

	// EnqueueOperation appends op and sets op.ID.
	EnqueueOperation(ctx context.Context, op *model.PendingOperation) error
	// ListOperations returns every queued operation, oldest first.
	ListOperations(ctx context.Context) ([]*model.PendingOperation, error)
	CountOperations(ctx context.Context) (int, error)
	HasOperationForEntity(ctx context.Context, entityID string) (bool, error)
	// DeleteOperation removes a single operation and reports whether it existed.
	DeleteOperation(ctx context.Context, id int64) (bool, error)
	// DeleteOperationsForEntity removes every operation for entityID.
	DeleteOperationsForEntity(ctx context.Context, entityID string) (int64, error)
	UpdateOperationRetry(ctx context.Context, id int64, retryCount int, nextAttemptAt time.Time) error
	ClearOperations(ctx context.Context) error

	// Sync runs

	CreateSyncRun(ctx context.Context, kind, month string, startedAt time.Time) (*model.SyncRun, error)
	FinishSyncRun(ctx context.Context, id int64, finishedAt time.Time, status, detail string) error
	ListSyncRuns(ctx context.Context, limit int) ([]*model.SyncRun, error)
	// PruneSyncRuns keeps only the newest keep runs.
	PruneSyncRuns(ctx context.Context, keep int) error
}

// Store is the local durable store: Queries that auto-commit per call, plus
// multi-statement transactions. Implementations notify observers of the
// tables touched once each write has committed.
type Store interface {
	Queries

	// RunInTx runs fn inside a single transaction. fn must only use the
	// Queries it is given. If fn returns an error nothing is committed.
	RunInTx(ctx context.Context, fn func(q Queries) error) error

	Close() error
}
