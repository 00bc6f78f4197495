package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus tracks whether a local row has been durably written to the remote store.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
	StatusError   SyncStatus = "error"
)

// LineItemType discriminates income items from obligations (expenses).
type LineItemType string

const (
	ItemIncome     LineItemType = "income"
	ItemObligation LineItemType = "obligation"
)

// OperationType is the kind of mutation a pending operation replays.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// EntityType identifies which table a pending operation belongs to.
type EntityType string

const (
	EntityBudget   EntityType = "budget"
	EntityLineItem EntityType = "budgetLineItem"
)

// Budget is the header row of a monthly budget, one per (UserID, Month).
type Budget struct {
	UserID          string
	Month           string  // YYYY-MM
	RemoteID        string  // server-side id, empty until first pull
	Amounts         Amounts // missing fields read as zero
	SyncStatus      SyncStatus
	LastModified    time.Time
	ServerUpdatedAt *time.Time
}

// LineItem is a custom income or obligation entry belonging to a budget.
type LineItem struct {
	ID           string
	UserID       string
	Month        string
	Type         LineItemType
	Category     string
	Name         string
	Amount       decimal.Decimal
	SyncStatus   SyncStatus
	LastModified time.Time
}

// PendingOperation is a queued, not-yet-confirmed mutation.
// UserID and Month name the budget document the operation belongs to.
type PendingOperation struct {
	ID            int64
	OperationType OperationType
	EntityType    EntityType
	EntityID      string
	UserID        string
	Month         string
	Payload       json.RawMessage
	CreatedAt     time.Time
	RetryCount    int
	NextAttemptAt time.Time // zero means eligible immediately
}

// SyncRun records one pull or drain pass.
type SyncRun struct {
	ID         int64
	Kind       string // "pull", "drain"
	Month      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // "running", "success", "error"
	Detail     string
}

// Finished reports whether the run has completed.
func (r *SyncRun) Finished() bool {
	return r.FinishedAt != nil
}
