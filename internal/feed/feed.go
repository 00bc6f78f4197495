// Package feed serves live budget snapshots to UI clients over a websocket
// and accepts their edits.
//
// Every message is a JSON envelope {"type", "timestamp", "data"}. The server
// sends a "snapshot" after each local change and a "result" for each client
// request. Clients send requests of the form
//
//	{"id": "1", "action": "add_item", "item": {"type": "obligation", ...}}
//
// with actions add_item, update_item, delete_item, update_budget, sync_now
// and switch_month.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"budgetsync/internal/budget"
	"budgetsync/internal/model"
)

// MessageType identifies a server message.
type MessageType string

const (
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeResult   MessageType = "result"
)

// Actions accepted from clients.
const (
	ActionAddItem      = "add_item"
	ActionUpdateItem   = "update_item"
	ActionDeleteItem   = "delete_item"
	ActionUpdateBudget = "update_budget"
	ActionSyncNow      = "sync_now"
	ActionSwitchMonth  = "switch_month"
)

// Message is the envelope of every server message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Request is a client edit or command.
type Request struct {
	ID     string                     `json:"id,omitempty"`
	Action string                     `json:"action"`
	ItemID string                     `json:"itemId,omitempty"`
	Item   *ItemData                  `json:"item,omitempty"`
	Fields map[string]decimal.Decimal `json:"fields,omitempty"`
	Month  string                     `json:"month,omitempty"`
}

// Result answers a Request.
type Result struct {
	ID    string    `json:"id,omitempty"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	Item  *ItemData `json:"item,omitempty"`
}

// ItemData is a line item as exchanged with clients.
type ItemData struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Category   string          `json:"category"`
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	SyncStatus string          `json:"syncStatus,omitempty"`
}

// SnapshotData is what a budget view renders.
type SnapshotData struct {
	Month  string                     `json:"month"`
	Budget map[string]decimal.Decimal `json:"budget"`
	Status string                     `json:"budgetStatus,omitempty"`
	Items  []ItemData                 `json:"items"`
	Totals TotalsData                 `json:"totals"`
	Sync   SyncData                   `json:"sync"`
}

type TotalsData struct {
	Income           decimal.Decimal `json:"income"`
	FixedObligations decimal.Decimal `json:"fixedObligations"`
	VariableExpenses decimal.Decimal `json:"variableExpenses"`
	DebtAttack       decimal.Decimal `json:"debtAttack"`
}

type SyncData struct {
	Online       bool       `json:"online"`
	Syncing      bool       `json:"syncing"`
	Loading      bool       `json:"loading"`
	Pending      int        `json:"pendingChanges"`
	Error        string     `json:"error,omitempty"`
	Indicator    string     `json:"indicator"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

func itemData(it *model.LineItem) ItemData {
	return ItemData{
		ID:         it.ID,
		Type:       string(it.Type),
		Category:   it.Category,
		Name:       it.Name,
		Amount:     it.Amount,
		SyncStatus: string(it.SyncStatus),
	}
}

func (d *ItemData) input() budget.ItemInput {
	return budget.ItemInput{
		Type:     model.LineItemType(d.Type),
		Category: d.Category,
		Name:     d.Name,
		Amount:   d.Amount,
	}
}

// NewSnapshotData converts a coordinator snapshot to its wire form.
func NewSnapshotData(snap *budget.Snapshot) SnapshotData {
	data := SnapshotData{
		Month:  snap.Month,
		Budget: make(map[string]decimal.Decimal, len(model.AllFields())),
		Items:  make([]ItemData, 0, len(snap.Items)),
		Totals: TotalsData{
			Income:           snap.Totals.Income,
			FixedObligations: snap.Totals.FixedObligations,
			VariableExpenses: snap.Totals.VariableExpenses,
			DebtAttack:       snap.Totals.DebtAttack,
		},
		Sync: SyncData{
			Online:    snap.Status.IsOnline,
			Syncing:   snap.Status.IsSyncing,
			Loading:   snap.Status.IsLoading,
			Pending:   snap.Status.PendingChanges,
			Error:     snap.Status.SyncError,
			Indicator: snap.Status.Indicator(),
		},
	}

	var amounts model.Amounts
	if snap.Budget != nil {
		amounts = snap.Budget.Amounts
		data.Status = string(snap.Budget.SyncStatus)
	}
	for _, f := range model.AllFields() {
		data.Budget[string(f)] = amounts.Get(f)
	}
	for _, it := range snap.Items {
		data.Items = append(data.Items, itemData(it))
	}
	if !snap.Status.LastSyncedAt.IsZero() {
		ts := snap.Status.LastSyncedAt
		data.Sync.LastSyncedAt = &ts
	}
	return data
}

func encode(typ MessageType, now time.Time, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, Timestamp: now, Data: data})
}

// Engine is the part of the sync coordinator the feed drives.
type Engine interface {
	Watch(ctx context.Context) <-chan *budget.Snapshot
	AddLineItem(ctx context.Context, in budget.ItemInput) (*model.LineItem, error)
	UpdateLineItem(ctx context.Context, id string, in budget.ItemInput) (*model.LineItem, error)
	DeleteLineItem(ctx context.Context, id string) error
	UpdateBudget(ctx context.Context, patch model.Amounts) (*model.Budget, error)
	SyncNow(ctx context.Context) error
	SwitchMonth(month string) error
}

var _ Engine = (*budget.Coordinator)(nil)
