package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetsync/internal/budget"
	"budgetsync/internal/live"
	"budgetsync/internal/model"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements budget.Queries over a connection or transaction.
// changed is told which tables each successful write touched.
type queries struct {
	db      dbtx
	changed func(tables ...string)
}

var _ budget.Queries = (*queries)(nil)

// budgetColumns maps header fields to their column, in AllFields order.
var budgetColumns = []struct {
	field  model.Field
	column string
}{
	{model.FieldNetSalary, "net_salary"},
	{model.FieldSecondaryIncome, "secondary_income"},
	{model.FieldPartnerContribution, "partner_contribution"},
	{model.FieldGrants, "grants"},
	{model.FieldHousing, "housing"},
	{model.FieldTransport, "transport"},
	{model.FieldUtilities, "utilities"},
	{model.FieldInsurance, "insurance"},
	{model.FieldEducation, "education"},
	{model.FieldFamilySupport, "family_support"},
	{model.FieldGroceries, "groceries"},
	{model.FieldPersonalCare, "personal_care"},
	{model.FieldHealth, "health"},
	{model.FieldEntertainment, "entertainment"},
	{model.FieldOther, "other"},
}

var (
	budgetSelect string
	budgetInsert string
)

func init() {
	cols := []string{"user_id", "month", "remote_id"}
	for _, bc := range budgetColumns {
		cols = append(cols, bc.column)
	}
	cols = append(cols, "sync_status", "last_modified", "server_updated_at")

	budgetSelect = "SELECT " + strings.Join(cols, ", ") + " FROM budgets WHERE user_id = ? AND month = ?"
	budgetInsert = "INSERT OR REPLACE INTO budgets (" + strings.Join(cols, ", ") +
		") VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
}

func (q *queries) exec(ctx context.Context, table, query string, args ...any) (sql.Result, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		q.changed(table)
	}
	return res, nil
}

// Budgets

func (q *queries) GetBudget(ctx context.Context, userID, month string) (*model.Budget, error) {
	b := &model.Budget{Amounts: make(model.Amounts, len(budgetColumns))}
	amounts := make([]string, len(budgetColumns))
	var status string
	var lastModified int64
	var serverUpdated sql.NullInt64

	dest := []any{&b.UserID, &b.Month, &b.RemoteID}
	for i := range amounts {
		dest = append(dest, &amounts[i])
	}
	dest = append(dest, &status, &lastModified, &serverUpdated)

	if err := q.db.QueryRowContext(ctx, budgetSelect, userID, month).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting budget: %w", err)
	}

	for i, bc := range budgetColumns {
		d, err := decimal.NewFromString(amounts[i])
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", bc.field, err)
		}
		b.Amounts[bc.field] = d
	}
	b.SyncStatus = model.SyncStatus(status)
	b.LastModified = fromMillis(lastModified)
	if serverUpdated.Valid {
		ts := fromMillis(serverUpdated.Int64)
		b.ServerUpdatedAt = &ts
	}
	return b, nil
}

func (q *queries) PutBudget(ctx context.Context, b *model.Budget) error {
	args := []any{b.UserID, b.Month, b.RemoteID}
	for _, bc := range budgetColumns {
		args = append(args, b.Amounts.Get(bc.field).String())
	}
	var serverUpdated sql.NullInt64
	if b.ServerUpdatedAt != nil {
		serverUpdated = sql.NullInt64{Int64: toMillis(*b.ServerUpdatedAt), Valid: true}
	}
	args = append(args, string(b.SyncStatus), toMillis(b.LastModified), serverUpdated)

	if _, err := q.exec(ctx, live.TopicBudgets, budgetInsert, args...); err != nil {
		return fmt.Errorf("putting budget: %w", err)
	}
	return nil
}

func (q *queries) SetBudgetStatus(ctx context.Context, userID, month string, status model.SyncStatus) error {
	_, err := q.exec(ctx, live.TopicBudgets,
		"UPDATE budgets SET sync_status = ? WHERE user_id = ? AND month = ?", string(status), userID, month)
	if err != nil {
		return fmt.Errorf("setting budget status: %w", err)
	}
	return nil
}

func (q *queries) DeleteBudget(ctx context.Context, userID, month string) error {
	_, err := q.exec(ctx, live.TopicBudgets, "DELETE FROM budgets WHERE user_id = ? AND month = ?", userID, month)
	if err != nil {
		return fmt.Errorf("deleting budget: %w", err)
	}
	return nil
}

// Line items

const lineItemColumns = "id, user_id, month, type, category, name, amount, sync_status, last_modified"

func scanLineItem(row interface{ Scan(...any) error }) (*model.LineItem, error) {
	var item model.LineItem
	var itemType, amount, status string
	var lastModified int64
	if err := row.Scan(&item.ID, &item.UserID, &item.Month, &itemType, &item.Category, &item.Name, &amount, &status, &lastModified); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount of %s: %w", item.ID, err)
	}
	item.Type = model.LineItemType(itemType)
	item.Amount = d
	item.SyncStatus = model.SyncStatus(status)
	item.LastModified = fromMillis(lastModified)
	return &item, nil
}

func (q *queries) GetLineItem(ctx context.Context, id string) (*model.LineItem, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+lineItemColumns+" FROM budget_line_items WHERE id = ?", id)
	item, err := scanLineItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting line item: %w", err)
	}
	return item, nil
}

func (q *queries) ListLineItems(ctx context.Context, userID, month string) ([]*model.LineItem, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+lineItemColumns+" FROM budget_line_items WHERE user_id = ? AND month = ? ORDER BY id", userID, month)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	defer rows.Close()

	items := []*model.LineItem{}
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	return items, nil
}

func (q *queries) PutLineItem(ctx context.Context, item *model.LineItem) error {
	_, err := q.exec(ctx, live.TopicLineItems,
		"INSERT OR REPLACE INTO budget_line_items ("+lineItemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		item.ID, item.UserID, item.Month, string(item.Type), item.Category, item.Name,
		item.Amount.String(), string(item.SyncStatus), toMillis(item.LastModified))
	if err != nil {
		return fmt.Errorf("putting line item: %w", err)
	}
	return nil
}

func (q *queries) SetLineItemStatus(ctx context.Context, id string, status model.SyncStatus) error {
	_, err := q.exec(ctx, live.TopicLineItems, "UPDATE budget_line_items SET sync_status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("setting line item status: %w", err)
	}
	return nil
}

func (q *queries) DeleteLineItem(ctx context.Context, id string) error {
	if _, err := q.exec(ctx, live.TopicLineItems, "DELETE FROM budget_line_items WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting line item: %w", err)
	}
	return nil
}

func (q *queries) DeleteLineItems(ctx context.Context, userID, month string) error {
	_, err := q.exec(ctx, live.TopicLineItems, "DELETE FROM budget_line_items WHERE user_id = ? AND month = ?", userID, month)
	if err != nil {
		return fmt.Errorf("deleting line items: %w", err)
	}
	return nil
}

// Pending operations

const operationColumns = "id, operation_type, entity_type, entity_id, user_id, month, payload, created_at, retry_count, next_attempt_at"

func (q *queries) EnqueueOperation(ctx context.Context, op *model.PendingOperation) error {
	res, err := q.exec(ctx, live.TopicPendingOperations, `
		INSERT INTO pending_operations (operation_type, entity_type, entity_id, user_id, month, payload, created_at, retry_count, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(op.OperationType), string(op.EntityType), op.EntityID, op.UserID, op.Month,
		string(op.Payload), toMillis(op.CreatedAt), op.RetryCount, toMillis(op.NextAttemptAt))
	if err != nil {
		return fmt.Errorf("enqueueing operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading operation id: %w", err)
	}
	op.ID = id
	return nil
}

func (q *queries) ListOperations(ctx context.Context) ([]*model.PendingOperation, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+operationColumns+" FROM pending_operations ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	ops := []*model.PendingOperation{}
	for rows.Next() {
		var op model.PendingOperation
		var opType, entityType, payload string
		var createdAt, nextAttempt int64
		if err := rows.Scan(&op.ID, &opType, &entityType, &op.EntityID, &op.UserID, &op.Month,
			&payload, &createdAt, &op.RetryCount, &nextAttempt); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.OperationType = model.OperationType(opType)
		op.EntityType = model.EntityType(entityType)
		op.Payload = []byte(payload)
		op.CreatedAt = fromMillis(createdAt)
		op.NextAttemptAt = fromMillis(nextAttempt)
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (q *queries) CountOperations(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_operations").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting operations: %w", err)
	}
	return n, nil
}

func (q *queries) HasOperationForEntity(ctx context.Context, entityID string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pending_operations WHERE entity_id = ?)", entityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking operations for %s: %w", entityID, err)
	}
	return exists, nil
}

func (q *queries) DeleteOperation(ctx context.Context, id int64) (bool, error) {
	res, err := q.exec(ctx, live.TopicPendingOperations, "DELETE FROM pending_operations WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting operation: %w", err)
	}
	return n > 0, nil
}

func (q *queries) DeleteOperationsForEntity(ctx context.Context, entityID string) (int64, error) {
	res, err := q.exec(ctx, live.TopicPendingOperations, "DELETE FROM pending_operations WHERE entity_id = ?", entityID)
	if err != nil {
		return 0, fmt.Errorf("deleting operations for %s: %w", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting operations for %s: %w", entityID, err)
	}
	return n, nil
}

func (q *queries) UpdateOperationRetry(ctx context.Context, id int64, retryCount int, nextAttemptAt time.Time) error {
	_, err := q.exec(ctx, live.TopicPendingOperations,
		"UPDATE pending_operations SET retry_count = ?, next_attempt_at = ? WHERE id = ?",
		retryCount, toMillis(nextAttemptAt), id)
	if err != nil {
		return fmt.Errorf("updating operation retry: %w", err)
	}
	return nil
}

func (q *queries) ClearOperations(ctx context.Context) error {
	if _, err := q.exec(ctx, live.TopicPendingOperations, "DELETE FROM pending_operations"); err != nil {
		return fmt.Errorf("clearing operations: %w", err)
	}
	return nil
}

// Sync runs

func (q *queries) CreateSyncRun(ctx context.Context, kind, month string, startedAt time.Time) (*model.SyncRun, error) {
	res, err := q.exec(ctx, live.TopicSyncRuns,
		"INSERT INTO sync_runs (kind, month, started_at, status) VALUES (?, ?, ?, 'running')",
		kind, month, toMillis(startedAt))
	if err != nil {
		return nil, fmt.Errorf("creating sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading sync run id: %w", err)
	}
	return &model.SyncRun{ID: id, Kind: kind, Month: month, StartedAt: startedAt, Status: "running"}, nil
}

func (q *queries) FinishSyncRun(ctx context.Context, id int64, finishedAt time.Time, status, detail string) error {
	_, err := q.exec(ctx, live.TopicSyncRuns,
		"UPDATE sync_runs SET finished_at = ?, status = ?, detail = ? WHERE id = ?",
		toMillis(finishedAt), status, detail, id)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	return nil
}

func (q *queries) ListSyncRuns(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, kind, month, started_at, finished_at, status, detail FROM sync_runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	runs := []*model.SyncRun{}
	for rows.Next() {
		var run model.SyncRun
		var startedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(&run.ID, &run.Kind, &run.Month, &startedAt, &finishedAt, &run.Status, &run.Detail); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		run.StartedAt = fromMillis(startedAt)
		if finishedAt.Valid {
			ts := fromMillis(finishedAt.Int64)
			run.FinishedAt = &ts
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	return runs, nil
}

func (q *queries) PruneSyncRuns(ctx context.Context, keep int) error {
	_, err := q.exec(ctx, live.TopicSyncRuns,
		"DELETE FROM sync_runs WHERE id NOT IN (SELECT id FROM sync_runs ORDER BY id DESC LIMIT ?)", keep)
	if err != nil {
		return fmt.Errorf("pruning sync runs: %w", err)
	}
	return nil
}

// Times are stored as unix milliseconds; zero time is stored as 0.

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
