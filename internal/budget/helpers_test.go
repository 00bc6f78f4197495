package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetsync/internal/budget"
	"budgetsync/internal/database"
	"budgetsync/internal/live"
	"budgetsync/internal/model"
	"budgetsync/internal/presence"
	"budgetsync/internal/remote"
	"budgetsync/internal/testutil"
)

const testUser = "user-1"

// testEnv wires a coordinator to an in-memory store, remote and network.
type testEnv struct {
	c       *budget.Coordinator
	db      *database.SQLiteDatabase
	remote  *remote.MemoryRemote
	network *presence.Manual
	clock   *testutil.StubClock
	hub     *live.Hub
}

func newTestEnv(t *testing.T, online bool, mutate ...func(*budget.Options)) *testEnv {
	t.Helper()
	hub := live.NewHub()
	env := &testEnv{
		db:      testutil.NewTestDatabase(t, hub),
		remote:  testutil.NewTestRemote(),
		network: testutil.NewTestNetwork(online),
		clock:   testutil.FixedClock(),
		hub:     hub,
	}
	env.c = env.newCoordinator(t, env.db, mutate...)
	return env
}

func (e *testEnv) newCoordinator(t *testing.T, store budget.Store, mutate ...func(*budget.Options)) *budget.Coordinator {
	t.Helper()
	opts := budget.DefaultOptions()
	opts.UserID = testUser
	opts.Month = testutil.TestMonth
	for _, m := range mutate {
		m(&opts)
	}
	c, err := budget.NewCoordinator(store, e.remote, e.network, e.hub, budget.NewNopLogger(), e.clock, testutil.NewStubIDGenerator(), opts)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return c
}

func item(typ model.LineItemType, category, name string, amount int64) budget.ItemInput {
	return budget.ItemInput{Type: typ, Category: category, Name: name, Amount: decimal.NewFromInt(amount)}
}

func rent(amount int64) budget.ItemInput {
	return item(model.ItemObligation, "housing", "Rent", amount)
}

func mustAdd(t *testing.T, c *budget.Coordinator, in budget.ItemInput) *model.LineItem {
	t.Helper()
	it, err := c.AddLineItem(context.Background(), in)
	if err != nil {
		t.Fatalf("AddLineItem() error = %v", err)
	}
	return it
}

func mustSnapshot(t *testing.T, c *budget.Coordinator) *budget.Snapshot {
	t.Helper()
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func mustOps(t *testing.T, db budget.Store) []*model.PendingOperation {
	t.Helper()
	ops, err := db.ListOperations(context.Background())
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	return ops
}

func findItem(items []*model.LineItem, id string) *model.LineItem {
	for _, it := range items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func remoteItems(doc *model.Document) map[string]string {
	out := make(map[string]string)
	if doc == nil {
		return out
	}
	for _, it := range doc.Items {
		out[it.ID] = it.Amount.String()
	}
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
