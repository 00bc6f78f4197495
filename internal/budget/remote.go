package budget

import (
	"context"

	"budgetsync/internal/model"
)

// Remote is the authoritative budget store. Its contract is whole-document:
// a save replaces the header fields and the full list of line items.
type Remote interface {
	// FetchBudget returns the document for month, or (nil, nil) when the
	// server has none.
	FetchBudget(ctx context.Context, month string) (*model.Document, error)

	// SaveBudget replaces the server document for doc.Month.
	SaveBudget(ctx context.Context, doc *model.Document) error
}

// NetworkSignal reports connectivity as seen by the platform.
type NetworkSignal interface {
	// Online returns the current state.
	Online() bool

	// Watch emits the new state on every transition until ctx is done.
	// Repeated identical states are not emitted.
	Watch(ctx context.Context) <-chan bool
}
