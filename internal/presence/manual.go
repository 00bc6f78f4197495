package presence

import (
	"context"

	"budgetsync/internal/budget"
)

// Manual is a network signal driven by SetOnline. It backs the --offline
// flag and tests.
type Manual struct {
	b *broadcaster
}

var _ budget.NetworkSignal = (*Manual)(nil)

// NewManual creates a Manual signal in the given state.
func NewManual(online bool) *Manual {
	return &Manual{b: newBroadcaster(online)}
}

// Online returns the current state.
func (m *Manual) Online() bool {
	return m.b.get()
}

// Watch emits every transition until ctx is done.
func (m *Manual) Watch(ctx context.Context) <-chan bool {
	return m.b.watch(ctx)
}

// SetOnline changes the state. It reports whether the state changed.
func (m *Manual) SetOnline(online bool) bool {
	return m.b.set(online)
}

// Close closes all watcher channels.
func (m *Manual) Close() error {
	m.b.closeAll()
	return nil
}
