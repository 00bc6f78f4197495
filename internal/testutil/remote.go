package testutil

import (
	"budgetsync/internal/presence"
	"budgetsync/internal/remote"
)

// NewTestRemote creates a new in-memory remote for testing.
func NewTestRemote() *remote.MemoryRemote {
	return remote.NewMemoryRemote()
}

// NewTestNetwork creates a manually driven network signal.
func NewTestNetwork(online bool) *presence.Manual {
	return presence.NewManual(online)
}
