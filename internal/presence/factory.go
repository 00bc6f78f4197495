package presence

import (
	"fmt"

	"budgetsync/internal/budget"
	"budgetsync/internal/config"
)

// Signal is a NetworkSignal that holds resources until closed.
type Signal interface {
	budget.NetworkSignal
	Close() error
}

// NewSignalFromConfig creates a network signal based on the configuration type.
// forceOffline starts a manual signal in the offline state regardless of cfg.
func NewSignalFromConfig(cfg config.NetworkConfig, forceOffline bool, logger budget.Logger) (Signal, error) {
	if forceOffline {
		return NewManual(false), nil
	}
	switch cfg.Type {
	case "manual", "":
		return NewManual(true), nil
	case "file":
		s, err := NewFileSignal(cfg.StateFile, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown network type: %q", cfg.Type)
	}
}
