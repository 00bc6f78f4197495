package budget

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator mints client-side line item ids.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces "item-" prefixed UUIDv7 ids: a millisecond timestamp
// followed by random bits, so ids are unique across devices and sort by creation.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "item-" + id.String()
}
