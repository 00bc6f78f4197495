package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"budgetsync/internal/budget"
	"budgetsync/internal/model"
)

// MemoryRemote is an in-memory budget store keyed by month. Documents are
// stored in their wire form, so a save followed by a fetch goes through the
// same JSON round trip as the HTTP remote. Failures can be injected for
// tests. This implementation is safe for concurrent use.
type MemoryRemote struct {
	mu      sync.Mutex
	docs    map[string][]byte // month -> document JSON
	nextID  int
	now     func() time.Time
	saves   []string // months, in save order
	fetches int

	fetchErr  error
	saveErr   error
	failSaves int
}

var _ budget.Remote = (*MemoryRemote)(nil)

// NewMemoryRemote creates an empty in-memory remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		docs: make(map[string][]byte),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// FetchBudget returns the stored document for month, or (nil, nil).
func (m *MemoryRemote) FetchBudget(ctx context.Context, month string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	data, ok := m.docs[month]
	if !ok {
		return nil, nil
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding stored budget: %w", err)
	}
	return &doc, nil
}

// SaveBudget replaces the document for doc.Month, assigning an id on first
// save and stamping the update time.
func (m *MemoryRemote) SaveBudget(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves > 0 {
		m.failSaves--
		return &StatusError{Code: 503, Message: "injected failure"}
	}
	if m.saveErr != nil {
		return m.saveErr
	}

	stored := *doc
	if stored.ID == "" {
		if prev, ok := m.docs[doc.Month]; ok {
			var existing model.Document
			if err := json.Unmarshal(prev, &existing); err == nil {
				stored.ID = existing.ID
			}
		}
	}
	if stored.ID == "" {
		m.nextID++
		stored.ID = fmt.Sprintf("mem-%d", m.nextID)
	}
	now := m.now()
	stored.UpdatedAt = &now

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding budget: %w", err)
	}
	m.docs[doc.Month] = data
	m.saves = append(m.saves, doc.Month)
	return nil
}

// Put seeds the remote with doc without counting it as a save.
func (m *MemoryRemote) Put(doc *model.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("encoding budget: %v", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Month] = data
}

// Get returns the stored document for month without injected failures.
func (m *MemoryRemote) Get(month string) *model.Document {
	m.mu.Lock()
	data, ok := m.docs[month]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return &doc
}

// SetFetchError makes every fetch fail with err until cleared with nil.
func (m *MemoryRemote) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// SetSaveError makes every save fail with err until cleared with nil.
func (m *MemoryRemote) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailSaves makes the next n saves fail with a 503 StatusError.
func (m *MemoryRemote) FailSaves(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = n
}

// Saves returns the months of successful saves, in order.
func (m *MemoryRemote) Saves() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saves...)
}

// Fetches returns the number of fetch attempts.
func (m *MemoryRemote) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}
