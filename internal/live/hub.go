// Package live notifies observers when tables in the local store change.
//
// The store publishes the set of tables touched by each committed write.
// Observers either subscribe with a callback or use Watch to receive fresh
// query results after every relevant commit.
package live

import "sync"

// Topics published by the local store and the sync coordinator.
const (
	TopicBudgets           = "budgets"
	TopicLineItems         = "budget_line_items"
	TopicPendingOperations = "pending_operations"
	TopicSyncRuns          = "sync_runs"
	TopicStatus            = "status"
)

// Hub fans out change notifications to subscribers. The zero value is not
// usable; create with NewHub. A nil *Hub ignores publishes.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	topics map[string]struct{} // empty matches every topic
	fn     func()
}

func (s *subscription) matches(topics []string) bool {
	if len(s.topics) == 0 {
		return true
	}
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscription)}
}

// Subscribe registers fn to run after any publish touching one of topics.
// With no topics, fn runs on every publish. fn is called synchronously from
// Publish and must not block. The returned func removes the subscription.
func (h *Hub) Subscribe(fn func(), topics ...string) (cancel func()) {
	sub := &subscription{topics: make(map[string]struct{}, len(topics)), fn: fn}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish notifies every subscriber interested in any of topics, once each.
func (h *Hub) Publish(topics ...string) {
	if h == nil || len(topics) == 0 {
		return
	}

	h.mu.RLock()
	matched := make([]func(), 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.matches(topics) {
			matched = append(matched, sub.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range matched {
		fn()
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
