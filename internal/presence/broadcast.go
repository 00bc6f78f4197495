package presence

import (
	"context"
	"sync"
)

// broadcaster holds the current state and fans transitions out to watchers.
// Each watcher channel holds at most one value; a slow watcher sees only the
// latest state.
type broadcaster struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	next   int
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup // watcher goroutines
}

func newBroadcaster(online bool) *broadcaster {
	return &broadcaster{online: online, subs: make(map[int]chan bool), done: make(chan struct{})}
}

func (b *broadcaster) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

// set records online and notifies watchers. It reports whether the state
// changed; repeated identical states are not emitted.
func (b *broadcaster) set(online bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.online == online {
		return false
	}
	b.online = online
	for _, ch := range b.subs {
		select {
		case ch <- online:
		default:
			// Replace the stale value.
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
	return true
}

// watch returns a channel of transitions that closes when ctx is done or the
// broadcaster is closed.
func (b *broadcaster) watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}()
	return ch
}

// closeAll closes every watcher channel and waits for the watcher goroutines
// to exit. Later watchers get an already closed channel.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.done)
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}
