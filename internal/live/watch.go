package live

import "context"

// Watch runs query once immediately and again after every publish touching
// one of topics, sending each result on the returned channel. Notifications
// that arrive while a result is pending are coalesced into a single re-run,
// so the consumer always eventually sees the latest state without receiving
// every intermediate one. Failed queries are reported to onErr (if non-nil)
// and skipped. The channel is closed when ctx is done.
func Watch[T any](ctx context.Context, h *Hub, query func(ctx context.Context) (T, error), onErr func(error), topics ...string) <-chan T {
	out := make(chan T)
	signal := make(chan struct{}, 1)
	notify := func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	}

	// Subscribe before the first run so no commit between them is missed.
	cancel := h.Subscribe(notify, topics...)
	notify()

	go func() {
		defer close(out)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
			}

			v, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if onErr != nil {
					onErr(err)
				}
				continue
			}

			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
