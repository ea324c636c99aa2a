package store

import (
	"context"
	"log"
	"sync"
)

type readFunc func(ctx context.Context, path string) (Snapshot, error)

// hub fans change notifications out to subscriptions. Each subscription owns
// one goroutine and a one slot signal channel, so a burst of writes collapses
// into a single re-read of the current value.
type hub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

type subscription struct {
	hub    *hub
	path   string
	signal chan struct{}
	cancel context.CancelFunc
}

func (h *hub) subscribe(ctx context.Context, path string, read readFunc, fn func(Snapshot)) *subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		hub:    h,
		path:   path,
		signal: make(chan struct{}, 1),
		cancel: cancel,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	sub.signal <- struct{}{}
	go sub.run(subCtx, read, fn)
	return sub
}

func (h *hub) publish(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !related(sub.path, path) {
			continue
		}
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (h *hub) remove(sub *subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *subscription) run(ctx context.Context, read readFunc, fn func(Snapshot)) {
	defer s.hub.remove(s)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
			snapshot, err := read(ctx, s.path)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Printf("store: subscription read %s: %v", s.path, err)
				continue
			}
			fn(snapshot)
		}
	}
}

func (s *subscription) Close() {
	s.cancel()
}
