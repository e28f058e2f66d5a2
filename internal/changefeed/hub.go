package changefeed

import (
	"context"
	"sync"

	"github.com/nexus-dashboard/nexus/internal/docstore"
)

type hubSubscriber struct {
	target string
	ch     chan docstore.Change
}

// Hub is the in-process feed used when no Redis is configured.
type Hub struct {
	mu   sync.Mutex
	subs map[*hubSubscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscriber]struct{})}
}

// Publish fans the change out. A subscriber whose buffer is full is dropped;
// its client reconnects and receives a fresh snapshot.
func (h *Hub) Publish(_ context.Context, change docstore.Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if !Matches(sub.target, change.Path) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			h.removeLocked(sub)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, target string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &hubSubscriber{target: target, ch: make(chan docstore.Change, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		h.removeLocked(sub)
		h.mu.Unlock()
	}()

	return &Subscription{C: sub.ch, cancel: cancel}, nil
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) removeLocked(sub *hubSubscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}
