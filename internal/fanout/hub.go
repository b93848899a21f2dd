// Package fanout delivers auth lifecycle events to every live subscriber.
package fanout

import (
	"context"
	"sync"
	"time"

	goGate "github.com/MrEthical07/goGate"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Hub broadcasts events without blocking. A subscriber whose buffer is full
// misses the event; the engine recomputes from scratch on the next one.
type Hub struct {
	mu     sync.Mutex
	next   int
	buffer int
	subs   map[int]chan goGate.AuthEvent
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[int]chan goGate.AuthEvent)}
}

// Subscribe returns a channel that is closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context) <-chan goGate.AuthEvent {
	ch := make(chan goGate.AuthEvent, h.buffer)
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Emit sends kind stamped with at to every subscriber.
func (h *Hub) Emit(kind goGate.AuthEventKind, at time.Time) {
	h.Publish(goGate.AuthEvent{Kind: kind, At: at})
}

// Publish sends ev to every subscriber.
func (h *Hub) Publish(ev goGate.AuthEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
