package fanout

import (
	"context"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
)

func TestHubDeliversToEverySubscriber(t *testing.T) {
	h := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := h.Subscribe(ctx), h.Subscribe(ctx)
	at := time.Unix(100, 0)
	h.Emit(goGate.EventSignedIn, at)

	for _, ch := range []<-chan goGate.AuthEvent{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != goGate.EventSignedIn || !ev.At.Equal(at) {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", h.Len())
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx)

	h.Emit(goGate.EventSignedIn, time.Now())
	h.Emit(goGate.EventSignedOut, time.Now())

	if ev := <-ch; ev.Kind != goGate.EventSignedIn {
		t.Fatalf("expected first event kept, got %s", ev.Kind)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected overflow dropped, got %s", ev.Kind)
	default:
	}
}

func TestHubClosesOnCancel(t *testing.T) {
	h := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
	deadline := time.Now().Add(time.Second)
	for h.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.Len() != 0 {
		t.Fatalf("subscriber not removed")
	}
}
