package natsrelay

import (
	"context"
	"sync"

	goGate "github.com/MrEthical07/goGate"
	"go.uber.org/zap"
)

// Tee returns an EventSource that yields every event of local, publishing
// it for the subject returned by current, merged with remote events
// received by the relay.
func (r *Relay) Tee(local goGate.EventSource, current func() string) goGate.EventSource {
	return &tee{relay: r, local: local, current: current}
}

type tee struct {
	relay   *Relay
	local   goGate.EventSource
	current func() string

	mu   sync.Mutex
	last string
}

func (t *tee) Events(ctx context.Context) (<-chan goGate.AuthEvent, error) {
	if err := t.relay.Listen(t.current); err != nil {
		return nil, err
	}
	localCh, err := t.local.Events(ctx)
	if err != nil {
		return nil, err
	}
	remoteCh, err := t.relay.Events(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan goGate.AuthEvent)
	var wg sync.WaitGroup
	forward := func(in <-chan goGate.AuthEvent, publish bool) {
		defer wg.Done()
		for {
			var ev goGate.AuthEvent
			select {
			case e, ok := <-in:
				if !ok {
					return
				}
				ev = e
			case <-ctx.Done():
				return
			}
			if publish {
				if err := t.relay.Publish(ctx, t.lastSubject(), ev); err != nil {
					t.relay.log.Debug("relay publish failed", zap.Error(err))
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
	wg.Add(2)
	go forward(localCh, true)
	go forward(remoteCh, false)
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// lastSubject returns the current subject, or the previous one once the
// user is gone, so a SignedOut still reaches the other nodes.
func (t *tee) lastSubject() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.current(); s != "" {
		t.last = s
	}
	return t.last
}

// Provider wraps p so that its event stream is relayed.
func Provider(p goGate.IdentityProvider, r *Relay, current func() string) goGate.IdentityProvider {
	return &relayedProvider{IdentityProvider: p, events: r.Tee(p, current)}
}

type relayedProvider struct {
	goGate.IdentityProvider
	events goGate.EventSource
}

func (p *relayedProvider) Events(ctx context.Context) (<-chan goGate.AuthEvent, error) {
	return p.events.Events(ctx)
}
