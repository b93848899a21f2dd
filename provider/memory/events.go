package memory

import (
	"context"

	goGate "github.com/MrEthical07/goGate"
)

// Events streams lifecycle events until ctx is done.
func (p *Provider) Events(ctx context.Context) (<-chan goGate.AuthEvent, error) {
	if err := p.faults.before(ctx, OpEvents); err != nil {
		return nil, err
	}
	return p.events.Subscribe(ctx), nil
}

// Emit pushes kind to every subscriber, as a backend does on a token
// refresh it initiated.
func (p *Provider) Emit(kind goGate.AuthEventKind) {
	p.events.Emit(kind, p.now())
}

// Subscribers returns the number of live event subscriptions.
func (p *Provider) Subscribers() int {
	return p.events.Len()
}
