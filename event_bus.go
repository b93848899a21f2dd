package goGate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ComputeFunc recomputes the resolved user from scratch. It returns
// (nil, nil) when there is no verified identity and an error only when ctx
// is done.
type ComputeFunc func(ctx context.Context) (*ResolvedUser, error)

type busListener struct {
	id int
	fn func(Snapshot)
}

// AuthEventBus subscribes once to the provider's lifecycle stream and
// publishes a fresh Snapshot per event.
//
// Every event gets an arrival sequence. SignedOut commits nil at once;
// other events recompute from scratch under their own context. A newer
// event cancels in-flight recomputes of older ones, and a commit whose
// sequence is not newer than the committed one is discarded, so a slow
// early result never overwrites a later one.
type AuthEventBus struct {
	source  EventSource
	compute ComputeFunc
	log     *zap.Logger
	metrics *Metrics

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
	ctx       context.Context
	cancel    context.CancelFunc
	inject    chan AuthEvent
	closed    chan struct{}
	wg        sync.WaitGroup

	snap    atomic.Pointer[Snapshot]
	arrival atomic.Uint64

	mu        sync.Mutex
	committed uint64
	inflight  map[uint64]context.CancelFunc
	listeners []busListener
	nextID    int
}

// NewAuthEventBus wires source to compute. Nothing runs until Start.
func NewAuthEventBus(source EventSource, compute ComputeFunc, log *zap.Logger, metrics *Metrics) *AuthEventBus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &AuthEventBus{
		source:   source,
		compute:  compute,
		log:      log.Named("bus"),
		metrics:  metrics,
		inject:   make(chan AuthEvent, 16),
		closed:   make(chan struct{}),
		inflight: make(map[uint64]context.CancelFunc),
	}
	b.snap.Store(&Snapshot{Loading: true})
	return b
}

// Start runs the initial resolution and subscribes to the provider stream.
// Only the first call has any effect; later calls return its result. If
// the subscription fails the bus still resolves once and still serves
// Refresh, and the error is returned.
func (b *AuthEventBus) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))

		var events <-chan AuthEvent
		if b.source != nil {
			ch, err := b.source.Events(b.ctx)
			if err != nil {
				b.log.Error("event subscription failed", zap.Error(err))
				b.startErr = err
			}
			events = ch
		}

		b.dispatch(AuthEvent{Kind: EventTokenRefreshed, At: time.Now()})

		b.wg.Add(1)
		go b.loop(events)
	})
	return b.startErr
}

// Stop tears down the subscription and waits for in-flight work. It must
// not be called from a listener.
func (b *AuthEventBus) Stop() {
	b.startOnce.Do(func() { b.startErr = ErrEngineNotReady })
	b.stopOnce.Do(func() {
		close(b.closed)
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
	})
}

// Snapshot returns the last committed state. It never blocks.
func (b *AuthEventBus) Snapshot() Snapshot {
	return *b.snap.Load()
}

// Subscribe registers fn to observe every commit in order. fn runs with
// the commit lock held and must not block or call Stop.
func (b *AuthEventBus) Subscribe(fn func(Snapshot)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, busListener{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Refresh enqueues a synthetic TokenRefreshed. Refreshes queued while the
// buffer is full are coalesced into the pending ones.
func (b *AuthEventBus) Refresh(ctx context.Context) error {
	select {
	case <-b.closed:
		return ErrEngineNotReady
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case b.inject <- AuthEvent{Kind: EventTokenRefreshed, At: time.Now()}:
	default:
	}
	return nil
}

// SignedOut commits nil immediately, cancelling in-flight recomputes.
func (b *AuthEventBus) SignedOut() {
	b.dispatch(AuthEvent{Kind: EventSignedOut, At: time.Now()})
}

// Await blocks until a committed snapshot satisfies pred or ctx is done.
func (b *AuthEventBus) Await(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	unsubscribe := b.Subscribe(func(s Snapshot) {
		if pred(s) {
			select {
			case ch <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	if s := b.Snapshot(); pred(s) {
		return s, nil
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return b.Snapshot(), ctx.Err()
	}
}

func (b *AuthEventBus) loop(events <-chan AuthEvent) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			b.dispatch(ev)
		case ev := <-b.inject:
			b.dispatch(ev)
		}
	}
}

func (b *AuthEventBus) dispatch(ev AuthEvent) {
	seq := b.arrival.Add(1)

	b.mu.Lock()
	for s, cancel := range b.inflight {
		cancel()
		delete(b.inflight, s)
		b.metrics.Inc(MetricEventsSuperseded)
	}
	if ev.Kind == EventSignedOut {
		b.commitLocked(seq, nil)
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(b.ctx)
	b.inflight[seq] = cancel
	b.mu.Unlock()

	b.log.Debug("recompute", zap.String("event", string(ev.Kind)), zap.Uint64("seq", seq))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		user, err := b.compute(ctx)

		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.inflight, seq)
		if err != nil || ctx.Err() != nil {
			b.log.Debug("recompute discarded", zap.Uint64("seq", seq), zap.Error(err))
			return
		}
		b.commitLocked(seq, user)
	}()
}

func (b *AuthEventBus) commitLocked(seq uint64, user *ResolvedUser) {
	if seq <= b.committed {
		b.metrics.Inc(MetricEventsSuperseded)
		return
	}
	b.committed = seq
	snap := &Snapshot{User: user, Seq: seq}
	b.snap.Store(snap)
	b.metrics.Inc(MetricEventsProcessed)

	for _, l := range b.listeners {
		l.fn(*snap)
	}
}
