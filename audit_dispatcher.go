package goGate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type auditOption func(*auditDispatcher)

func withAuditClock(now func() time.Time) auditOption {
	return func(d *auditDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func withAuditLogger(log *zap.Logger) auditOption {
	return func(d *auditDispatcher) {
		if log != nil {
			d.log = log.Named("audit")
		}
	}
}

// auditDispatcher hands events to the sink on a single worker so that
// credential flows never wait on audit I/O. Events are stamped with the
// engine clock and the request context before they are queued.
type auditDispatcher struct {
	cfg  AuditConfig
	sink AuditSink
	now  func() time.Time
	log  *zap.Logger

	queue chan AuditEvent
	stop  chan struct{}
	idle  sync.WaitGroup

	// sendMu orders queue sends against closing the queue.
	sendMu   sync.RWMutex
	shutdown bool
	stopOnce sync.Once

	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, opts ...auditOption) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &auditDispatcher{
		cfg:   cfg,
		sink:  sink,
		now:   time.Now,
		log:   zap.NewNop(),
		queue: make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.idle.Add(1)
	go func() {
		defer d.idle.Done()
		for ev := range d.queue {
			d.deliver(ev)
		}
	}()
	return d
}

// deliver keeps the worker alive when a sink panics.
func (d *auditDispatcher) deliver(ev AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error("audit sink panicked", zap.String("event", ev.EventType), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

func (d *auditDispatcher) stamp(ctx context.Context, ev AuditEvent) AuditEvent {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		meta := make(map[string]string, len(ev.Metadata)+1)
		for k, v := range ev.Metadata {
			meta[k] = v
		}
		meta["user_agent"] = ua
		ev.Metadata = meta
	}
	return ev
}

// Emit stamps and queues ev. With DropIfFull a full queue drops and counts
// the event; otherwise Emit waits for room until ctx is done or the
// dispatcher closes.
func (d *auditDispatcher) Emit(ctx context.Context, ev AuditEvent) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ev = d.stamp(ctx, ev)

	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.shutdown {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close releases blocked emitters, delivers what is queued and stops the
// worker. It is safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.stop)
		d.sendMu.Lock()
		d.shutdown = true
		close(d.queue)
		d.sendMu.Unlock()
		d.idle.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts events lost to a panicking sink.
func (d *auditDispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
