package goGate

import (
	"errors"
	"time"

	"github.com/MrEthical07/goGate/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Builder defines a public type used by goGate APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config     Config
	provider   IdentityProvider
	store      store.Store
	profiles   ProfileStore
	auditSink  AuditSink
	logger     *zap.Logger
	registerer prometheus.Registerer
	clock      func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithProvider sets the identity backend. Required.
func (b *Builder) WithProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithStore sets the durable device-local store used by the login limiter
// and the step-up intent. Defaults to an in-memory store, which does not
// survive a restart.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithProfileStore sets the profile backend. Required.
func (b *Builder) WithProfileStore(ps ProfileStore) *Builder {
	b.profiles = ps
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithLogger sets the zap logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithMetricsRegisterer enables metrics and registers them on reg.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	b.config.Metrics.Enabled = true
	return b
}

// WithClock overrides the wall clock used for lockouts, intents, profiles
// and the MFA countdown.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and wires the engine. A Builder can
// be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}
	if b.profiles == nil {
		return nil, errors.New("profile store required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}
	st := b.store
	if st == nil {
		st = store.NewMemoryStore()
	}

	metrics := NewMetrics(b.config.Metrics)
	if b.registerer != nil {
		if err := metrics.Register(b.registerer); err != nil {
			return nil, err
		}
	}

	cfg := cloneConfig(b.config)
	audit := newAuditDispatcher(cfg.Audit, b.auditSink, withAuditClock(now), withAuditLogger(log))

	e := &Engine{
		config:   cfg,
		provider: b.provider,
		audit:    audit,
		metrics:  metrics,
		log:      log,
		now:      now,
	}
	e.resolver = NewSessionResolver(b.provider, RetryPolicy{
		MaxRetries: cfg.Resolver.MaxRetries,
		Backoff:    cfg.Resolver.Backoff,
	}, log, metrics)
	e.reconciler = NewProfileReconciler(b.profiles, log, metrics, e.auditSink())
	e.reconciler.now = now
	e.limiter = NewLoginLimiter(st, cfg.Limiter, log).WithClock(now)
	e.intents = NewIntentStore(st, cfg.Intent.Window, log).WithClock(now)
	e.bus = NewAuthEventBus(b.provider, e.resolveUser, log, metrics)
	e.unsubscribe = e.bus.Subscribe(e.onCommit)

	b.built = true
	return e, nil
}
