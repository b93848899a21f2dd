package goGate

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/goGate"

// RetryPolicy bounds retries of abort-class resolution failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// SessionResolver obtains the current identity through a live server round
// trip. A cached token alone is never trusted: it may be locally valid but
// revoked on the server.
type SessionResolver struct {
	provider SessionProvider
	policy   RetryPolicy
	log      *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewSessionResolver wraps p with policy.
func NewSessionResolver(p SessionProvider, policy RetryPolicy, log *zap.Logger, metrics *Metrics) *SessionResolver {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &SessionResolver{
		provider: p,
		policy:   policy,
		log:      log.Named("resolver"),
		metrics:  metrics,
		tracer:   otel.Tracer(tracerName),
	}
}

// Resolve returns the verified identity, or nil when there is none.
//
// An abort-class failure is retried after the policy backoff. Any other
// failure, or exhausting retries, clears the cached session that was
// rejected and resolves to nil without an error: a revoked session is indistinguishable
// from never having signed in. An error is returned only when ctx is done.
func (r *SessionResolver) Resolve(ctx context.Context) (*Identity, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveResolve(time.Since(start)) }()

	ctx, span := r.tracer.Start(ctx, "gogate.session.resolve")
	defer span.End()

	var (
		lastErr error
		marker  string
	)
	for attempt := 0; ; attempt++ {
		m, err := r.provider.LocalSessionMarker(ctx)
		if err != nil {
			r.log.Debug("read local session marker failed", zap.Error(err))
		}
		marker = m

		id, err := r.provider.GetVerifiedUser(ctx)
		if err == nil && id != nil {
			span.SetAttributes(
				attribute.Int("gogate.resolve.attempts", attempt+1),
				attribute.String("gogate.aal", string(id.Assurance)),
			)
			r.metrics.Inc(MetricResolveVerified)
			return id, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctxErr
		}
		lastErr = err
		if err == nil || !errors.Is(err, ErrProviderAborted) || attempt >= r.policy.MaxRetries {
			break
		}

		r.metrics.Inc(MetricResolveRetry)
		r.log.Debug("resolve aborted, retrying", zap.Int("attempt", attempt+1), zap.Duration("backoff", r.policy.Backoff))
		if err := sleepCtx(ctx, r.policy.Backoff); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
	}

	if lastErr != nil {
		r.log.Debug("session not verified", zap.String("kind", KindOf(lastErr).String()), zap.Error(lastErr))
	}
	// Only the session that was rejected is cleared; a token written by a
	// concurrent sign-in survives.
	if err := r.provider.ClearLocalSessionIf(ctx, marker); err != nil {
		r.log.Warn("clear local session failed", zap.Error(err))
	}
	span.SetAttributes(attribute.Bool("gogate.signed_out", true))
	r.metrics.Inc(MetricResolveSignedOut)
	return nil, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
