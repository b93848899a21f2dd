package goGate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine is the application's single identity signal and the entry point
// for credential flows. Build it with [Builder]; call Start once.
type Engine struct {
	config     Config
	provider   IdentityProvider
	resolver   *SessionResolver
	reconciler *ProfileReconciler
	limiter    *LoginLimiter
	intents    *IntentStore
	bus        *AuthEventBus
	audit      *auditDispatcher
	metrics    *Metrics
	log        *zap.Logger
	now        func() time.Time

	gateMu  sync.Mutex
	gate    *MFAGate
	gateFor string

	unsubscribe func()
	closeOnce   sync.Once
}

// Start runs the initial resolution and subscribes to provider events.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.bus.Start(ctx)
}

// Close stops the event subscription, the MFA countdown and the audit
// dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.bus.Stop()
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		e.resetGate()
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped returns the number of audit events lost, either dropped on
// a full buffer or lost to a panicking sink.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped() + e.audit.Failed()
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	e.audit.Emit(ctx, event)
}

/*
====================================
RESOLUTION
====================================
*/

// resolveUser is the bus recompute: resolve, derive role, reconcile the
// profile, then derive tenant and step-up state.
func (e *Engine) resolveUser(ctx context.Context) (*ResolvedUser, error) {
	id, err := e.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if id == nil {
		if prev := e.bus.Snapshot().User; prev != nil {
			e.emit(ctx, AuditEvent{EventType: AuditSessionCleared, SubjectID: prev.Identity.SubjectID, Success: true})
		}
		return nil, nil
	}

	profile, degraded := e.reconciler.Reconcile(ctx, id, ClaimsFor(id, nil))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	claims := ClaimsFor(id, &profile)

	return &ResolvedUser{
		Identity:   *id,
		Claims:     claims,
		Profile:    profile,
		MFAPending: RequiresStepUp(claims.Role, id.Assurance),
		Degraded:   degraded,
	}, nil
}

// Snapshot returns the current identity signal.
func (e *Engine) Snapshot() Snapshot {
	if e == nil {
		return Snapshot{}
	}
	return e.bus.Snapshot()
}

// CurrentUser returns the resolved user, or nil while loading or signed out.
func (e *Engine) CurrentUser() *ResolvedUser {
	return e.Snapshot().User
}

// Subscribe observes every committed snapshot in order.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	return e.bus.Subscribe(fn)
}

// AwaitReady blocks until the first resolution has committed.
func (e *Engine) AwaitReady(ctx context.Context) (Snapshot, error) {
	if e == nil {
		return Snapshot{}, ErrEngineNotReady
	}
	return e.bus.Await(ctx, func(s Snapshot) bool { return !s.Loading })
}

// Refresh recomputes the resolved user, as after a token refresh.
func (e *Engine) Refresh(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.bus.Refresh(ctx)
}

// Authorize decides whether a protected view may render for the current
// user. An empty roles list admits any signed-in role. Privilege comes
// from the resolved claims only.
func (e *Engine) Authorize(roles ...Role) Decision {
	return decide(e.Snapshot(), roles)
}

// AuthorizeSnapshot is Authorize that also returns the user the decision
// was made for. Both come from one snapshot.
func (e *Engine) AuthorizeSnapshot(roles ...Role) (Decision, *ResolvedUser) {
	snap := e.Snapshot()
	return decide(snap, roles), snap.User
}

func decide(snap Snapshot, roles []Role) Decision {
	switch {
	case snap.Loading:
		return DecisionLoading
	case snap.User == nil:
		return DecisionSignedOut
	}
	if len(roles) > 0 {
		allowed := false
		for _, r := range roles {
			if snap.User.Claims.Role == r {
				allowed = true
				break
			}
		}
		if !allowed {
			return DecisionForbidden
		}
	}
	if snap.User.MFAPending {
		return DecisionMFARequired
	}
	return DecisionAllowed
}

/*
====================================
CREDENTIAL FLOWS
====================================
*/

// SignIn checks the local lock, then signs in with the provider.
//
// Invalid credentials are counted and may turn into a *RateLimitedError.
// A provider rate limit returns a *RateLimitedError with the stricter of
// the local and provider remaining times. Validation failures return
// ErrValidation; anything else ErrSignInUnavailable. Success clears the
// local counters. The resolved user arrives through the event stream.
func (e *Engine) SignIn(ctx context.Context, email, password string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	email = strings.TrimSpace(email)

	if err := e.limiter.Check(ctx); err != nil {
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			e.metrics.Inc(MetricSignInLockedLocally)
			e.emit(ctx, AuditEvent{EventType: AuditSignInLocked, Success: false, Error: "locked"})
		}
		return err
	}

	err := e.provider.SignInWithPassword(ctx, email, password)
	if err == nil {
		if err := e.limiter.RecordSuccess(ctx); err != nil {
			e.log.Warn("clear login attempts failed", zap.Error(err))
		}
		e.metrics.Inc(MetricSignInSuccess)
		e.emit(ctx, AuditEvent{EventType: AuditSignIn, Success: true})
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return e.signInFailed(ctx, err)
}

func (e *Engine) signInFailed(ctx context.Context, err error) error {
	kind := KindOf(err)
	e.emit(ctx, AuditEvent{EventType: AuditSignIn, Success: false, Error: kind.String()})

	switch kind {
	case KindInvalidCredentials:
		e.metrics.Inc(MetricSignInFailure)
		state, recErr := e.limiter.RecordFailure(ctx)
		if recErr != nil {
			e.log.Warn("record login failure failed", zap.Error(recErr))
			return ErrInvalidCredentials
		}
		if remaining := state.Remaining(e.limiter.now()); remaining > 0 {
			return &RateLimitedError{Remaining: remaining}
		}
		return ErrInvalidCredentials

	case KindRateLimited:
		e.metrics.Inc(MetricSignInRateLimited)
		var remaining time.Duration
		var pe *ProviderError
		if errors.As(err, &pe) {
			remaining = pe.RetryAfter
		}
		if state, stateErr := e.limiter.State(ctx); stateErr == nil {
			if local := state.Remaining(e.limiter.now()); local > remaining {
				remaining = local
			}
		}
		return &RateLimitedError{Remaining: remaining}

	case KindValidation:
		return ErrValidation

	default:
		e.log.Warn("sign-in failed", zap.String("kind", kind.String()), zap.Error(err))
		return ErrSignInUnavailable
	}
}

// SignUp registers a new account. Failures are never counted by the login
// limiter.
func (e *Engine) SignUp(ctx context.Context, email, password, displayName string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	meta := map[string]any{}
	if name := strings.TrimSpace(displayName); name != "" {
		meta["display_name"] = name
	}

	err := e.provider.SignUp(ctx, strings.TrimSpace(email), password, meta)
	if err == nil {
		e.metrics.Inc(MetricSignUp)
		e.emit(ctx, AuditEvent{EventType: AuditSignUp, Success: true})
		return nil
	}
	e.emit(ctx, AuditEvent{EventType: AuditSignUp, Success: false, Error: KindOf(err).String()})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	switch KindOf(err) {
	case KindValidation:
		return ErrValidation
	case KindRateLimited:
		var remaining time.Duration
		var pe *ProviderError
		if errors.As(err, &pe) {
			remaining = pe.RetryAfter
		}
		return &RateLimitedError{Remaining: remaining}
	default:
		e.log.Warn("sign-up failed", zap.Error(err))
		return ErrSignUpUnavailable
	}
}

// SignOut ends the session. Local state is cleared and nil is committed
// even when the provider call fails.
func (e *Engine) SignOut(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	subject := ""
	if u := e.CurrentUser(); u != nil {
		subject = u.Identity.SubjectID
	}

	if err := e.provider.SignOut(ctx); err != nil {
		e.log.Warn("provider sign-out failed", zap.Error(err))
	}
	if err := e.provider.ClearLocalSession(ctx); err != nil {
		e.log.Warn("clear local session failed", zap.Error(err))
	}
	if err := e.intents.Clear(ctx); err != nil {
		e.log.Warn("clear intent failed", zap.Error(err))
	}
	e.resetGate()
	e.bus.SignedOut()

	e.metrics.Inc(MetricSignOut)
	e.emit(ctx, AuditEvent{EventType: AuditSignOut, SubjectID: subject, Success: true})
	return nil
}

// RequestPasswordReset always returns nil so callers cannot learn whether
// an account exists. Provider failures are logged.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return nil
	}
	email = strings.TrimSpace(email)
	err := e.provider.RequestPasswordReset(ctx, email)
	if err != nil {
		e.log.Warn("password reset request failed", zap.String("kind", KindOf(err).String()), zap.Error(err))
	}
	e.metrics.Inc(MetricPasswordResetRequest)
	e.emit(ctx, AuditEvent{EventType: AuditPasswordReset, Success: err == nil})
	return nil
}

// LoginState returns the persisted local attempt state.
func (e *Engine) LoginState(ctx context.Context) (LoginAttemptState, error) {
	if e == nil {
		return LoginAttemptState{}, ErrEngineNotReady
	}
	return e.limiter.State(ctx)
}

/*
====================================
STEP-UP
====================================
*/

// MFAGate returns the gate for the current user, creating it on first use.
// It returns nil when nobody is signed in, and when the user needs no
// step-up and has no gate yet, so roles without step-up never enroll a
// factor. A gate that just reached verified stays available.
func (e *Engine) MFAGate() *MFAGate {
	u := e.CurrentUser()
	if u == nil {
		return nil
	}
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	if e.gate != nil && e.gateFor == u.Identity.SubjectID {
		return e.gate
	}
	if !u.MFAPending {
		return nil
	}
	return e.newGateLocked(u.Identity.SubjectID)
}

// NewMFAGate replaces the current gate with a fresh one in checking. It
// returns nil unless the current user still needs step-up.
func (e *Engine) NewMFAGate() *MFAGate {
	u := e.CurrentUser()
	if u == nil || !u.MFAPending {
		return nil
	}
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	return e.newGateLocked(u.Identity.SubjectID)
}

func (e *Engine) newGateLocked(subject string) *MFAGate {
	if e.gate != nil {
		e.gate.Close()
	}
	e.gate = NewMFAGate(e.provider, e.config.MFA,
		WithMFALogger(e.log),
		WithMFAMetrics(e.metrics),
		WithMFAAudit(e.auditSink(), subject),
		WithMFAClock(e.now),
		OnVerified(func(ctx context.Context) {
			if err := e.bus.Refresh(context.WithoutCancel(ctx)); err != nil {
				e.log.Debug("refresh after mfa failed", zap.Error(err))
			}
		}),
	)
	e.gateFor = subject
	return e.gate
}

func (e *Engine) resetGate() {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	if e.gate != nil {
		e.gate.Close()
		e.gate = nil
		e.gateFor = ""
	}
}

func (e *Engine) auditSink() AuditSink {
	if e.audit == nil {
		return NoOpSink{}
	}
	return e.audit
}

// SaveIntent remembers the protected target interrupted by step-up.
func (e *Engine) SaveIntent(ctx context.Context, targetID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.intents.Save(ctx, targetID)
}

// ResumeIntent returns and deletes the saved target if still valid.
func (e *Engine) ResumeIntent(ctx context.Context) (string, bool) {
	if e == nil {
		return "", false
	}
	return e.intents.Resume(ctx)
}

// onCommit drops the MFA gate once its subject is no longer signed in.
func (e *Engine) onCommit(s Snapshot) {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	if e.gate == nil {
		return
	}
	if s.User == nil || s.User.Identity.SubjectID != e.gateFor {
		e.gate.Close()
		e.gate = nil
		e.gateFor = ""
	}
}
