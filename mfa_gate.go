package goGate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MFAState is a step of the step-up gate.
type MFAState string

const (
	MFAChecking  MFAState = "checking"
	MFAEnrolling MFAState = "enrolling"
	MFAVerifying MFAState = "verifying"
	MFAVerified  MFAState = "verified"
)

var mfaTransitions = map[MFAState][]MFAState{
	MFAChecking:  {MFAEnrolling, MFAVerifying, MFAVerified},
	MFAEnrolling: {MFAVerified},
	MFAVerifying: {MFAVerified},
}

func canTransition(from, to MFAState) bool {
	for _, next := range mfaTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const mfaCodeDigits = 6

// MFAGateOption customizes an MFAGate.
type MFAGateOption func(*MFAGate)

// WithMFALogger sets the gate logger.
func WithMFALogger(log *zap.Logger) MFAGateOption {
	return func(g *MFAGate) {
		if log != nil {
			g.log = log.Named("mfa")
		}
	}
}

// WithMFAMetrics sets the metrics sink.
func WithMFAMetrics(m *Metrics) MFAGateOption {
	return func(g *MFAGate) { g.metrics = m }
}

// WithMFAAudit sets the audit sink and the subject recorded on events.
func WithMFAAudit(sink AuditSink, subjectID string) MFAGateOption {
	return func(g *MFAGate) {
		if sink != nil {
			g.audit = sink
		}
		g.subjectID = subjectID
	}
}

// OnVerified registers fn to run once the gate reaches verified.
func OnVerified(fn func(ctx context.Context)) MFAGateOption {
	return func(g *MFAGate) { g.onVerified = fn }
}

// WithMFAClock overrides the countdown clock.
func WithMFAClock(now func() time.Time) MFAGateOption {
	return func(g *MFAGate) {
		if now != nil {
			g.now = now
		}
	}
}

// MFAGate blocks privileged roles until the session reaches AAL2.
//
// Only MFAVerified unblocks protected views. Every other state renders a
// blocking screen whose only exit is sign-out.
type MFAGate struct {
	provider   MFAProvider
	cfg        MFAConfig
	log        *zap.Logger
	metrics    *Metrics
	audit      AuditSink
	tracer     trace.Tracer
	onVerified func(ctx context.Context)
	subjectID  string
	now        func() time.Time

	initOnce sync.Once
	initErr  error
	submitMu sync.Mutex

	mu         sync.Mutex
	state      MFAState
	factorID   string
	enrollment *Enrollment
	lastErr    string
	countdown  *mfaCountdown
}

// NewMFAGate returns a gate in MFAChecking. Call Init to leave it.
func NewMFAGate(p MFAProvider, cfg MFAConfig, opts ...MFAGateOption) *MFAGate {
	g := &MFAGate{
		provider: p,
		cfg:      cfg,
		log:      zap.NewNop(),
		audit:    NoOpSink{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		state:    MFAChecking,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg.Period <= 0 {
		g.cfg.Period = 30 * time.Second
	}
	if g.cfg.Tick <= 0 {
		g.cfg.Tick = time.Second
	}
	g.countdown = newMFACountdown(g.cfg.Period, g.cfg.Tick, g.now)
	return g
}

// State returns the current step.
func (g *MFAGate) State() MFAState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Allows reports whether protected views may render.
func (g *MFAGate) Allows() bool {
	return g.State() == MFAVerified
}

// Enrollment returns the pending factor's secret and otpauth URI while
// enrolling, else nil.
func (g *MFAGate) Enrollment() *Enrollment {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enrollment == nil || g.state != MFAEnrolling {
		return nil
	}
	e := *g.enrollment
	return &e
}

// LastError returns the inline message for the last failed submission.
func (g *MFAGate) LastError() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Countdown delivers seconds left in the TOTP period every tick while
// enrolling or verifying. The channel is closed on verified or Close.
func (g *MFAGate) Countdown() <-chan int {
	return g.countdown.C()
}

// SecondsLeft returns the seconds left in the current TOTP period.
func (g *MFAGate) SecondsLeft() int {
	return g.countdown.SecondsLeft()
}

// Close stops the countdown.
func (g *MFAGate) Close() {
	g.countdown.Stop()
}

func (g *MFAGate) transitionLocked(to MFAState) error {
	if !canTransition(g.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMFATransition, g.state, to)
	}
	g.log.Debug("mfa transition", zap.String("from", string(g.state)), zap.String("to", string(to)))
	g.state = to
	return nil
}

// Init queries assurance and factors exactly once. AAL2 moves straight to
// verified, a verified factor to verifying; otherwise stale unverified
// factors are removed and a new one is enrolled. Later calls return the
// first call's result. A failed Init leaves the gate in checking; build a
// new gate to try again.
func (g *MFAGate) Init(ctx context.Context) error {
	g.initOnce.Do(func() {
		g.initErr = g.check(ctx)
	})
	return g.initErr
}

func (g *MFAGate) check(ctx context.Context) error {
	ctx, span := g.tracer.Start(ctx, "gogate.mfa.check")
	defer span.End()

	aal, err := g.provider.AssuranceLevel(ctx)
	if err != nil {
		return g.unavailable("assurance level", err)
	}
	span.SetAttributes(attribute.String("gogate.aal", string(aal)))
	if aal == AAL2 {
		g.mu.Lock()
		err := g.transitionLocked(MFAVerified)
		g.mu.Unlock()
		g.countdown.Stop()
		return err
	}

	factors, err := g.provider.ListFactors(ctx)
	if err != nil {
		return g.unavailable("list factors", err)
	}
	for _, f := range factors {
		if f.Status == FactorVerified {
			g.mu.Lock()
			g.factorID = f.ID
			err := g.transitionLocked(MFAVerifying)
			g.mu.Unlock()
			if err == nil {
				g.countdown.Start()
			}
			return err
		}
	}

	for _, f := range factors {
		if err := g.provider.Unenroll(ctx, f.ID); err != nil {
			g.log.Warn("unenroll stale factor failed", zap.String("factor_id", f.ID), zap.Error(err))
		}
	}

	enrollment, err := g.provider.Enroll(ctx, g.cfg.FriendlyName)
	if err != nil {
		return g.unavailable("enroll", err)
	}
	g.metrics.Inc(MetricMFAEnrolled)
	g.audit.Emit(ctx, AuditEvent{EventType: AuditMFAEnrolled, SubjectID: g.subjectID, Success: true})

	g.mu.Lock()
	g.factorID = enrollment.Factor.ID
	g.enrollment = enrollment
	err = g.transitionLocked(MFAEnrolling)
	g.mu.Unlock()
	if err == nil {
		g.countdown.Start()
	}
	return err
}

func (g *MFAGate) unavailable(op string, err error) error {
	g.log.Warn("mfa backend call failed", zap.String("op", op), zap.String("kind", KindOf(err).String()), zap.Error(err))
	return ErrMFAUnavailable
}

// Submit checks a 6-digit code against the current factor. A malformed
// code is rejected without a server call. A rejected code leaves the state
// unchanged, sets LastError and returns ErrMFAVerificationFailed.
func (g *MFAGate) Submit(ctx context.Context, code string) error {
	g.submitMu.Lock()
	defer g.submitMu.Unlock()

	g.mu.Lock()
	state, factorID := g.state, g.factorID
	g.mu.Unlock()

	switch state {
	case MFAVerified:
		return nil
	case MFAChecking:
		return fmt.Errorf("%w: submit while %s", ErrInvalidMFATransition, state)
	}

	if !validMFACode(code) {
		g.setLastError(ErrMFACodeFormat)
		return ErrMFACodeFormat
	}

	ctx, span := g.tracer.Start(ctx, "gogate.mfa.verify")
	defer span.End()
	span.SetAttributes(attribute.String("gogate.mfa.state", string(state)))

	challengeID, err := g.provider.Challenge(ctx, factorID)
	if err == nil {
		err = g.provider.Verify(ctx, factorID, challengeID, code)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return g.fail(ctx, err)
	}

	g.mu.Lock()
	err = g.transitionLocked(MFAVerified)
	g.enrollment = nil
	g.lastErr = ""
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.countdown.Stop()

	g.metrics.Inc(MetricMFAVerified)
	g.audit.Emit(ctx, AuditEvent{EventType: AuditMFAVerified, SubjectID: g.subjectID, Success: true})
	if g.onVerified != nil {
		g.onVerified(ctx)
	}
	return nil
}

func (g *MFAGate) fail(ctx context.Context, err error) error {
	kind := KindOf(err)
	g.log.Info("mfa verification failed", zap.String("kind", kind.String()), zap.Error(err))
	g.metrics.Inc(MetricMFAFailure)
	g.audit.Emit(ctx, AuditEvent{EventType: AuditMFAFailed, SubjectID: g.subjectID, Success: false, Error: kind.String()})

	switch kind {
	case KindUnavailable, KindAborted, KindUnknown:
		g.setLastError(ErrMFAUnavailable)
		return ErrMFAUnavailable
	}
	g.setLastError(ErrMFAVerificationFailed)
	return ErrMFAVerificationFailed
}

func (g *MFAGate) setLastError(err error) {
	g.mu.Lock()
	g.lastErr = UserMessage(err)
	g.mu.Unlock()
}

func validMFACode(code string) bool {
	if len(code) != mfaCodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
