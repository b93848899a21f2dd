package goGate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine   *Engine
	provider *fakeProvider
	profiles *fakeProfiles
	store    *store.MemoryStore
	clock    *fakeClock
}

func newEngineFixture(t testing.TB, id *Identity) *engineFixture {
	t.Helper()
	f := &engineFixture{
		provider: newFakeProvider(),
		profiles: newFakeProfiles(),
		clock:    newClock(),
	}
	f.store = store.NewMemoryStore().WithClock(f.clock.Now)
	f.provider.setIdentity(id)

	cfg := DefaultConfig()
	cfg.Resolver.Backoff = time.Millisecond
	cfg.MFA.Tick = 10 * time.Millisecond

	e, err := New().
		WithConfig(cfg).
		WithProvider(f.provider).
		WithProfileStore(f.profiles).
		WithStore(f.store).
		WithClock(f.clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	f.engine = e
	return f
}

func (f *engineFixture) start(t testing.TB) Snapshot {
	t.Helper()
	require.NoError(t, f.engine.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := f.engine.AwaitReady(ctx)
	require.NoError(t, err)
	return s
}

func (f *engineFixture) await(t *testing.T, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := f.engine.bus.Await(ctx, pred)
	require.NoError(t, err)
	return s
}

func invalidCredentials() error {
	return NewProviderError(KindInvalidCredentials, errors.New("invalid login credentials"))
}

func TestBuildRequiresProviderAndProfiles(t *testing.T) {
	_, err := New().WithProfileStore(newFakeProfiles()).Build()
	assert.Error(t, err)
	_, err = New().WithProvider(newFakeProvider()).Build()
	assert.Error(t, err)

	b := New().WithProvider(newFakeProvider()).WithProfileStore(newFakeProfiles())
	e, err := b.Build()
	require.NoError(t, err)
	defer e.Close()
	_, err = b.Build()
	assert.Error(t, err, "builder is single use")

	cfg := DefaultConfig()
	cfg.Limiter.Tiers = []LockTier{{Threshold: 15, Duration: time.Minute}, {Threshold: 10, Duration: time.Second}}
	_, err = New().WithConfig(cfg).WithProvider(newFakeProvider()).WithProfileStore(newFakeProfiles()).Build()
	assert.Error(t, err)
}

func TestEngineResolvesAndReconciles(t *testing.T) {
	id := identityWithRole("u1", map[string]any{"role": "teacher", "tenant_id": "school-1"})
	f := newEngineFixture(t, id)

	s := f.start(t)
	require.NotNil(t, s.User)
	assert.Equal(t, RoleTeacher, s.User.Role())
	assert.Equal(t, "school-1", s.User.Claims.TenantID)
	assert.True(t, s.User.MFAPending)
	assert.False(t, s.User.Degraded)
	assert.Equal(t, "student", s.User.Profile.Role, "profile role is display only")

	stored, err := f.profiles.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "school-1", stored.TenantID)
}

func TestEngineNoSessionResolvesSignedOut(t *testing.T) {
	f := newEngineFixture(t, nil)
	assert.Equal(t, DecisionLoading, f.engine.Authorize())

	s := f.start(t)
	assert.Nil(t, s.User)
	assert.Equal(t, DecisionSignedOut, f.engine.Authorize())
	assert.Nil(t, f.engine.MFAGate())
}

func TestEngineDegradedProfileStillSignsIn(t *testing.T) {
	f := newEngineFixture(t, identityWithRole("u1", nil))
	f.profiles.getErr = errors.New("db down")

	s := f.start(t)
	require.NotNil(t, s.User)
	assert.True(t, s.User.Degraded)
	assert.Equal(t, DecisionAllowed, f.engine.Authorize(RoleStudent))
}

func TestAuthorizeDecisions(t *testing.T) {
	cases := []struct {
		name  string
		role  string
		aal   AssuranceLevel
		roles []Role
		want  Decision
	}{
		{"student any", "student", AAL1, nil, DecisionAllowed},
		{"student listed", "student", AAL1, []Role{RoleStudent, RoleTeacher}, DecisionAllowed},
		{"student forbidden", "student", AAL1, []Role{RoleAdmin}, DecisionForbidden},
		{"teacher aal1", "teacher", AAL1, []Role{RoleTeacher}, DecisionMFARequired},
		{"teacher aal2", "teacher", AAL2, []Role{RoleTeacher}, DecisionAllowed},
		{"admin wrong role aal1", "admin", AAL1, []Role{RoleDeveloper}, DecisionForbidden},
		{"developer any aal1", "developer", AAL1, nil, DecisionMFARequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := identityWithRole("u1", map[string]any{"role": tc.role})
			id.Assurance = tc.aal
			f := newEngineFixture(t, id)
			f.start(t)
			assert.Equal(t, tc.want, f.engine.Authorize(tc.roles...))
		})
	}
}

func TestAuthorizeSnapshotPairsDecisionWithUser(t *testing.T) {
	f := newEngineFixture(t, identityWithRole("u1", nil))
	f.start(t)

	student := &ResolvedUser{Identity: Identity{SubjectID: "s"}, Claims: AuthorityClaims{Role: RoleStudent}}
	admin := &ResolvedUser{Identity: Identity{SubjectID: "a"}, Claims: AuthorityClaims{Role: RoleAdmin}}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			u := student
			if i%2 == 1 {
				u = admin
			}
			f.engine.bus.mu.Lock()
			f.engine.bus.commitLocked(f.engine.bus.committed+1, u)
			f.engine.bus.mu.Unlock()
		}
	}()

	for i := 0; i < 5000; i++ {
		decision, u := f.engine.AuthorizeSnapshot(RoleStudent)
		switch decision {
		case DecisionAllowed:
			require.Same(t, student, u)
		case DecisionForbidden:
			require.Same(t, admin, u)
		default:
			t.Fatalf("unexpected decision %s", decision)
		}
	}
	close(stop)
	<-done

	decision, u := (*Engine)(nil).AuthorizeSnapshot()
	assert.Equal(t, DecisionSignedOut, decision)
	assert.Nil(t, u)
}

func TestAuthorizeIgnoresProfileRole(t *testing.T) {
	f := newEngineFixture(t, identityWithRole("u1", nil))
	require.NoError(t, f.profiles.CreateProfile(context.Background(), &Profile{SubjectID: "u1", Role: "admin"}))

	s := f.start(t)
	assert.Equal(t, RoleStudent, s.User.Role())
	assert.Equal(t, DecisionForbidden, f.engine.Authorize(RoleAdmin))
	assert.Equal(t, uint64(0), f.engine.Metrics().Value(MetricPrivilegeMismatch), "metrics disabled by default")
}

func TestSignInClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"invalid", invalidCredentials(), ErrInvalidCredentials},
		{"validation", NewProviderError(KindValidation, errors.New("email malformed")), ErrValidation},
		{"unavailable", NewProviderError(KindUnavailable, errors.New("502")), ErrSignInUnavailable},
		{"unknown", errors.New("dns"), ErrSignInUnavailable},
		{"rate limited", &ProviderError{Kind: KindRateLimited, RetryAfter: 45 * time.Second}, ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t, nil)
			f.provider.signInErrs = []error{tc.err}
			err := f.engine.SignIn(context.Background(), "a@example.com", "pw")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSignInLocksOnTenthFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	for i := 1; i <= 9; i++ {
		f.provider.signInErrs = []error{invalidCredentials()}
		assert.ErrorIs(t, f.engine.SignIn(ctx, "a@example.com", "bad"), ErrInvalidCredentials, "attempt %d", i)
	}

	f.provider.signInErrs = []error{invalidCredentials()}
	err := f.engine.SignIn(ctx, "a@example.com", "bad")
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30, rl.Seconds())
	assert.Equal(t, 10, f.provider.signInCalls)

	f.clock.Advance(10 * time.Second)
	err = f.engine.SignIn(ctx, "a@example.com", "right")
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 20, rl.Seconds())
	assert.Equal(t, 10, f.provider.signInCalls, "locked attempts never reach the provider")

	f.clock.Advance(21 * time.Second)
	require.NoError(t, f.engine.SignIn(ctx, "a@example.com", "right"))
	state, err := f.engine.LoginState(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoginAttemptState{}, state)
}

func TestSignInProviderRateLimitTakesStricterTime(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	f.provider.signInErrs = []error{&ProviderError{Kind: KindRateLimited, RetryAfter: 5 * time.Second}}
	err := f.engine.SignIn(ctx, "a@example.com", "pw")
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 5*time.Second, rl.Remaining)

	state, err := f.engine.LoginState(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.FailedCount, "provider rate limits are not counted locally")

	// An expired local lock never extends the provider's answer.
	require.NoError(t, f.store.Set(ctx, keyLoginFailedAttempts, []byte("12"), 0))
	require.NoError(t, f.store.Set(ctx, keyLoginLockUntil, []byte(formatMillis(f.clock.Now().Add(-time.Second))), 0))
	f.provider.signInErrs = []error{&ProviderError{Kind: KindRateLimited, RetryAfter: 12 * time.Second}}
	err = f.engine.SignIn(ctx, "a@example.com", "pw")
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 12*time.Second, rl.Remaining)
}

func TestSignUpNeverCountedByLimiter(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	f.provider.signUpErr = NewProviderError(KindValidation, errors.New("password too short"))
	for i := 0; i < 20; i++ {
		assert.ErrorIs(t, f.engine.SignUp(ctx, "new@example.com", "x", "New"), ErrValidation)
	}
	state, err := f.engine.LoginState(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.FailedCount)
	assert.NoError(t, f.engine.limiter.Check(ctx))

	f.provider.signUpErr = &ProviderError{Kind: KindRateLimited, RetryAfter: time.Minute}
	assert.ErrorIs(t, f.engine.SignUp(ctx, "new@example.com", "longenough", ""), ErrRateLimited)

	f.provider.signUpErr = errors.New("smtp")
	assert.ErrorIs(t, f.engine.SignUp(ctx, "new@example.com", "longenough", ""), ErrSignUpUnavailable)

	f.provider.signUpErr = nil
	assert.NoError(t, f.engine.SignUp(ctx, "new@example.com", "longenough", ""))
}

func TestPasswordResetAlwaysSucceeds(t *testing.T) {
	f := newEngineFixture(t, nil)
	for _, err := range []error{nil, NewProviderError(KindValidation, errors.New("user not found")), errors.New("network")} {
		f.provider.resetErr = err
		assert.NoError(t, f.engine.RequestPasswordReset(context.Background(), "who@example.com"))
	}
	assert.Equal(t, 3, f.provider.resetCalls)
}

func TestSignOutClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, identityWithRole("u1", map[string]any{"role": "admin"}))
	f.start(t)

	require.NoError(t, f.engine.SaveIntent(ctx, "grades"))
	gate := f.engine.MFAGate()
	require.NotNil(t, gate)

	f.provider.signOutErr = NewProviderError(KindUnavailable, errors.New("offline"))
	require.NoError(t, f.engine.SignOut(ctx))

	assert.Nil(t, f.engine.CurrentUser())
	assert.Equal(t, DecisionSignedOut, f.engine.Authorize())
	_, ok := f.engine.ResumeIntent(ctx)
	assert.False(t, ok)
	assert.Nil(t, f.engine.MFAGate())
	_, clears := f.provider.counts()
	assert.GreaterOrEqual(t, clears, 1)

	_, open := <-gate.Countdown()
	assert.False(t, open, "old gate is closed")
}

func TestEngineStepUpFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, identityWithRole("u1", map[string]any{"role": "teacher"}))
	f.start(t)
	assert.Equal(t, DecisionMFARequired, f.engine.Authorize(RoleTeacher))

	require.NoError(t, f.engine.SaveIntent(ctx, "gradebook"))

	gate := f.engine.MFAGate()
	require.NotNil(t, gate)
	assert.Same(t, gate, f.engine.MFAGate())
	require.NoError(t, gate.Init(ctx))
	assert.Equal(t, MFAEnrolling, gate.State())

	require.NoError(t, gate.Submit(ctx, "123456"))
	f.await(t, func(s Snapshot) bool { return s.User != nil && !s.User.MFAPending })
	assert.Equal(t, DecisionAllowed, f.engine.Authorize(RoleTeacher))
	assert.Same(t, gate, f.engine.MFAGate(), "the verified gate stays available")
	assert.Nil(t, f.engine.NewMFAGate())

	target, ok := f.engine.ResumeIntent(ctx)
	assert.True(t, ok)
	assert.Equal(t, "gradebook", target)
}

func TestEngineNoGateWithoutStepUp(t *testing.T) {
	f := newEngineFixture(t, identityWithRole("u1", nil))
	f.start(t)
	require.False(t, f.engine.CurrentUser().MFAPending)

	assert.Nil(t, f.engine.MFAGate())
	assert.Nil(t, f.engine.NewMFAGate())

	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	assert.Zero(t, f.provider.enrollCalls, "a student must never enroll a factor")
}

func TestEngineNewMFAGateReplacesFailedGate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, identityWithRole("u1", map[string]any{"role": "developer"}))
	f.start(t)

	f.provider.aalErr = errors.New("timeout")
	first := f.engine.MFAGate()
	assert.ErrorIs(t, first.Init(ctx), ErrMFAUnavailable)

	f.provider.aalErr = nil
	second := f.engine.NewMFAGate()
	assert.NotSame(t, first, second)
	require.NoError(t, second.Init(ctx))
	assert.Equal(t, MFAEnrolling, second.State())
}

func TestEngineRevokedSessionEmitsSessionCleared(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolver.Backoff = time.Millisecond
	p := newFakeProvider()
	p.setIdentity(identityWithRole("u1", nil))
	sink := NewChannelSink(16)
	e, err := New().WithConfig(cfg).WithProvider(p).WithProfileStore(newFakeProfiles()).WithAuditSink(sink).Build()
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = e.AwaitReady(ctx)
	require.NoError(t, err)

	p.mu.Lock()
	p.getErrs = []error{NewProviderError(KindUnauthorized, errors.New("session revoked"))}
	p.mu.Unlock()
	require.NoError(t, e.Refresh(ctx))

	_, err = e.bus.Await(ctx, func(s Snapshot) bool { return s.User == nil })
	require.NoError(t, err)

	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == AuditSessionCleared {
				assert.Equal(t, "u1", ev.SubjectID)
				return
			}
		case <-ctx.Done():
			t.Fatal("expected session_cleared audit event")
		}
	}
}

func TestSecurityReport(t *testing.T) {
	f := newEngineFixture(t, nil)
	r := f.engine.SecurityReport()

	assert.True(t, r.LiveSessionCheck)
	assert.False(t, r.LocalLimiterAuthoritative)
	assert.True(t, r.ServerSideLimitingRequired)
	assert.Equal(t, "app_metadata", r.PrivilegeSource)
	assert.Equal(t, []Role{RoleTeacher, RoleAdmin, RoleDeveloper}, r.StepUpRoles)
	assert.Len(t, r.LockTiers, 2)
	assert.Equal(t, 5*time.Minute, r.IntentWindow)
	require.NotEmpty(t, r.Notes)
	assert.Contains(t, r.Notes[0], "not a security boundary")

	var nilEngine *Engine
	assert.Equal(t, SecurityReport{}, nilEngine.SecurityReport())
}

func TestNilEngineIsSafe(t *testing.T) {
	var e *Engine
	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineNotReady)
	assert.ErrorIs(t, e.SignIn(context.Background(), "a", "b"), ErrEngineNotReady)
	assert.NoError(t, e.RequestPasswordReset(context.Background(), "a"))
	assert.Equal(t, Snapshot{}, e.Snapshot())
	e.Close()
}
