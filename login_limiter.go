package goGate

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/goGate/store"
	"go.uber.org/zap"
)

// Durable keys. They are always written and cleared together.
const (
	keyLoginFailedAttempts = "loginFailedAttempts"
	keyLoginLockUntil      = "loginLockUntil"
)

// Remaining returns how long sign-in stays locked at now, or zero.
func (s LoginAttemptState) Remaining(now time.Time) time.Duration {
	if s.LockUntil.IsZero() || !now.Before(s.LockUntil) {
		return 0
	}
	return s.LockUntil.Sub(now)
}

// Locked reports whether now falls inside the lock window.
func (s LoginAttemptState) Locked(now time.Time) bool {
	return s.Remaining(now) > 0
}

// RecordFailure returns s after one more failed password sign-in at now.
// The highest tier whose threshold is reached sets the lock; a new lock
// never shortens one that is still active. tiers must be ascending.
func RecordFailure(s LoginAttemptState, now time.Time, tiers []LockTier) LoginAttemptState {
	s.FailedCount++

	var lock time.Duration
	for _, tier := range tiers {
		if s.FailedCount >= tier.Threshold {
			lock = tier.Duration
		}
	}
	if lock > 0 {
		until := now.Add(lock)
		if until.After(s.LockUntil) {
			s.LockUntil = until
		}
	}
	return s
}

// LoginLimiter throttles repeated failed sign-ins on this device with
// escalating lockouts persisted in a store.Store, so a reload does not
// reset them.
//
// It is a UX deterrent, not a security boundary. Clearing local storage or
// switching device bypasses it; the identity backend's server-side
// limiting is the real defense.
type LoginLimiter struct {
	store   store.Store
	enabled bool
	tiers   []LockTier
	now     func() time.Time
	log     *zap.Logger
}

// NewLoginLimiter binds cfg to st.
func NewLoginLimiter(st store.Store, cfg LimiterConfig, log *zap.Logger) *LoginLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoginLimiter{
		store:   st,
		enabled: cfg.Enabled,
		tiers:   append([]LockTier(nil), cfg.Tiers...),
		now:     time.Now,
		log:     log.Named("limiter"),
	}
}

// WithClock overrides the wall clock.
func (l *LoginLimiter) WithClock(now func() time.Time) *LoginLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

// State reads the persisted attempt state. Missing or unreadable values
// read as zero.
func (l *LoginLimiter) State(ctx context.Context) (LoginAttemptState, error) {
	var s LoginAttemptState

	raw, err := l.store.Get(ctx, keyLoginFailedAttempts)
	switch {
	case err == nil:
		if n, convErr := strconv.Atoi(string(raw)); convErr == nil && n > 0 {
			s.FailedCount = n
		}
	case !errors.Is(err, store.ErrNotFound):
		return LoginAttemptState{}, err
	}

	raw, err = l.store.Get(ctx, keyLoginLockUntil)
	switch {
	case err == nil:
		if ms, convErr := strconv.ParseInt(string(raw), 10, 64); convErr == nil && ms > 0 {
			s.LockUntil = time.UnixMilli(ms)
		}
	case !errors.Is(err, store.ErrNotFound):
		return LoginAttemptState{}, err
	}
	return s, nil
}

// Check returns a *RateLimitedError while the device is locked. It never
// contacts the identity backend. An unreadable store lets the attempt
// through.
func (l *LoginLimiter) Check(ctx context.Context) error {
	if l == nil || !l.enabled {
		return nil
	}
	s, err := l.State(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.log.Warn("login state unreadable", zap.Error(err))
		return nil
	}
	if remaining := s.Remaining(l.now()); remaining > 0 {
		return &RateLimitedError{Remaining: remaining}
	}
	return nil
}

// RecordFailure counts one failed password sign-in and persists the result.
func (l *LoginLimiter) RecordFailure(ctx context.Context) (LoginAttemptState, error) {
	if l == nil || !l.enabled {
		return LoginAttemptState{}, nil
	}
	s, err := l.State(ctx)
	if err != nil {
		return LoginAttemptState{}, err
	}
	s = RecordFailure(s, l.now(), l.tiers)
	return s, l.save(ctx, s)
}

// RecordSuccess clears the counter and lock unconditionally.
func (l *LoginLimiter) RecordSuccess(ctx context.Context) error {
	if l == nil || !l.enabled {
		return nil
	}
	return l.store.Delete(ctx, keyLoginFailedAttempts, keyLoginLockUntil)
}

func (l *LoginLimiter) save(ctx context.Context, s LoginAttemptState) error {
	if err := l.store.Set(ctx, keyLoginFailedAttempts, []byte(strconv.Itoa(s.FailedCount)), 0); err != nil {
		return err
	}
	var until int64
	if !s.LockUntil.IsZero() {
		until = s.LockUntil.UnixMilli()
	}
	return l.store.Set(ctx, keyLoginLockUntil, []byte(strconv.FormatInt(until, 10)), 0)
}
