package goGate

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultTiers = defaultConfig().Limiter.Tiers

func TestRecordFailureThresholds(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for n := 1; n <= 20; n++ {
		var s LoginAttemptState
		var lockedAt time.Time
		now := start
		for i := 1; i <= n; i++ {
			now = start.Add(time.Duration(i) * time.Second)
			s = RecordFailure(s, now, defaultTiers)
			if i == 10 || i == 15 {
				lockedAt = now
			}
		}

		assert.Equal(t, n, s.FailedCount)
		switch {
		case n < 10:
			assert.True(t, s.LockUntil.IsZero(), "n=%d", n)
		case n == 10:
			assert.Equal(t, lockedAt.Add(30*time.Second), s.LockUntil, "n=%d", n)
		case n == 15:
			assert.Equal(t, lockedAt.Add(300*time.Second), s.LockUntil, "n=%d", n)
		case n > 15:
			assert.Equal(t, now.Add(300*time.Second), s.LockUntil, "n=%d", n)
		default:
			assert.Equal(t, now.Add(30*time.Second), s.LockUntil, "n=%d", n)
		}
	}
}

func TestRecordFailureFifteenthSupersedesShorterLock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := LoginAttemptState{FailedCount: 14, LockUntil: now.Add(10 * time.Second)}
	s = RecordFailure(s, now, defaultTiers)
	assert.Equal(t, now.Add(300*time.Second), s.LockUntil)
}

func TestRecordFailureNeverShortensActiveLock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := LoginAttemptState{FailedCount: 16, LockUntil: now.Add(250 * time.Second)}
	s = RecordFailure(s, now.Add(-100*time.Second), []LockTier{{Threshold: 10, Duration: 30 * time.Second}})
	assert.Equal(t, now.Add(250*time.Second), s.LockUntil)
}

func TestRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := LoginAttemptState{LockUntil: now.Add(30 * time.Second)}
	assert.Equal(t, 30*time.Second, s.Remaining(now))
	assert.True(t, s.Locked(now.Add(29*time.Second)))
	assert.False(t, s.Locked(now.Add(30*time.Second)))
	assert.Zero(t, LoginAttemptState{}.Remaining(now))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestLoginLimiterPersistsAndClearsTogether(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	st := store.NewMemoryStore()
	l := NewLoginLimiter(st, defaultConfig().Limiter, nil).WithClock(clock.Now)

	for i := 0; i < 9; i++ {
		_, err := l.RecordFailure(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, l.Check(ctx))

	s, err := l.RecordFailure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, s.FailedCount)

	err = l.Check(ctx)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 30*time.Second, rl.Remaining)

	raw, err := st.Get(ctx, keyLoginLockUntil)
	require.NoError(t, err)
	assert.Equal(t, []byte(formatMillis(clock.Now().Add(30*time.Second))), raw)

	require.NoError(t, l.RecordSuccess(ctx))
	_, err = st.Get(ctx, keyLoginFailedAttempts)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, keyLoginLockUntil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	s, err = l.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoginAttemptState{}, s)
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestReloadPreservesRemainingLock(t *testing.T) {
	ctx := context.Background()

	backends := map[string]func(t *testing.T) (store.Store, func() store.Store){
		"memory": func(t *testing.T) (store.Store, func() store.Store) {
			st := store.NewMemoryStore()
			return st, func() store.Store { return st }
		},
		"badger": func(t *testing.T) (store.Store, func() store.Store) {
			dir := t.TempDir()
			first, err := store.OpenBadger(dir)
			require.NoError(t, err)
			return first, func() store.Store {
				require.NoError(t, first.Close())
				reopened, err := store.OpenBadger(dir)
				require.NoError(t, err)
				t.Cleanup(func() { _ = reopened.Close() })
				return reopened
			}
		},
		"redis": func(t *testing.T) (store.Store, func() store.Store) {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			st := store.NewRedisStore(client, "test:", "device-1")
			return st, func() store.Store {
				return store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", "device-1")
			}
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			st, reload := open(t)
			l := NewLoginLimiter(st, defaultConfig().Limiter, nil).WithClock(clock.Now)
			for i := 0; i < 10; i++ {
				_, err := l.RecordFailure(ctx)
				require.NoError(t, err)
			}
			clock.Advance(12 * time.Second)

			reloaded := NewLoginLimiter(reload(), defaultConfig().Limiter, nil).WithClock(clock.Now)
			err := reloaded.Check(ctx)
			var rl *RateLimitedError
			require.ErrorAs(t, err, &rl)
			assert.Equal(t, 18*time.Second, rl.Remaining)

			clock.Advance(18 * time.Second)
			assert.NoError(t, reloaded.Check(ctx))

			s, err := reloaded.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, 10, s.FailedCount, "counter survives lock expiry")
		})
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk gone")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("disk gone")
}
func (brokenStore) Delete(context.Context, ...string) error { return errors.New("disk gone") }
func (brokenStore) CompareAndDelete(context.Context, string, []byte) (bool, error) {
	return false, errors.New("disk gone")
}

func TestLoginLimiterFailsOpenOnUnreadableStore(t *testing.T) {
	l := NewLoginLimiter(brokenStore{}, defaultConfig().Limiter, nil)
	assert.NoError(t, l.Check(context.Background()))
	_, err := l.RecordFailure(context.Background())
	assert.Error(t, err)
}

func TestLoginLimiterCorruptValuesReadAsZero(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(ctx, keyLoginFailedAttempts, []byte("many"), 0))
	require.NoError(t, st.Set(ctx, keyLoginLockUntil, []byte("soon"), 0))

	s, err := NewLoginLimiter(st, defaultConfig().Limiter, nil).State(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoginAttemptState{}, s)
}

func TestLoginLimiterDisabled(t *testing.T) {
	cfg := defaultConfig().Limiter
	cfg.Enabled = false
	l := NewLoginLimiter(store.NewMemoryStore(), cfg, nil)
	for i := 0; i < 20; i++ {
		_, err := l.RecordFailure(context.Background())
		require.NoError(t, err)
	}
	assert.NoError(t, l.Check(context.Background()))
}
