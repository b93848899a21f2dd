package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test:", "device-1"), mr
}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	bs, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	rs, _ := newTestRedisStore(t)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": bs,
		"redis":  rs,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
			require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

			got, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), got)

			require.NoError(t, s.Set(ctx, "a", []byte("11"), 0))
			got, err = s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("11"), got)

			require.NoError(t, s.Delete(ctx, "a", "b"))
			_, err = s.Get(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Get(ctx, "b")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Delete(ctx, "never-set"))
		})
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in, 0))
	in[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	got[1] = 'z'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestRedisStoreTTLAndScoping(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "loginLockUntil", []byte("123"), 30*time.Second))
	assert.True(t, mr.Exists("test:device-1:loginLockUntil"))

	mr.FastForward(31 * time.Second)
	_, err := s.Get(ctx, "loginLockUntil")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := NewRedisStore(rdb, "", "device-1")
	mr.Close()

	_, err = s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "loginFailedAttempts", []byte("10"), 0))
	require.NoError(t, first.Close())

	second, err := OpenBadger(dir)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "loginFailedAttempts")
	require.NoError(t, err)
	assert.Equal(t, []byte("10"), got)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	assert.ErrorIs(t, s.Set(ctx, "k", nil, 0), context.Canceled)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			deleted, err := s.CompareAndDelete(ctx, "session", []byte("old"))
			require.NoError(t, err)
			assert.False(t, deleted, "absent key")

			require.NoError(t, s.Set(ctx, "session", []byte("new"), 0))
			deleted, err = s.CompareAndDelete(ctx, "session", []byte("old"))
			require.NoError(t, err)
			assert.False(t, deleted)
			got, err := s.Get(ctx, "session")
			require.NoError(t, err)
			assert.Equal(t, []byte("new"), got, "a newer value survives")

			deleted, err = s.CompareAndDelete(ctx, "session", []byte("new"))
			require.NoError(t, err)
			assert.True(t, deleted)
			_, err = s.Get(ctx, "session")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
