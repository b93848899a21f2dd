package profilestore

import (
	"context"
	"errors"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func sampleProfile(id string) *goGate.Profile {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &goGate.Profile{
		SubjectID:    id,
		DisplayName:  "Ana",
		Role:         "student",
		TenantID:     "school-1",
		XP:           120,
		Level:        2,
		Streak:       3,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func runContract(t *testing.T, store goGate.ProfileStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.GetProfile(ctx, "u1"); !errors.Is(err, goGate.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if err := store.UpdateProfile(ctx, sampleProfile("u1")); !errors.Is(err, goGate.ErrProfileNotFound) {
		t.Fatalf("update of missing profile: expected ErrProfileNotFound, got %v", err)
	}

	p := sampleProfile("u1")
	if err := store.CreateProfile(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateProfile(ctx, p); !errors.Is(err, ErrConflict) {
		t.Fatalf("second create: expected ErrConflict, got %v", err)
	}

	got, err := store.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != "Ana" || got.TenantID != "school-1" || got.XP != 120 {
		t.Fatalf("unexpected profile: %+v", got)
	}
	if !got.LastActiveAt.Equal(p.LastActiveAt) {
		t.Fatalf("last_active_at mismatch: %v vs %v", got.LastActiveAt, p.LastActiveAt)
	}

	later := p.LastActiveAt.Add(time.Hour)
	got.LastActiveAt = later
	got.UpdatedAt = later
	if err := store.UpdateProfile(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := store.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if !again.LastActiveAt.Equal(later) {
		t.Fatalf("expected last_active_at %v, got %v", later, again.LastActiveAt)
	}
	if again.Role != "student" {
		t.Fatalf("role changed on update: %q", again.Role)
	}
}

func TestMemoryContract(t *testing.T) {
	runContract(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.CreateProfile(ctx, sampleProfile("u1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	p, _ := m.GetProfile(ctx, "u1")
	p.Role = "admin"
	again, _ := m.GetProfile(ctx, "u1")
	if again.Role != "student" {
		t.Fatalf("mutating a returned profile leaked into the store")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 profile, got %d", m.Len())
	}
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory().GetProfile(ctx, "u1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedisContract(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	runContract(t, NewRedis(rdb, "gate:"))

	if !mr.Exists("gate:profile:u1") {
		t.Fatalf("expected profile under prefixed key, keys=%v", mr.Keys())
	}
}

func TestRedisCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if err := mr.Set("profile:u1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := NewRedis(rdb, "").GetProfile(context.Background(), "u1")
	if err == nil || errors.Is(err, goGate.ErrProfileNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedis(rdb, "").GetProfile(context.Background(), "u1")
	if err == nil || errors.Is(err, goGate.ErrProfileNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
