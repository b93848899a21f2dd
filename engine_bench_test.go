package goGate

import (
	"context"
	"testing"
)

func BenchmarkRefresh(b *testing.B) {
	f := newEngineFixture(b, identityWithRole("subject-1", map[string]any{"role": "teacher"}))
	f.start(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := f.engine.Refresh(ctx); err != nil {
			b.Fatalf("refresh: %v", err)
		}
	}
}

func BenchmarkSignIn(b *testing.B) {
	f := newEngineFixture(b, nil)
	f.start(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := f.engine.SignIn(ctx, "ana@school.test", "correct-horse"); err != nil {
			b.Fatalf("sign-in: %v", err)
		}
	}
}

func BenchmarkSignInLocked(b *testing.B) {
	f := newEngineFixture(b, nil)
	f.start(b)
	ctx := context.Background()

	f.provider.mu.Lock()
	for i := 0; i < 10; i++ {
		f.provider.signInErrs = append(f.provider.signInErrs, invalidCredentials())
	}
	f.provider.mu.Unlock()
	for i := 0; i < 10; i++ {
		_ = f.engine.SignIn(ctx, "ana@school.test", "wrong")
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := f.engine.SignIn(ctx, "ana@school.test", "wrong"); err == nil {
			b.Fatalf("expected lockout")
		}
	}
}
