package goGate

import "context"

// SessionProvider is the live session surface of the identity backend.
type SessionProvider interface {
	// GetVerifiedUser performs a server round trip. A locally valid but
	// server-revoked session must fail here.
	GetVerifiedUser(ctx context.Context) (*Identity, error)
	// ClearLocalSession drops cached tokens without contacting the server.
	ClearLocalSession(ctx context.Context) error
	// LocalSessionMarker returns an opaque value identifying the cached
	// session, or "" when none is cached.
	LocalSessionMarker(ctx context.Context) (string, error)
	// ClearLocalSessionIf drops cached tokens only while the cache still
	// holds the session marker names. An empty marker clears nothing.
	ClearLocalSessionIf(ctx context.Context, marker string) error
}

// CredentialProvider covers password flows.
type CredentialProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string, userMetadata map[string]any) error
	SignOut(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email string) error
}

// MFAProvider covers factor management for the current session.
type MFAProvider interface {
	AssuranceLevel(ctx context.Context) (AssuranceLevel, error)
	ListFactors(ctx context.Context) ([]MFAFactor, error)
	Enroll(ctx context.Context, friendlyName string) (*Enrollment, error)
	Unenroll(ctx context.Context, factorID string) error
	Challenge(ctx context.Context, factorID string) (string, error)
	Verify(ctx context.Context, factorID, challengeID, code string) error
}

// EventSource streams lifecycle events. The channel is closed when ctx is done.
type EventSource interface {
	Events(ctx context.Context) (<-chan AuthEvent, error)
}

// IdentityProvider is the full backend contract consumed by the engine.
type IdentityProvider interface {
	SessionProvider
	CredentialProvider
	MFAProvider
	EventSource
}
