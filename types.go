package goGate

import (
	"time"
)

// Role is the closed set of privilege levels. Values outside this set never
// leave the role authority.
type Role string

const (
	RoleStudent   Role = "student"
	RoleTeacher   Role = "teacher"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
)

// ParseRole narrows a loosely-typed claim value to a Role.
func ParseRole(v any) (Role, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	r := Role(s)
	return r, r.IsValid()
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin, RoleDeveloper:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// AssuranceLevel is the strength of the current authentication.
type AssuranceLevel string

const (
	AAL1 AssuranceLevel = "aal1"
	AAL2 AssuranceLevel = "aal2"
)

// Identity is the server-verified principal behind a session.
//
// AppMetadata is issued by the backend and cannot be edited by the user.
// UserMetadata is user-editable and is only ever used for presentation.
type Identity struct {
	SubjectID    string
	Email        string
	DisplayName  string
	AvatarRef    string
	Assurance    AssuranceLevel
	AppMetadata  map[string]any
	UserMetadata map[string]any
}

// AuthorityClaims are the privilege attributes derived from server claims.
type AuthorityClaims struct {
	Role     Role
	TenantID string
}

// Profile is the mutable application record keyed by subject. Role is kept
// for display and staff tooling; it is never read for a privilege decision.
type Profile struct {
	SubjectID          string    `json:"subject_id" bson:"_id" db:"subject_id"`
	DisplayName        string    `json:"display_name" bson:"display_name" db:"display_name"`
	AvatarRef          string    `json:"avatar_ref,omitempty" bson:"avatar_ref,omitempty" db:"avatar_ref"`
	ClassName          string    `json:"class_name,omitempty" bson:"class_name,omitempty" db:"class_name"`
	Role               string    `json:"role" bson:"role" db:"role"`
	TenantID           string    `json:"tenant_id,omitempty" bson:"tenant_id,omitempty" db:"tenant_id"`
	XP                 int64     `json:"xp" bson:"xp" db:"xp"`
	Level              int       `json:"level" bson:"level" db:"level"`
	Streak             int       `json:"streak" bson:"streak" db:"streak"`
	MustChangePassword bool      `json:"must_change_password" bson:"must_change_password" db:"must_change_password"`
	ChatLocked         bool      `json:"chat_locked" bson:"chat_locked" db:"chat_locked"`
	LastActiveAt       time.Time `json:"last_active_at" bson:"last_active_at" db:"last_active_at"`
	CreatedAt          time.Time `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// ResolvedUser is the render-ready merge of identity, authority, profile and
// step-up state. It is replaced wholesale on every auth event and never
// patched in place.
type ResolvedUser struct {
	Identity   Identity
	Claims     AuthorityClaims
	Profile    Profile
	MFAPending bool
	// Degraded is set when the profile could not be persisted.
	Degraded bool
}

// Role is shorthand for u.Claims.Role.
func (u *ResolvedUser) Role() Role {
	if u == nil {
		return ""
	}
	return u.Claims.Role
}

// FactorStatus is the enrollment status of an MFA factor.
type FactorStatus string

const (
	FactorVerified   FactorStatus = "verified"
	FactorUnverified FactorStatus = "unverified"
)

// MFAFactor is a second factor registered with the backend.
type MFAFactor struct {
	ID           string
	FriendlyName string
	Status       FactorStatus
}

// Enrollment is a freshly provisioned factor awaiting its first code.
type Enrollment struct {
	Factor MFAFactor
	Secret string
	URI    string
}

// LoginAttemptState is the durable, per-device failed sign-in record.
type LoginAttemptState struct {
	FailedCount int
	LockUntil   time.Time
}

// AuthEventKind names a provider lifecycle event.
type AuthEventKind string

const (
	EventSignedIn       AuthEventKind = "signed_in"
	EventTokenRefreshed AuthEventKind = "token_refreshed"
	EventSignedOut      AuthEventKind = "signed_out"
)

// AuthEvent is one entry of the provider's lifecycle stream.
type AuthEvent struct {
	Kind AuthEventKind `json:"kind"`
	At   time.Time     `json:"at"`
}

// Snapshot is the atomically published identity signal. User is nil when no
// verified identity exists. Loading is true until the first resolution has
// committed.
type Snapshot struct {
	User    *ResolvedUser
	Loading bool
	Seq     uint64
}

// Decision is the outcome of an access check for a protected view.
type Decision string

const (
	DecisionAllowed     Decision = "allowed"
	DecisionLoading     Decision = "loading"
	DecisionSignedOut   Decision = "signed_out"
	DecisionMFARequired Decision = "mfa_required"
	DecisionForbidden   Decision = "forbidden"
)
