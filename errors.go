package goGate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the backend rejects an email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited matches every *RateLimitedError.
	ErrRateLimited = errors.New("sign-in rate limited")
	// ErrSessionInvalid marks a missing, expired or revoked session. It is
	// absorbed by the resolver and never shown to the user.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrProviderAborted marks a backend call cancelled by a concurrent identity operation.
	ErrProviderAborted = errors.New("provider operation aborted")
	// ErrMFAVerificationFailed is returned when a well-formed code is rejected.
	ErrMFAVerificationFailed = errors.New("mfa verification failed")
	// ErrMFACodeFormat is returned for codes that are not exactly six digits.
	ErrMFACodeFormat = errors.New("mfa code must be 6 digits")
	// ErrProfileWriteFailed is logged only; sign-in proceeds with a degraded profile.
	ErrProfileWriteFailed = errors.New("profile write failed")
	// ErrProfileNotFound is returned by a ProfileStore when no record exists.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrValidation is returned when the backend rejects input shape.
	ErrValidation = errors.New("validation failed")
	// ErrSignInUnavailable covers every other sign-in failure.
	ErrSignInUnavailable = errors.New("sign-in unavailable")
	// ErrSignUpUnavailable covers non-validation sign-up failures.
	ErrSignUpUnavailable = errors.New("sign-up unavailable")
	// ErrInvalidMFATransition is returned when the gate is asked to move along an edge it does not have.
	ErrInvalidMFATransition = errors.New("invalid mfa transition")
	// ErrMFAUnavailable is returned when the gate cannot reach the backend.
	ErrMFAUnavailable = errors.New("mfa unavailable")
	// ErrEngineNotReady is returned by operations on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError carries the remaining lockout time.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("sign-in rate limited: retry in %ds", e.Seconds())
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Seconds rounds the remaining time up to whole seconds.
func (e *RateLimitedError) Seconds() int {
	if e == nil || e.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(e.Remaining.Seconds()))
}

// ProviderErrorKind classifies a backend failure.
type ProviderErrorKind int

const (
	KindUnknown ProviderErrorKind = iota
	KindInvalidCredentials
	KindRateLimited
	KindValidation
	KindAborted
	KindUnauthorized
	KindUnavailable
)

func (k ProviderErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindAborted:
		return "aborted"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ProviderError is the typed failure every provider adapter returns. Err
// may hold raw backend text and is never shown to the user.
type ProviderError struct {
	Kind       ProviderErrorKind
	RetryAfter time.Duration
	Err        error
}

// NewProviderError wraps err with kind.
func NewProviderError(kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "provider: " + e.Kind.String()
	}
	return "provider: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is maps kinds onto the package sentinels.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Kind == KindInvalidCredentials
	case ErrProviderAborted:
		return e.Kind == KindAborted
	case ErrSessionInvalid:
		return e.Kind == KindUnauthorized
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

// KindOf returns the ProviderErrorKind carried by err, or KindUnknown.
func KindOf(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// UserMessage maps err to generic user-facing text. Session failures map to
// the empty string because they are never shown.
func UserMessage(err error) string {
	var rl *RateLimitedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rl):
		return fmt.Sprintf("Too many attempts. Please wait %ds and try again.", rl.Seconds())
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Please wait and try again."
	case errors.Is(err, ErrInvalidCredentials):
		return "Incorrect email or password."
	case errors.Is(err, ErrMFACodeFormat):
		return "Enter the 6-digit code from your authenticator app."
	case errors.Is(err, ErrMFAVerificationFailed):
		return "That code didn't work. Check your authenticator app and try again."
	case errors.Is(err, ErrValidation):
		return "Please check the details you entered."
	case errors.Is(err, ErrSessionInvalid):
		return ""
	default:
		return "Something went wrong. Please try again."
	}
}
