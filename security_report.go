package goGate

import "time"

// SecurityReport summarizes the effective access-control posture.
type SecurityReport struct {
	LiveSessionCheck   bool
	ResolverMaxRetries int
	ResolverBackoff    time.Duration

	LocalLimiterEnabled bool
	LockTiers           []LockTier
	// LocalLimiterAuthoritative is always false. The local limiter is a UX
	// deterrent; clearing device storage bypasses it.
	LocalLimiterAuthoritative bool
	// ServerSideLimitingRequired is always true: the identity backend must
	// enforce its own sign-in rate limits.
	ServerSideLimitingRequired bool

	StepUpRoles     []Role
	PrivilegeSource string
	IntentWindow    time.Duration

	AuditEnabled   bool
	MetricsEnabled bool
	Notes          []string
}

const limiterNote = "The local login limiter is a UX deterrent, not a security boundary. " +
	"It is bypassed by clearing device storage or switching device; " +
	"the identity provider's server-side rate limiting is the authoritative defense."

// SecurityReport describes the configured posture, including the explicit
// statement that the local login limiter is not a security boundary.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		LiveSessionCheck:           true,
		ResolverMaxRetries:         e.config.Resolver.MaxRetries,
		ResolverBackoff:            e.config.Resolver.Backoff,
		LocalLimiterEnabled:        e.config.Limiter.Enabled,
		LockTiers:                  append([]LockTier(nil), e.config.Limiter.Tiers...),
		LocalLimiterAuthoritative:  false,
		ServerSideLimitingRequired: true,
		StepUpRoles:                []Role{RoleTeacher, RoleAdmin, RoleDeveloper},
		PrivilegeSource:            "app_metadata",
		IntentWindow:               e.config.Intent.Window,
		AuditEnabled:               e.config.Audit.Enabled,
		MetricsEnabled:             e.config.Metrics.Enabled,
		Notes:                      []string{limiterNote},
	}
}
