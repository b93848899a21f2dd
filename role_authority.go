package goGate

import "strings"

// Claim keys read from server-issued app metadata.
const (
	claimRole     = "role"
	claimIsAdmin  = "is_admin"
	claimTenantID = "tenant_id"
)

// RoleFor derives the role from id's server-issued app metadata. A missing
// or unknown role falls back to the is_admin flag, then to RoleStudent.
// Profile data and user metadata are never consulted.
func RoleFor(id *Identity) Role {
	if id == nil {
		return RoleStudent
	}
	if raw, ok := id.AppMetadata[claimRole].(string); ok {
		if role, valid := ParseRole(strings.ToLower(strings.TrimSpace(raw))); valid {
			return role
		}
	}
	if isAdmin, ok := id.AppMetadata[claimIsAdmin].(bool); ok && isAdmin {
		return RoleAdmin
	}
	return RoleStudent
}

// TenantFor prefers the server-issued tenant and falls back to the profile.
// Tenant is scoping, not privilege, so the fallback cannot escalate.
func TenantFor(id *Identity, profile *Profile) string {
	if id != nil {
		if raw, ok := id.AppMetadata[claimTenantID].(string); ok {
			if tenant := strings.TrimSpace(raw); tenant != "" {
				return tenant
			}
		}
	}
	if profile != nil {
		return strings.TrimSpace(profile.TenantID)
	}
	return ""
}

// ClaimsFor combines RoleFor and TenantFor.
func ClaimsFor(id *Identity, profile *Profile) AuthorityClaims {
	return AuthorityClaims{
		Role:     RoleFor(id),
		TenantID: TenantFor(id, profile),
	}
}

// IsPrivileged reports whether r must pass step-up verification.
func IsPrivileged(r Role) bool {
	switch r {
	case RoleTeacher, RoleAdmin, RoleDeveloper:
		return true
	}
	return false
}

// RequiresStepUp reports whether role is privileged and aal is below AAL2.
func RequiresStepUp(role Role, aal AssuranceLevel) bool {
	return IsPrivileged(role) && aal != AAL2
}
