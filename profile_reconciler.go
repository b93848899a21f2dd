package goGate

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProfileStore persists application profiles. GetProfile returns
// ErrProfileNotFound when no record exists.
type ProfileStore interface {
	GetProfile(ctx context.Context, subjectID string) (*Profile, error)
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, p *Profile) error
}

// ProfileReconciler syncs the mutable profile for a verified identity.
// It writes Profile.Role for display but never reads it back into a
// privilege decision.
type ProfileReconciler struct {
	store   ProfileStore
	log     *zap.Logger
	metrics *Metrics
	audit   AuditSink
	now     func() time.Time
}

// NewProfileReconciler binds st. audit may be nil.
func NewProfileReconciler(st ProfileStore, log *zap.Logger, metrics *Metrics, audit AuditSink) *ProfileReconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if audit == nil {
		audit = NoOpSink{}
	}
	return &ProfileReconciler{
		store:   st,
		log:     log.Named("profile"),
		metrics: metrics,
		audit:   audit,
		now:     time.Now,
	}
}

// Reconcile fetches or creates the profile for id and refreshes its
// activity and presentation fields. claims supplies the tenant for a new
// record. A store failure never blocks sign-in: it is logged and audited,
// and a profile built from the identity is returned with degraded=true.
func (r *ProfileReconciler) Reconcile(ctx context.Context, id *Identity, claims AuthorityClaims) (Profile, bool) {
	now := r.now().UTC()
	if r.store == nil {
		return newProfile(id, claims, now), true
	}

	existing, err := r.store.GetProfile(ctx, id.SubjectID)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		p := newProfile(id, claims, now)
		if err := r.store.CreateProfile(ctx, &p); err != nil {
			r.writeFailed(ctx, id, claims, "create", err)
			return p, true
		}
		return p, false
	case err != nil:
		r.writeFailed(ctx, id, claims, "get", err)
		return newProfile(id, claims, now), true
	case existing == nil:
		return newProfile(id, claims, now), true
	}

	p := *existing
	if p.Role != "" && Role(p.Role) != claims.Role {
		r.metrics.Inc(MetricPrivilegeMismatch)
		r.audit.Emit(ctx, AuditEvent{
			EventType: AuditPrivilegeMismatch,
			SubjectID: id.SubjectID,
			TenantID:  claims.TenantID,
			Success:   true,
			Metadata:  map[string]string{"profile_role": p.Role, "claims_role": string(claims.Role)},
		})
	}

	p.LastActiveAt = now
	p.UpdatedAt = now
	if strings.TrimSpace(p.DisplayName) == "" {
		p.DisplayName = displayNameFor(id)
	}
	if id.AvatarRef != "" && p.AvatarRef != id.AvatarRef {
		p.AvatarRef = id.AvatarRef
	}
	if p.TenantID == "" && claims.TenantID != "" {
		p.TenantID = claims.TenantID
	}
	if err := r.store.UpdateProfile(ctx, &p); err != nil {
		r.writeFailed(ctx, id, claims, "update", err)
		return p, true
	}
	return p, false
}

func (r *ProfileReconciler) writeFailed(ctx context.Context, id *Identity, claims AuthorityClaims, op string, err error) {
	r.metrics.Inc(MetricProfileWriteFailed)
	r.log.Warn("profile write failed, continuing degraded",
		zap.String("op", op),
		zap.String("subject_id", id.SubjectID),
		zap.Error(err),
	)
	r.audit.Emit(ctx, AuditEvent{
		EventType: AuditProfileWriteFailed,
		SubjectID: id.SubjectID,
		TenantID:  claims.TenantID,
		Success:   false,
		Error:     ErrProfileWriteFailed.Error(),
		Metadata:  map[string]string{"op": op},
	})
}

func newProfile(id *Identity, claims AuthorityClaims, now time.Time) Profile {
	return Profile{
		SubjectID:    id.SubjectID,
		DisplayName:  displayNameFor(id),
		AvatarRef:    id.AvatarRef,
		Role:         string(RoleStudent),
		TenantID:     claims.TenantID,
		Level:        1,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func displayNameFor(id *Identity) string {
	if name := strings.TrimSpace(id.DisplayName); name != "" {
		return name
	}
	if at := strings.IndexByte(id.Email, '@'); at > 0 {
		return id.Email[:at]
	}
	return id.Email
}
