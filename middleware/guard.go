package middleware

import (
	"context"
	"net/http"

	goGate "github.com/MrEthical07/goGate"
	"go.uber.org/zap"
)

type userContextKey struct{}

// UserFromContext returns the resolved user attached by a guard.
func UserFromContext(ctx context.Context) (*goGate.ResolvedUser, bool) {
	u, ok := ctx.Value(userContextKey{}).(*goGate.ResolvedUser)
	return u, ok && u != nil
}

// StatusFor maps an access decision to the status a guard answers with.
func StatusFor(d goGate.Decision) int {
	switch d {
	case goGate.DecisionAllowed:
		return http.StatusOK
	case goGate.DecisionLoading:
		return http.StatusServiceUnavailable
	case goGate.DecisionSignedOut:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// IntentFunc names the protected target a step-up interrupted.
type IntentFunc func(r *http.Request) string

// Option configures a guard.
type Option func(*guard)

// WithIntent overrides how the interrupted target is named. The default
// is the request path.
func WithIntent(fn IntentFunc) Option {
	return func(g *guard) {
		if fn != nil {
			g.intent = fn
		}
	}
}

// WithLogger sets the logger used when saving an intent fails.
func WithLogger(log *zap.Logger) Option {
	return func(g *guard) {
		if log != nil {
			g.log = log
		}
	}
}

type guard struct {
	intent IntentFunc
	log    *zap.Logger
}

// Guard admits a request only when the engine allows the current user for
// one of roles. An empty roles list admits any signed-in role.
func Guard(engine *goGate.Engine, roles []goGate.Role, opts ...Option) func(http.Handler) http.Handler {
	g := &guard{
		intent: func(r *http.Request) string { return r.URL.Path },
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, string(goGate.DecisionLoading), http.StatusServiceUnavailable)
				return
			}

			decision, user := engine.AuthorizeSnapshot(roles...)
			switch decision {
			case goGate.DecisionAllowed:
				ctx := context.WithValue(r.Context(), userContextKey{}, user)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			case goGate.DecisionLoading:
				w.Header().Set("Retry-After", "1")
			case goGate.DecisionMFARequired:
				if err := engine.SaveIntent(r.Context(), g.intent(r)); err != nil {
					g.log.Warn("save step-up intent failed", zap.Error(err))
				}
			}
			http.Error(w, string(decision), StatusFor(decision))
		})
	}
}

// RequireSignedIn admits any signed-in user who has completed step-up.
func RequireSignedIn(engine *goGate.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, nil, opts...)
}

// RequireStaff admits teachers, admins and developers.
func RequireStaff(engine *goGate.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, []goGate.Role{goGate.RoleTeacher, goGate.RoleAdmin, goGate.RoleDeveloper}, opts...)
}
