package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/store"
	"go.uber.org/zap"
)

const (
	opSignIn    = "sign_in"
	opRefresh   = "refresh"
	opGetUser   = "get_user"
	opSignUp    = "sign_up"
	opSignOut   = "sign_out"
	opRecover   = "recover"
	opEnroll    = "enroll"
	opUnenroll  = "unenroll"
	opChallenge = "challenge"
	opVerify    = "verify"
)

const (
	expiryMargin   = 10 * time.Second
	sessionMaxTTL  = 30 * 24 * time.Hour
	factorTypeTOTP = "totp"
	statusVerified = "verified"
)

// session is the cached client half of a backend session.
type session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user,omitempty"`
}

type factorResponse struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name"`
	FactorType   string `json:"factor_type"`
	Status       string `json:"status"`
}

type userResponse struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	AppMetadata  map[string]any   `json:"app_metadata"`
	UserMetadata map[string]any   `json:"user_metadata"`
	Factors      []factorResponse `json:"factors"`
}

func (p *Provider) loadSession(ctx context.Context) (*session, error) {
	raw, err := p.local.Get(ctx, p.sessionKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, goGate.NewProviderError(goGate.KindUnauthorized, errors.New("auth session missing"))
		}
		return nil, goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	var s session
	if err := json.Unmarshal(raw, &s); err != nil || s.AccessToken == "" {
		_ = p.local.Delete(ctx, p.sessionKey)
		return nil, goGate.NewProviderError(goGate.KindUnauthorized, errors.New("cached session unreadable"))
	}
	return &s, nil
}

func (p *Provider) saveSession(ctx context.Context, tr *tokenResponse) error {
	if tr.AccessToken == "" {
		return goGate.NewProviderError(goGate.KindUnavailable, errors.New("token response without access token"))
	}
	s := session{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, ExpiresAt: tr.ExpiresAt}
	if s.ExpiresAt == 0 && tr.ExpiresIn > 0 {
		s.ExpiresAt = p.now().Add(time.Duration(tr.ExpiresIn) * time.Second).Unix()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	if err := p.local.Set(ctx, p.sessionKey, data, sessionMaxTTL); err != nil {
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	return nil
}

// activeSession returns a session whose access token is not about to
// expire, refreshing it first when needed.
func (p *Provider) activeSession(ctx context.Context) (*session, error) {
	s, err := p.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if s.ExpiresAt == 0 || p.now().Add(expiryMargin).Before(time.Unix(s.ExpiresAt, 0)) {
		return s, nil
	}
	if s.RefreshToken == "" {
		return nil, goGate.NewProviderError(goGate.KindUnauthorized, errors.New("access token expired"))
	}
	return p.refresh(ctx, s.RefreshToken)
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*session, error) {
	var tr tokenResponse
	err := p.do(ctx, request{
		op:     opRefresh,
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &tr)
	if err != nil {
		return nil, err
	}
	if err := p.saveSession(ctx, &tr); err != nil {
		return nil, err
	}
	p.events.Emit(goGate.EventTokenRefreshed, p.now())
	return p.loadSession(ctx)
}

// GetVerifiedUser asks the backend who owns the cached session. A token
// that is locally valid but revoked on the server fails here.
func (p *Provider) GetVerifiedUser(ctx context.Context) (*goGate.Identity, error) {
	s, err := p.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	var u userResponse
	if err := p.do(ctx, request{op: opGetUser, method: http.MethodGet, path: "/user", bearer: s.AccessToken}, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, goGate.NewProviderError(goGate.KindUnauthorized, errors.New("user response without id"))
	}

	id := &goGate.Identity{
		SubjectID:    u.ID,
		Email:        u.Email,
		Assurance:    assuranceOf(s.AccessToken),
		AppMetadata:  u.AppMetadata,
		UserMetadata: u.UserMetadata,
	}
	if id.AppMetadata == nil {
		id.AppMetadata = map[string]any{}
	}
	if id.UserMetadata == nil {
		id.UserMetadata = map[string]any{}
	}
	id.DisplayName, _ = id.UserMetadata["display_name"].(string)
	if id.DisplayName == "" {
		id.DisplayName, _ = id.UserMetadata["full_name"].(string)
	}
	id.AvatarRef, _ = id.UserMetadata["avatar_url"].(string)
	return id, nil
}

func assuranceOf(accessToken string) goGate.AssuranceLevel {
	claims, err := jwt.DecodeUnverified(accessToken)
	if err != nil {
		return goGate.AAL1
	}
	if goGate.AssuranceLevel(claims.AAL) == goGate.AAL2 {
		return goGate.AAL2
	}
	return goGate.AAL1
}

// ClearLocalSession drops the cached tokens without contacting the backend.
func (p *Provider) ClearLocalSession(ctx context.Context) error {
	return p.local.Delete(ctx, p.sessionKey)
}

// LocalSessionMarker returns the cached session record as stored, or ""
// when none is cached. A refresh or a new sign-in changes it.
func (p *Provider) LocalSessionMarker(ctx context.Context) (string, error) {
	raw, err := p.local.Get(ctx, p.sessionKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ClearLocalSessionIf drops the cached session only if it is unchanged.
func (p *Provider) ClearLocalSessionIf(ctx context.Context, marker string) error {
	if marker == "" {
		return nil
	}
	_, err := p.local.CompareAndDelete(ctx, p.sessionKey, []byte(marker))
	return err
}

// SignInWithPassword uses the password grant and caches the session.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) error {
	var tr tokenResponse
	err := p.do(ctx, request{
		op:     opSignIn,
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &tr)
	if err != nil {
		return err
	}
	if err := p.saveSession(ctx, &tr); err != nil {
		return err
	}
	p.events.Emit(goGate.EventSignedIn, p.now())
	return nil
}

// SignUp registers an account. When the backend auto-confirms and returns
// a session it is cached and SignedIn is emitted.
func (p *Provider) SignUp(ctx context.Context, email, password string, userMetadata map[string]any) error {
	var tr tokenResponse
	err := p.do(ctx, request{
		op:     opSignUp,
		method: http.MethodPost,
		path:   "/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     userMetadata,
		},
	}, &tr)
	if err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return nil
	}
	if err := p.saveSession(ctx, &tr); err != nil {
		return err
	}
	p.events.Emit(goGate.EventSignedIn, p.now())
	return nil
}

// SignOut revokes the session on the backend and always clears the local
// cache. A session the backend no longer knows is not an error.
func (p *Provider) SignOut(ctx context.Context) error {
	var remoteErr error
	if s, err := p.loadSession(ctx); err == nil {
		remoteErr = p.do(ctx, request{
			op:     opSignOut,
			method: http.MethodPost,
			path:   "/logout",
			query:  url.Values{"scope": {"local"}},
			bearer: s.AccessToken,
		}, nil)
		switch goGate.KindOf(remoteErr) {
		case goGate.KindUnauthorized, goGate.KindValidation:
			remoteErr = nil
		}
	}
	if err := p.local.Delete(ctx, p.sessionKey); err != nil {
		p.log.Warn("clear cached session failed", zap.Error(err))
	}
	p.events.Emit(goGate.EventSignedOut, p.now())
	return remoteErr
}

// RequestPasswordReset asks the backend to send a recovery email.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) error {
	return p.do(ctx, request{
		op:     opRecover,
		method: http.MethodPost,
		path:   "/recover",
		body:   map[string]string{"email": email},
	}, nil)
}

// Events streams lifecycle events this client initiated until ctx is done.
func (p *Provider) Events(ctx context.Context) (<-chan goGate.AuthEvent, error) {
	return p.events.Subscribe(ctx), nil
}
