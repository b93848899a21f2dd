package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/fanout"
	"github.com/MrEthical07/goGate/internal/totp"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	keySession   = "session"
	tokenTTL     = time.Hour
	challengeTTL = 5 * time.Minute
	minPassword  = 8
)

type user struct {
	id        string
	email     string
	hash      string
	appMeta   map[string]any
	userMeta  map[string]any
	factors   []*factor
	createdAt time.Time
}

type factor struct {
	id     string
	name   string
	secret []byte
	status goGate.FactorStatus
}

type session struct {
	id      string
	userID  string
	aal     goGate.AssuranceLevel
	amr     []jwt.AMREntry
	revoked bool
}

type challenge struct {
	id       string
	factorID string
	expires  time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithLocalStore sets the client-side session cache. Defaults to an
// in-memory store.
func WithLocalStore(st store.Store) Option {
	return func(p *Provider) { p.local = st }
}

// WithClock overrides the clock used for tokens, challenges and TOTP.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBcryptCost hashes passwords with bcrypt at cost. Tests use
// bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.hasher = password.NewBcrypt(cost) }
}

// WithHasher replaces the password hasher. Existing hashes from another
// scheme or with weaker parameters are upgraded on the next sign-in.
func WithHasher(h password.Hasher) Option {
	return func(p *Provider) {
		if h != nil {
			p.hasher = h
		}
	}
}

// WithSigningKey sets the HS256 key used to mint session tokens.
func WithSigningKey(key []byte) Option {
	return func(p *Provider) { p.signingKey = key }
}

// Provider implements goGate.IdentityProvider in process.
type Provider struct {
	mu         sync.Mutex
	users      map[string]*user
	byID       map[string]*user
	sessions   map[string]*session
	challenges map[string]*challenge
	resets     []string

	local      store.Store
	tokens     *jwt.Manager
	totp       *totp.Manager
	now        func() time.Time
	hasher     password.Hasher
	signingKey []byte

	events *fanout.Hub
	faults faultTable
}

var _ goGate.IdentityProvider = (*Provider)(nil)

// New builds an empty backend.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		users:      make(map[string]*user),
		byID:       make(map[string]*user),
		sessions:   make(map[string]*session),
		challenges: make(map[string]*challenge),
		now:        time.Now,
		hasher:     password.NewBcrypt(bcrypt.DefaultCost),
		signingKey: []byte("gogate-memory-provider"),
		totp:       totp.New(totp.Config{Issuer: "goGate", Skew: 1}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.local == nil {
		p.local = store.NewMemoryStore()
	}
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     tokenTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    p.signingKey,
		Issuer:        "gogate-memory",
	})
	if err != nil {
		return nil, err
	}
	p.tokens = tokens.WithClock(func() time.Time { return p.now() })
	p.events = fanout.New(0)
	p.faults.init()
	return p, nil
}

func providerErr(kind goGate.ProviderErrorKind, msg string) error {
	return goGate.NewProviderError(kind, errors.New(msg))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

/*
====================================
ADMIN SURFACE
====================================
*/

// CreateUser registers a confirmed account with server-issued app metadata.
func (p *Provider) CreateUser(email, password string, appMeta map[string]any) (string, error) {
	email = normalizeEmail(email)
	hash, err := p.hasher.Hash(password)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.users[email]; exists {
		return "", errors.New("memory: user exists")
	}
	u := &user{
		id:        uuid.NewString(),
		email:     email,
		hash:      hash,
		appMeta:   copyMeta(appMeta),
		userMeta:  map[string]any{},
		createdAt: p.now(),
	}
	p.users[email] = u
	p.byID[u.id] = u
	return u.id, nil
}

// SetAppMetadata replaces a user's server-issued metadata.
func (p *Provider) SetAppMetadata(email string, appMeta map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[normalizeEmail(email)]
	if !ok {
		return errors.New("memory: unknown user")
	}
	u.appMeta = copyMeta(appMeta)
	return nil
}

// SetUserMetadata replaces a user's self-editable metadata.
func (p *Provider) SetUserMetadata(email string, userMeta map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[normalizeEmail(email)]
	if !ok {
		return errors.New("memory: unknown user")
	}
	u.userMeta = copyMeta(userMeta)
	return nil
}

// Revoke invalidates every server session of the user. Cached tokens on
// the client stay locally valid but fail the live check.
func (p *Provider) Revoke(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[normalizeEmail(email)]
	if !ok {
		return
	}
	for _, s := range p.sessions {
		if s.userID == u.id {
			s.revoked = true
		}
	}
}

// PasswordResets returns the emails of known accounts a reset was sent to.
func (p *Provider) PasswordResets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}

/*
====================================
SESSION
====================================
*/

func (p *Provider) mint(u *user, s *session) (string, error) {
	claims := jwt.ProviderClaims{
		Email:        u.email,
		AppMetadata:  copyMeta(u.appMeta),
		UserMetadata: copyMeta(u.userMeta),
		Role:         "authenticated",
		AAL:          string(s.aal),
		AMR:          append([]jwt.AMREntry(nil), s.amr...),
		SessionID:    s.id,
	}
	claims.Subject = u.id
	return p.tokens.Mint(claims)
}

// currentLocked validates the cached token against server state. Callers hold p.mu.
func (p *Provider) currentLocked(ctx context.Context) (*user, *session, error) {
	raw, err := p.local.Get(ctx, keySession)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, providerErr(goGate.KindUnauthorized, "auth session missing")
		}
		return nil, nil, goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	claims, err := p.tokens.Parse(string(raw))
	if err != nil {
		return nil, nil, goGate.NewProviderError(goGate.KindUnauthorized, err)
	}
	s, ok := p.sessions[claims.SessionID]
	if !ok || s.revoked {
		return nil, nil, providerErr(goGate.KindUnauthorized, "session not found")
	}
	u, ok := p.byID[s.userID]
	if !ok {
		return nil, nil, providerErr(goGate.KindUnauthorized, "user not found")
	}
	return u, s, nil
}

// GetVerifiedUser validates the cached token and the server session.
func (p *Provider) GetVerifiedUser(ctx context.Context) (*goGate.Identity, error) {
	if err := p.faults.before(ctx, OpGetUser); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u, s, err := p.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	id := &goGate.Identity{
		SubjectID:    u.id,
		Email:        u.email,
		Assurance:    s.aal,
		AppMetadata:  copyMeta(u.appMeta),
		UserMetadata: copyMeta(u.userMeta),
	}
	id.DisplayName, _ = u.userMeta["display_name"].(string)
	id.AvatarRef, _ = u.userMeta["avatar_url"].(string)
	return id, nil
}

// ClearLocalSession drops the cached token only.
func (p *Provider) ClearLocalSession(ctx context.Context) error {
	return p.local.Delete(ctx, keySession)
}

// LocalSessionMarker returns the cached token, or "" when none is cached.
func (p *Provider) LocalSessionMarker(ctx context.Context) (string, error) {
	raw, err := p.local.Get(ctx, keySession)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ClearLocalSessionIf drops the cached token only if it is still marker.
func (p *Provider) ClearLocalSessionIf(ctx context.Context, marker string) error {
	if marker == "" {
		return nil
	}
	_, err := p.local.CompareAndDelete(ctx, keySession, []byte(marker))
	return err
}

// SignInWithPassword checks the password hash and opens an aal1 session.
// A hash that needs an upgrade is replaced after the check succeeds.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) error {
	if err := p.faults.before(ctx, OpSignIn); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return providerErr(goGate.KindValidation, "email and password required")
	}

	p.mu.Lock()
	u, ok := p.users[email]
	p.mu.Unlock()
	if !ok {
		return providerErr(goGate.KindInvalidCredentials, "invalid login credentials")
	}
	p.mu.Lock()
	hash := u.hash
	p.mu.Unlock()
	if err := p.hasher.Verify(password, hash); err != nil {
		return providerErr(goGate.KindInvalidCredentials, "invalid login credentials")
	}
	upgraded := ""
	if p.hasher.NeedsUpgrade(hash) {
		upgraded, _ = p.hasher.Hash(password)
	}

	p.mu.Lock()
	if upgraded != "" && u.hash == hash {
		u.hash = upgraded
	}
	s := &session{
		id:     uuid.NewString(),
		userID: u.id,
		aal:    goGate.AAL1,
		amr:    []jwt.AMREntry{{Method: "password", Timestamp: p.now().Unix()}},
	}
	p.sessions[s.id] = s
	token, err := p.mint(u, s)
	p.mu.Unlock()
	if err != nil {
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	if err := p.local.Set(ctx, keySession, []byte(token), tokenTTL); err != nil {
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	p.events.Emit(goGate.EventSignedIn, p.now())
	return nil
}

// SignUp registers an account without signing in.
func (p *Provider) SignUp(ctx context.Context, email, password string, userMeta map[string]any) error {
	if err := p.faults.before(ctx, OpSignUp); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return providerErr(goGate.KindValidation, "invalid email")
	}
	if len(password) < minPassword {
		return providerErr(goGate.KindValidation, "password should be at least 8 characters")
	}
	if _, err := p.CreateUser(email, password, nil); err != nil {
		return providerErr(goGate.KindValidation, "user already registered")
	}
	return p.SetUserMetadata(email, userMeta)
}

// SignOut revokes the current server session and clears the cache.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.faults.before(ctx, OpSignOut); err != nil {
		return err
	}
	p.mu.Lock()
	if _, s, err := p.currentLocked(ctx); err == nil {
		s.revoked = true
	}
	p.mu.Unlock()
	if err := p.local.Delete(ctx, keySession); err != nil {
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	p.events.Emit(goGate.EventSignedOut, p.now())
	return nil
}

// RequestPasswordReset records the request for known accounts and
// succeeds either way.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) error {
	if err := p.faults.before(ctx, OpPasswordReset); err != nil {
		return err
	}
	email = normalizeEmail(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[email]; ok {
		p.resets = append(p.resets, email)
	}
	return nil
}
