package memory

import (
	"context"
	"errors"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/totp"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/google/uuid"
)

// AssuranceLevel returns the current session's level.
func (p *Provider) AssuranceLevel(ctx context.Context) (goGate.AssuranceLevel, error) {
	if err := p.faults.before(ctx, OpAssuranceLevel); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, s, err := p.currentLocked(ctx)
	if err != nil {
		return "", err
	}
	return s.aal, nil
}

// ListFactors returns the current user's factors in enrollment order.
func (p *Provider) ListFactors(ctx context.Context) ([]goGate.MFAFactor, error) {
	if err := p.faults.before(ctx, OpListFactors); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u, _, err := p.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]goGate.MFAFactor, 0, len(u.factors))
	for _, f := range u.factors {
		out = append(out, goGate.MFAFactor{ID: f.id, FriendlyName: f.name, Status: f.status})
	}
	return out, nil
}

// Enroll provisions an unverified TOTP factor.
func (p *Provider) Enroll(ctx context.Context, friendlyName string) (*goGate.Enrollment, error) {
	if err := p.faults.before(ctx, OpEnroll); err != nil {
		return nil, err
	}
	raw, encoded, err := p.totp.GenerateSecret()
	if err != nil {
		return nil, goGate.NewProviderError(goGate.KindUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	u, _, err := p.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	f := &factor{id: uuid.NewString(), name: friendlyName, secret: raw, status: goGate.FactorUnverified}
	u.factors = append(u.factors, f)
	return &goGate.Enrollment{
		Factor: goGate.MFAFactor{ID: f.id, FriendlyName: f.name, Status: f.status},
		Secret: encoded,
		URI:    p.totp.ProvisionURI(encoded, u.email),
	}, nil
}

// Unenroll removes a factor of the current user.
func (p *Provider) Unenroll(ctx context.Context, factorID string) error {
	if err := p.faults.before(ctx, OpUnenroll); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u, _, err := p.currentLocked(ctx)
	if err != nil {
		return err
	}
	for i, f := range u.factors {
		if f.id == factorID {
			u.factors = append(u.factors[:i], u.factors[i+1:]...)
			return nil
		}
	}
	return providerErr(goGate.KindValidation, "factor not found")
}

// Challenge opens a verification challenge for factorID.
func (p *Provider) Challenge(ctx context.Context, factorID string) (string, error) {
	if err := p.faults.before(ctx, OpChallenge); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u, _, err := p.currentLocked(ctx)
	if err != nil {
		return "", err
	}
	if findFactor(u, factorID) == nil {
		return "", providerErr(goGate.KindValidation, "factor not found")
	}
	c := &challenge{id: uuid.NewString(), factorID: factorID, expires: p.now().Add(challengeTTL)}
	p.challenges[c.id] = c
	return c.id, nil
}

// Verify checks code and, on success, raises the session to aal2, marks
// the factor verified, re-mints the cached token and emits TokenRefreshed.
func (p *Provider) Verify(ctx context.Context, factorID, challengeID, code string) error {
	if err := p.faults.before(ctx, OpVerify); err != nil {
		return err
	}
	p.mu.Lock()
	u, s, err := p.currentLocked(ctx)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	c, ok := p.challenges[challengeID]
	if !ok || c.factorID != factorID || !p.now().Before(c.expires) {
		p.mu.Unlock()
		return providerErr(goGate.KindValidation, "challenge expired or not found")
	}
	delete(p.challenges, challengeID)
	f := findFactor(u, factorID)
	if f == nil {
		p.mu.Unlock()
		return providerErr(goGate.KindValidation, "factor not found")
	}
	valid, err := p.totp.Verify(f.secret, code, p.now())
	if err != nil {
		p.mu.Unlock()
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	if !valid {
		p.mu.Unlock()
		return providerErr(goGate.KindInvalidCredentials, "invalid totp code")
	}

	f.status = goGate.FactorVerified
	s.aal = goGate.AAL2
	s.amr = append(s.amr, jwt.AMREntry{Method: "totp", Timestamp: p.now().Unix()})
	token, err := p.mint(u, s)
	p.mu.Unlock()
	if err != nil {
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	if err := p.local.Set(ctx, keySession, []byte(token), tokenTTL); err != nil {
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	p.events.Emit(goGate.EventTokenRefreshed, p.now())
	return nil
}

// TOTPCode returns the code currently valid for factorID. It stands in for
// the user's authenticator app.
func (p *Provider) TOTPCode(factorID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.users {
		if f := findFactor(u, factorID); f != nil {
			return p.totp.Code(f.secret, p.now())
		}
	}
	return "", errors.New("memory: unknown factor")
}

// CodeForSecret computes the current code for a base32 secret as shown at
// enrollment.
func (p *Provider) CodeForSecret(secretBase32 string) (string, error) {
	raw, err := totp.DecodeSecret(secretBase32)
	if err != nil {
		return "", err
	}
	return p.totp.Code(raw, p.now())
}

func findFactor(u *user, id string) *factor {
	for _, f := range u.factors {
		if f.id == id {
			return f
		}
	}
	return nil
}
