package gotrue

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	goGate "github.com/MrEthical07/goGate"
)

// AssuranceLevel reads the aal claim of the cached access token.
func (p *Provider) AssuranceLevel(ctx context.Context) (goGate.AssuranceLevel, error) {
	s, err := p.activeSession(ctx)
	if err != nil {
		return "", err
	}
	return assuranceOf(s.AccessToken), nil
}

// ListFactors returns the TOTP factors of the current user.
func (p *Provider) ListFactors(ctx context.Context) ([]goGate.MFAFactor, error) {
	s, err := p.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	var u userResponse
	if err := p.do(ctx, request{op: opGetUser, method: http.MethodGet, path: "/user", bearer: s.AccessToken}, &u); err != nil {
		return nil, err
	}
	out := make([]goGate.MFAFactor, 0, len(u.Factors))
	for _, f := range u.Factors {
		if f.FactorType != factorTypeTOTP {
			continue
		}
		status := goGate.FactorUnverified
		if f.Status == statusVerified {
			status = goGate.FactorVerified
		}
		out = append(out, goGate.MFAFactor{ID: f.ID, FriendlyName: f.FriendlyName, Status: status})
	}
	return out, nil
}

type enrollResponse struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	FriendlyName string `json:"friendly_name"`
	TOTP         struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	} `json:"totp"`
}

// Enroll provisions an unverified TOTP factor.
func (p *Provider) Enroll(ctx context.Context, friendlyName string) (*goGate.Enrollment, error) {
	s, err := p.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	var resp enrollResponse
	err = p.do(ctx, request{
		op:     opEnroll,
		method: http.MethodPost,
		path:   "/factors",
		body:   map[string]string{"factor_type": factorTypeTOTP, "friendly_name": friendlyName},
		bearer: s.AccessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, goGate.NewProviderError(goGate.KindUnavailable, errors.New("enroll response without factor id"))
	}
	name := resp.FriendlyName
	if name == "" {
		name = friendlyName
	}
	return &goGate.Enrollment{
		Factor: goGate.MFAFactor{ID: resp.ID, FriendlyName: name, Status: goGate.FactorUnverified},
		Secret: resp.TOTP.Secret,
		URI:    resp.TOTP.URI,
	}, nil
}

// Unenroll deletes a factor.
func (p *Provider) Unenroll(ctx context.Context, factorID string) error {
	s, err := p.activeSession(ctx)
	if err != nil {
		return err
	}
	return p.do(ctx, request{
		op:     opUnenroll,
		method: http.MethodDelete,
		path:   "/factors/" + url.PathEscape(factorID),
		bearer: s.AccessToken,
	}, nil)
}

// Challenge opens a verification challenge for factorID.
func (p *Provider) Challenge(ctx context.Context, factorID string) (string, error) {
	s, err := p.activeSession(ctx)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	err = p.do(ctx, request{
		op:     opChallenge,
		method: http.MethodPost,
		path:   "/factors/" + url.PathEscape(factorID) + "/challenge",
		bearer: s.AccessToken,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", goGate.NewProviderError(goGate.KindUnavailable, errors.New("challenge response without id"))
	}
	return resp.ID, nil
}

// Verify submits code. On success the backend issues an aal2 session which
// replaces the cached one, and TokenRefreshed is emitted.
func (p *Provider) Verify(ctx context.Context, factorID, challengeID, code string) error {
	s, err := p.activeSession(ctx)
	if err != nil {
		return err
	}
	var tr tokenResponse
	err = p.do(ctx, request{
		op:     opVerify,
		method: http.MethodPost,
		path:   "/factors/" + url.PathEscape(factorID) + "/verify",
		body:   map[string]string{"challenge_id": challengeID, "code": code},
		bearer: s.AccessToken,
	}, &tr)
	if err != nil {
		return err
	}
	if err := p.saveSession(ctx, &tr); err != nil {
		return err
	}
	p.events.Emit(goGate.EventTokenRefreshed, p.now())
	return nil
}
