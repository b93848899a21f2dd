package goGate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeProvider is a scriptable IdentityProvider for unit tests.
type fakeProvider struct {
	mu sync.Mutex

	identity *Identity
	getErrs  []error
	onGet    func(ctx context.Context, call int) (*Identity, error)
	getCalls int
	clears   int
	skipped  int
	marker   string

	signInErrs  []error
	signInCalls int
	signUpErr   error
	signUpCalls int
	signOutErr  error
	resetErr    error
	resetCalls  int

	aal         AssuranceLevel
	aalErr      error
	aalCalls    int
	factors     []MFAFactor
	enrollCalls int
	unenrolled  []string
	challenges  int
	verifyErr   error
	verifyCalls int

	eventsCalls int
	events      chan AuthEvent
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{aal: AAL1, marker: "token-1", events: make(chan AuthEvent, 16)}
}

func (f *fakeProvider) setIdentity(id *Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = id
}

func (f *fakeProvider) GetVerifiedUser(ctx context.Context) (*Identity, error) {
	f.mu.Lock()
	f.getCalls++
	call := f.getCalls
	onGet := f.onGet
	var err error
	if len(f.getErrs) > 0 {
		err, f.getErrs = f.getErrs[0], f.getErrs[1:]
	}
	id := f.identity
	f.mu.Unlock()

	if onGet != nil {
		return onGet(ctx, call)
	}
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, NewProviderError(KindUnauthorized, errors.New("auth session missing"))
	}
	cp := *id
	return &cp, nil
}

func (f *fakeProvider) ClearLocalSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeProvider) LocalSessionMarker(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marker, nil
}

// ClearLocalSessionIf counts a clear when the cached marker still matches
// and a skip otherwise. The marker itself is left as is.
func (f *fakeProvider) ClearLocalSessionIf(_ context.Context, marker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if marker == "" || marker != f.marker {
		f.skipped++
		return nil
	}
	f.clears++
	return nil
}

func (f *fakeProvider) SignInWithPassword(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	if len(f.signInErrs) > 0 {
		err := f.signInErrs[0]
		f.signInErrs = f.signInErrs[1:]
		return err
	}
	return nil
}

func (f *fakeProvider) SignUp(context.Context, string, string, map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUpCalls++
	return f.signUpErr
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = nil
	return f.signOutErr
}

func (f *fakeProvider) RequestPasswordReset(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	return f.resetErr
}

func (f *fakeProvider) AssuranceLevel(context.Context) (AssuranceLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aalCalls++
	return f.aal, f.aalErr
}

func (f *fakeProvider) ListFactors(context.Context) ([]MFAFactor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MFAFactor(nil), f.factors...), nil
}

func (f *fakeProvider) Enroll(_ context.Context, name string) (*Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollCalls++
	factor := MFAFactor{ID: "new-factor", FriendlyName: name, Status: FactorUnverified}
	f.factors = append(f.factors, factor)
	return &Enrollment{Factor: factor, Secret: "JBSWY3DPEHPK3PXP", URI: "otpauth://totp/goGate:t?secret=JBSWY3DPEHPK3PXP"}, nil
}

func (f *fakeProvider) Unenroll(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unenrolled = append(f.unenrolled, id)
	for i, factor := range f.factors {
		if factor.ID == id {
			f.factors = append(f.factors[:i], f.factors[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeProvider) Challenge(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges++
	return "challenge", nil
}

func (f *fakeProvider) Verify(context.Context, string, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.aal = AAL2
	if f.identity != nil {
		f.identity.Assurance = AAL2
	}
	return nil
}

func (f *fakeProvider) Events(context.Context) (<-chan AuthEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventsCalls++
	return f.events, nil
}

func (f *fakeProvider) emit(kind AuthEventKind) {
	f.events <- AuthEvent{Kind: kind, At: time.Now()}
}

func (f *fakeProvider) counts() (get, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls, f.clears
}

// fakeProfiles is an in-package ProfileStore with switchable failures.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]Profile
	getErr   error
	writeErr error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]Profile)}
}

func (s *fakeProfiles) GetProfile(_ context.Context, id string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func (s *fakeProfiles) CreateProfile(_ context.Context, p *Profile) error {
	return s.put(p)
}

func (s *fakeProfiles) UpdateProfile(_ context.Context, p *Profile) error {
	return s.put(p)
}

func (s *fakeProfiles) put(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.profiles[p.SubjectID] = *p
	return nil
}

func identityWithRole(subject string, appMeta map[string]any) *Identity {
	return &Identity{
		SubjectID:   subject,
		Email:       subject + "@example.com",
		Assurance:   AAL1,
		AppMetadata: appMeta,
	}
}
