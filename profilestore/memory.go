package profilestore

import (
	"context"
	"errors"
	"sync"

	goGate "github.com/MrEthical07/goGate"
)

// ErrConflict is returned when creating a profile that already exists.
var ErrConflict = errors.New("profilestore: profile already exists")

// Memory is a map-backed ProfileStore.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]goGate.Profile
}

func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]goGate.Profile)}
}

func (m *Memory) GetProfile(ctx context.Context, subjectID string) (*goGate.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[subjectID]
	if !ok {
		return nil, goGate.ErrProfileNotFound
	}
	return &p, nil
}

func (m *Memory) CreateProfile(ctx context.Context, p *goGate.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.SubjectID]; ok {
		return ErrConflict
	}
	m.profiles[p.SubjectID] = *p
	return nil
}

func (m *Memory) UpdateProfile(ctx context.Context, p *goGate.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.SubjectID]; !ok {
		return goGate.ErrProfileNotFound
	}
	m.profiles[p.SubjectID] = *p
	return nil
}

// Len returns the number of stored profiles.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}
