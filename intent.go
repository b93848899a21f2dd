package goGate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/store"
	"go.uber.org/zap"
)

const keyStepUpIntent = "stepUpIntent"

// StepUpIntent remembers where the user was headed when step-up
// verification interrupted them, so a reload mid-flow can resume.
type StepUpIntent struct {
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}

// IntentStore persists a single StepUpIntent with a fixed validity window.
type IntentStore struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewIntentStore binds st with the given validity window.
func NewIntentStore(st store.Store, window time.Duration, log *zap.Logger) *IntentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &IntentStore{store: st, window: window, now: time.Now, log: log.Named("intent")}
}

// WithClock overrides the wall clock.
func (s *IntentStore) WithClock(now func() time.Time) *IntentStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Save records targetID, replacing any previous intent.
func (s *IntentStore) Save(ctx context.Context, targetID string) error {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return errors.New("intent: empty target")
	}
	data, err := json.Marshal(StepUpIntent{TargetID: targetID, CreatedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.store.Set(ctx, keyStepUpIntent, data, s.window)
}

// Resume returns the saved target and deletes the record. Expired or
// unreadable records are deleted and reported as absent.
func (s *IntentStore) Resume(ctx context.Context) (string, bool) {
	raw, err := s.store.Get(ctx, keyStepUpIntent)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("intent unreadable", zap.Error(err))
		}
		return "", false
	}
	if err := s.Clear(ctx); err != nil {
		s.log.Warn("intent delete failed", zap.Error(err))
	}

	var intent StepUpIntent
	if err := json.Unmarshal(raw, &intent); err != nil || intent.TargetID == "" {
		return "", false
	}
	if !s.now().Before(intent.CreatedAt.Add(s.window)) {
		return "", false
	}
	return intent.TargetID, true
}

// Clear deletes any saved intent.
func (s *IntentStore) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, keyStepUpIntent)
}
