package profilestore

import (
	"context"
	"encoding/json"
	"errors"

	goGate "github.com/MrEthical07/goGate"
	"github.com/redis/go-redis/v9"
)

// Redis stores each profile as a JSON string under prefix+"profile:"+subject.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(subjectID string) string {
	return r.prefix + "profile:" + subjectID
}

func (r *Redis) GetProfile(ctx context.Context, subjectID string) (*goGate.Profile, error) {
	raw, err := r.client.Get(ctx, r.key(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, goGate.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	var p goGate.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Redis) CreateProfile(ctx context.Context, p *goGate.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.key(p.SubjectID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (r *Redis) UpdateProfile(ctx context.Context, p *goGate.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, err := r.client.SetXX(ctx, r.key(p.SubjectID), data, redis.KeepTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return goGate.ErrProfileNotFound
	}
	return nil
}
