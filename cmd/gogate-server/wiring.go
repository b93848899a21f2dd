package main

import (
	"context"
	"errors"
	"fmt"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/events/natsrelay"
	"github.com/MrEthical07/goGate/profilestore"
	"github.com/MrEthical07/goGate/provider/gotrue"
	"github.com/MrEthical07/goGate/provider/memory"
	"github.com/MrEthical07/goGate/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// deps holds everything main wires into the engine, plus the closers to
// run on shutdown in reverse order.
type deps struct {
	local    store.Store
	profiles goGate.ProfileStore
	provider goGate.IdentityProvider
	relay    *natsrelay.Relay
	closers  []func() error
}

func (d *deps) onClose(fn func() error) { d.closers = append(d.closers, fn) }

func (d *deps) close(log *zap.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn("shutdown step failed", zap.Error(err))
		}
	}
}

func wire(ctx context.Context, cfg serverConfig, log *zap.Logger) (_ *deps, err error) {
	d := &deps{}
	defer func() {
		if err != nil {
			d.close(log)
		}
	}()

	if d.local, err = openLocalStore(cfg.Store, d); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	if d.profiles, err = openProfiles(ctx, cfg.Profiles, d); err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	if d.provider, err = openProvider(cfg.Provider, d.local, log); err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	if cfg.Relay.Enabled {
		if d.relay, err = natsrelay.Connect(cfg.Relay.NATS, log); err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
		d.onClose(d.relay.Close)
	}
	return d, nil
}

func openLocalStore(cfg storeConfig, d *deps) (store.Store, error) {
	switch cfg.Kind {
	case "badger":
		st, err := store.OpenBadger(cfg.Dir)
		if err != nil {
			return nil, err
		}
		d.onClose(st.Close)
		return st, nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		d.onClose(client.Close)
		return store.NewRedisStore(client, cfg.Prefix, cfg.DeviceID), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func openProfiles(ctx context.Context, cfg profilesConfig, d *deps) (goGate.ProfileStore, error) {
	switch cfg.Kind {
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		d.onClose(client.Close)
		return profilestore.NewRedis(client, cfg.Prefix), nil
	case "mongo":
		m, err := profilestore.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		d.onClose(func() error { return m.Close(context.Background()) })
		if err := m.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case "postgres", "mysql":
		s, err := profilestore.OpenSQL(ctx, cfg.Kind, cfg.DSN)
		if err != nil {
			return nil, err
		}
		d.onClose(s.Close)
		if err := s.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return profilestore.NewMemory(), nil
	}
}

func openProvider(cfg providerConfig, local store.Store, log *zap.Logger) (goGate.IdentityProvider, error) {
	if cfg.Kind == "gotrue" {
		return gotrue.New(cfg.GoTrue, local, gotrue.WithLogger(log))
	}

	p, err := memory.New(memory.WithLocalStore(local))
	if err != nil {
		return nil, err
	}
	for _, u := range cfg.Seed {
		meta := map[string]any{}
		if u.Role != "" {
			meta["role"] = u.Role
		}
		if u.TenantID != "" {
			meta["tenant_id"] = u.TenantID
		}
		if _, err := p.CreateUser(u.Email, u.Password, meta); err != nil {
			return nil, errors.Join(fmt.Errorf("seed %s", u.Email), err)
		}
		log.Info("seeded demo account", zap.String("email", u.Email), zap.String("role", u.Role))
	}
	return p, nil
}

// relayed routes the provider's events through the relay when one is
// configured, so sign-outs on other nodes trigger a recompute here.
func relayed(p goGate.IdentityProvider, r *natsrelay.Relay, engine func() *goGate.Engine) (goGate.IdentityProvider, error) {
	if r == nil {
		return p, nil
	}
	current := func() string {
		if u := engine().CurrentUser(); u != nil {
			return u.Identity.SubjectID
		}
		return ""
	}
	if err := r.Listen(current); err != nil {
		return nil, err
	}
	return natsrelay.Provider(p, r, current), nil
}
