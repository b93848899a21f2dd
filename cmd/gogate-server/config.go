package main

import (
	"fmt"
	"os"

	"github.com/MrEthical07/goGate/events/natsrelay"
	"github.com/MrEthical07/goGate/profilestore"
	"github.com/MrEthical07/goGate/provider/gotrue"
	"gopkg.in/yaml.v3"
)

// serverConfig is the "server" section of the config file. The engine
// sections are read by goGate.LoadConfig from the same file.
type serverConfig struct {
	Addr      string          `yaml:"addr"`
	Provider  providerConfig  `yaml:"provider"`
	Store     storeConfig     `yaml:"store"`
	Profiles  profilesConfig  `yaml:"profiles"`
	Relay     relayConfig     `yaml:"relay"`
	Telemetry telemetryConfig `yaml:"telemetry"`
}

type providerConfig struct {
	// Kind is "memory" or "gotrue".
	Kind   string        `yaml:"kind"`
	GoTrue gotrue.Config `yaml:"gotrue"`
	// Seed lists demo accounts created in the memory backend.
	Seed []seedUser `yaml:"seed"`
}

type seedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	TenantID string `yaml:"tenant_id"`
}

type storeConfig struct {
	// Kind is "memory", "badger" or "redis".
	Kind      string `yaml:"kind"`
	Dir       string `yaml:"dir"`
	RedisAddr string `yaml:"redis_addr"`
	Prefix    string `yaml:"prefix"`
	DeviceID  string `yaml:"device_id"`
}

type profilesConfig struct {
	// Kind is "memory", "redis", "mongo", "postgres" or "mysql".
	Kind      string                   `yaml:"kind"`
	RedisAddr string                   `yaml:"redis_addr"`
	Prefix    string                   `yaml:"prefix"`
	DSN       string                   `yaml:"dsn"`
	Mongo     profilestore.MongoConfig `yaml:"mongo"`
}

type relayConfig struct {
	Enabled bool             `yaml:"enabled"`
	NATS    natsrelay.Config `yaml:"nats"`
}

type telemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Addr:      ":8080",
		Provider:  providerConfig{Kind: "memory"},
		Store:     storeConfig{Kind: "memory", Prefix: "gogate:"},
		Profiles:  profilesConfig{Kind: "memory", Prefix: "gogate:"},
		Telemetry: telemetryConfig{ServiceName: "gogate"},
	}
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return serverConfig{}, fmt.Errorf("read config: %w", err)
		}
		var file struct {
			Server serverConfig `yaml:"server"`
		}
		file.Server = cfg
		if err := yaml.Unmarshal(data, &file); err != nil {
			return serverConfig{}, fmt.Errorf("parse config: %w", err)
		}
		cfg = file.Server
	}

	if v := os.Getenv("GATE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("GATE_GOTRUE_URL"); v != "" {
		cfg.Provider.Kind = "gotrue"
		cfg.Provider.GoTrue.BaseURL = v
	}
	if v := os.Getenv("GATE_GOTRUE_API_KEY"); v != "" {
		cfg.Provider.GoTrue.APIKey = v
	}
	if v := os.Getenv("GATE_NATS_URL"); v != "" {
		cfg.Relay.Enabled = true
		cfg.Relay.NATS.URL = v
	}
	return cfg, cfg.validate()
}

func (c serverConfig) validate() error {
	switch c.Provider.Kind {
	case "memory", "gotrue":
	default:
		return fmt.Errorf("provider.kind: unknown %q", c.Provider.Kind)
	}
	switch c.Store.Kind {
	case "memory", "redis":
	case "badger":
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for badger")
		}
	default:
		return fmt.Errorf("store.kind: unknown %q", c.Store.Kind)
	}
	switch c.Profiles.Kind {
	case "memory", "redis", "mongo":
	case "postgres", "mysql":
		if c.Profiles.DSN == "" {
			return fmt.Errorf("profiles.dsn is required for %s", c.Profiles.Kind)
		}
	default:
		return fmt.Errorf("profiles.kind: unknown %q", c.Profiles.Kind)
	}
	return nil
}
