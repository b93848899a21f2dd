package goGate

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config defines a public type used by goGate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Resolver ResolverConfig `yaml:"resolver"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	MFA      MFAConfig      `yaml:"mfa"`
	Intent   IntentConfig   `yaml:"intent"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

/*
====================================
RESOLVER CONFIG
====================================
*/

// ResolverConfig controls the retry policy around the live identity check.
type ResolverConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

/*
====================================
LIMITER CONFIG
====================================
*/

// LockTier locks sign-in for Duration once the failed count reaches Threshold.
type LockTier struct {
	Threshold int           `yaml:"threshold"`
	Duration  time.Duration `yaml:"duration"`
}

// LimiterConfig configures the local, durable login limiter.
type LimiterConfig struct {
	Enabled bool       `yaml:"enabled"`
	Tiers   []LockTier `yaml:"tiers"`
}

/*
====================================
MFA / INTENT CONFIG
====================================
*/

// MFAConfig configures the step-up gate.
type MFAConfig struct {
	FriendlyName string        `yaml:"friendly_name"`
	Period       time.Duration `yaml:"period"`
	Tick         time.Duration `yaml:"tick"`
}

// IntentConfig configures the reload-surviving step-up intent.
type IntentConfig struct {
	Window time.Duration `yaml:"window"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LogConfig controls the zap logger built by NewLogger.
type LogConfig struct {
	Level        string        `yaml:"level"`
	Development  bool          `yaml:"development"`
	File         string        `yaml:"file"`
	RotationTime time.Duration `yaml:"rotation_time"`
	MaxAge       time.Duration `yaml:"max_age"`
}

func defaultConfig() Config {
	return Config{
		Resolver: ResolverConfig{
			MaxRetries: 1,
			Backoff:    250 * time.Millisecond,
		},
		Limiter: LimiterConfig{
			Enabled: true,
			Tiers: []LockTier{
				{Threshold: 10, Duration: 30 * time.Second},
				{Threshold: 15, Duration: 300 * time.Second},
			},
		},
		MFA: MFAConfig{
			FriendlyName: "Authenticator app",
			Period:       30 * time.Second,
			Tick:         time.Second,
		},
		Intent: IntentConfig{
			Window: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "gogate",
		},
		Log: LogConfig{
			Level:        "info",
			RotationTime: 24 * time.Hour,
			MaxAge:       7 * 24 * time.Hour,
		},
	}
}

// DefaultConfig returns the production defaults: retry once after 250ms,
// 10/30s and 15/300s lock tiers, a 30s TOTP period and a 5 minute intent window.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Limiter.Tiers = append([]LockTier(nil), cfg.Limiter.Tiers...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation fails.
// Validate does not mutate shared global state.
func (c *Config) Validate() error {
	if c.Resolver.MaxRetries < 0 || c.Resolver.MaxRetries > 3 {
		return errors.New("Resolver MaxRetries must be between 0 and 3")
	}
	if c.Resolver.Backoff < 0 || c.Resolver.Backoff > 10*time.Second {
		return errors.New("Resolver Backoff must be between 0 and 10s")
	}

	if c.Limiter.Enabled {
		if len(c.Limiter.Tiers) == 0 {
			return errors.New("Limiter Tiers must not be empty when enabled")
		}
		for _, tier := range c.Limiter.Tiers {
			if tier.Threshold <= 0 {
				return errors.New("Limiter tier Threshold must be > 0")
			}
			if tier.Duration <= 0 {
				return errors.New("Limiter tier Duration must be > 0")
			}
		}
		if !sort.SliceIsSorted(c.Limiter.Tiers, func(i, j int) bool {
			return c.Limiter.Tiers[i].Threshold < c.Limiter.Tiers[j].Threshold
		}) {
			return errors.New("Limiter Tiers must be ordered by ascending Threshold")
		}
	}

	if c.MFA.Period <= 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.Tick <= 0 || c.MFA.Tick > c.MFA.Period {
		return errors.New("MFA Tick must be > 0 and <= Period")
	}
	if strings.TrimSpace(c.MFA.FriendlyName) == "" {
		return errors.New("MFA FriendlyName must not be empty")
	}

	if c.Intent.Window <= 0 {
		return errors.New("Intent Window must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Log.Level)
	}
	return nil
}

/*
====================================
LOADING
====================================
*/

// LoadConfig reads a YAML file over the defaults, then applies GATE_*
// environment overrides. A .env file in the working directory is loaded
// first when present. An empty path yields defaults plus overrides.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path == "" {
		path = os.Getenv("GATE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("GATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GATE_LOG_DEV"); v != "" {
		cfg.Log.Development = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("GATE_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("GATE_METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GATE_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = enabled
	}
	for name, dst := range map[string]*time.Duration{
		"GATE_RESOLVER_BACKOFF": &cfg.Resolver.Backoff,
		"GATE_INTENT_WINDOW":    &cfg.Intent.Window,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	return nil
}
