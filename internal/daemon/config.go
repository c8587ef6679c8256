// Package daemon manages the gateway daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/nova-gateway/gateway/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	API      APIConfig      `toml:"api"`
	Auth     AuthConfig     `toml:"auth"`
	Cache    CacheConfig    `toml:"cache"`
	RateLim  RateLimConfig  `toml:"rate_limit"`
	Workers  WorkersConfig  `toml:"workers"`
	Training TrainingConfig `toml:"training"`
	Logging  LoggingConfig  `toml:"logging"`

	Principals []PrincipalEntry `toml:"principal"`
}

// PrincipalEntry is one statically-configured principal. API keys are not
// persisted in config: a fresh key is minted for each entry at startup and
// logged once, matching the principal's process-lifetime scope.
type PrincipalEntry struct {
	Username string `toml:"username"`
	Email    string `toml:"email"`
	Tier     string `toml:"tier"`
}

// NodeConfig identifies this gateway instance.
type NodeConfig struct {
	ID string `toml:"id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// AuthConfig controls session-token issuance and validation.
type AuthConfig struct {
	TokenSecretFile string `toml:"token_secret_file"`
	TokenLifetimeS  int    `toml:"token_lifetime_s"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled  bool `toml:"enabled"`
	TTLS     int  `toml:"ttl_s"`
	Capacity int  `toml:"capacity"`
}

// RateLimConfig controls the per-principal token bucket.
type RateLimConfig struct {
	WindowS          int     `toml:"window_s"`
	Base             float64 `toml:"base"`
	FreeMultiplier   float64 `toml:"free_multiplier"`
	BetaMultiplier   float64 `toml:"beta_multiplier"`
	PremiumMultiplier float64 `toml:"premium_multiplier"`
}

// WorkersConfig controls worker health probing and request timeouts.
type WorkersConfig struct {
	Catalogue                []WorkerEntry `toml:"catalogue"`
	ProbeIntervalS           int           `toml:"probe_interval_s"`
	ProbeTimeoutS            int           `toml:"probe_timeout_s"`
	DefaultInferenceTimeoutS int           `toml:"default_inference_timeout_s"`
	SynthesisTimeoutS        int           `toml:"synthesis_timeout_s"`
}

// WorkerEntry is one statically-configured worker in the catalogue.
type WorkerEntry struct {
	Name   string `toml:"name"`
	Domain string `toml:"domain"`
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
}

// TrainingConfig controls the training supervisor's phase grouping and
// where per-job artefacts are written.
type TrainingConfig struct {
	Phases       [][]string `toml:"phases"`
	WorkspaceDir string     `toml:"workspace_dir"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := gatewayHome()
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Auth: AuthConfig{
			TokenSecretFile: filepath.Join(home, "keys", "token.secret"),
			TokenLifetimeS:  3600,
		},
		Cache: CacheConfig{
			Enabled:  true,
			TTLS:     300,
			Capacity: 10000,
		},
		RateLim: RateLimConfig{
			WindowS:           60,
			Base:              60,
			FreeMultiplier:    1,
			BetaMultiplier:    5,
			PremiumMultiplier: 5,
		},
		Workers: WorkersConfig{
			Catalogue: []WorkerEntry{
				{Name: "synthesis-worker", Domain: "synthesis", Host: "127.0.0.1", Port: 9001},
				{Name: "architecture-worker", Domain: "architecture", Host: "127.0.0.1", Port: 9002},
				{Name: "wisdom-worker", Domain: "wisdom", Host: "127.0.0.1", Port: 9003},
				{Name: "security-worker", Domain: "security", Host: "127.0.0.1", Port: 9004},
				{Name: "transformation-worker", Domain: "transformation", Host: "127.0.0.1", Port: 9005},
				{Name: "timing-worker", Domain: "timing", Host: "127.0.0.1", Port: 9006},
				{Name: "strategy-worker", Domain: "strategy", Host: "127.0.0.1", Port: 9007},
				{Name: "communication-worker", Domain: "communication", Host: "127.0.0.1", Port: 9008},
				{Name: "protection-worker", Domain: "protection", Host: "127.0.0.1", Port: 9009},
			},
			ProbeIntervalS:           10,
			ProbeTimeoutS:            2,
			DefaultInferenceTimeoutS: 20,
			SynthesisTimeoutS:        30,
		},
		Training: TrainingConfig{
			Phases:       [][]string{},
			WorkspaceDir: filepath.Join(home, "workspace"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "gateway.log"),
		},
		Principals: []PrincipalEntry{
			{Username: "admin", Email: "admin@localhost", Tier: "premium"},
		},
	}
}

// TierMultipliers builds the domain.TierMultipliers value the rate
// limiter is constructed with.
func (c Config) TierMultipliers() domain.TierMultipliers {
	return domain.TierMultipliers{
		Free:    c.RateLim.FreeMultiplier,
		Beta:    c.RateLim.BetaMultiplier,
		Premium: c.RateLim.PremiumMultiplier,
	}
}

// LoadConfig reads config from $GATEWAY_HOME/config.toml, falling back to
// defaults when no file exists.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(gatewayHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $GATEWAY_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(gatewayHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// gatewayHome returns the gateway's data directory.
func gatewayHome() string {
	if env := os.Getenv("GATEWAY_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nova-gateway")
}

// GatewayHome is exported for use by other packages.
func GatewayHome() string {
	return gatewayHome()
}
