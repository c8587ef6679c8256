package daemon

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8080)
	}
	if cfg.Cache.Capacity != 10000 {
		t.Errorf("Cache.Capacity = %d, want %d", cfg.Cache.Capacity, 10000)
	}
	if cfg.Auth.TokenLifetimeS != 3600 {
		t.Errorf("Auth.TokenLifetimeS = %d, want %d", cfg.Auth.TokenLifetimeS, 3600)
	}
	if len(cfg.Principals) != 1 || cfg.Principals[0].Username != "admin" {
		t.Errorf("Principals = %+v, want one entry for admin", cfg.Principals)
	}
}

func TestConfig_TierMultipliers(t *testing.T) {
	cfg := DefaultConfig()
	m := cfg.TierMultipliers()

	if m.Free != cfg.RateLim.FreeMultiplier {
		t.Errorf("Free = %v, want %v", m.Free, cfg.RateLim.FreeMultiplier)
	}
	if m.Beta != cfg.RateLim.BetaMultiplier {
		t.Errorf("Beta = %v, want %v", m.Beta, cfg.RateLim.BetaMultiplier)
	}
	if m.Premium != cfg.RateLim.PremiumMultiplier {
		t.Errorf("Premium = %v, want %v", m.Premium, cfg.RateLim.PremiumMultiplier)
	}
}
