package shopauth

import (
	"net/http"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with hs256 key",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "jwt access ttl zero",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "jwt refresh ttl negative",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = -time.Hour
			},
			wantValid: false,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "hs256 missing key",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "ed25519 missing public key",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = []byte("seed")
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "jwt leeway negative",
			mutate: func(c *Config) {
				c.JWT.Leeway = -time.Second
			},
			wantValid: false,
		},
		{
			name: "session lifetime zero",
			mutate: func(c *Config) {
				c.Session.AbsoluteSessionLifetime = 0
			},
			wantValid: false,
		},
		{
			name: "password memory below floor",
			mutate: func(c *Config) {
				c.Password.Memory = 4096
			},
			wantValid: false,
		},
		{
			name: "password salt too short",
			mutate: func(c *Config) {
				c.Password.SaltLength = 8
			},
			wantValid: false,
		},
		{
			name: "account enabled without default role",
			mutate: func(c *Config) {
				c.Account.Enabled = true
				c.Account.DefaultRole = ""
			},
			wantValid: false,
		},
		{
			name: "cookie name empty",
			mutate: func(c *Config) {
				c.Cookie.Name = ""
			},
			wantValid: false,
		},
		{
			name: "cookie path empty",
			mutate: func(c *Config) {
				c.Cookie.Path = ""
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "login attempts zero",
			mutate: func(c *Config) {
				c.Security.MaxLoginAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "refresh throttle without cooldown",
			mutate: func(c *Config) {
				c.Security.EnableRefreshThrottle = true
				c.Security.RefreshCooldownDuration = 0
			},
			wantValid: false,
		},
		{
			name: "refresh throttle disabled ignores limits",
			mutate: func(c *Config) {
				c.Security.EnableRefreshThrottle = false
				c.Security.MaxRefreshAttempts = 0
				c.Security.RefreshCooldownDuration = 0
			},
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestDefaultConfigContract(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.JWT.SigningMethod != "ed25519" {
		t.Fatalf("default signing method must be ed25519, got %q", cfg.JWT.SigningMethod)
	}
	if cfg.Cookie.Name != "shop_session" {
		t.Fatalf("unexpected default cookie name %q", cfg.Cookie.Name)
	}
	if cfg.Cookie.Path != "/auth" {
		t.Fatalf("refresh cookie must be scoped to /auth, got %q", cfg.Cookie.Path)
	}
	if !cfg.Cookie.Secure {
		t.Fatal("default cookie must be Secure")
	}
	if cfg.Cookie.SameSite != http.SameSiteStrictMode {
		t.Fatal("default cookie must be SameSite=Strict")
	}
	if cfg.Account.DefaultRole != "customer" {
		t.Fatalf("unexpected default role %q", cfg.Account.DefaultRole)
	}
	if !cfg.Security.EnableRefreshThrottle {
		t.Fatal("refresh throttle must default on")
	}
}

func TestSessionLifetimeIsBoundedByAbsoluteLifetime(t *testing.T) {
	cfg := validTestConfig()
	cfg.JWT.RefreshTTL = 30 * 24 * time.Hour
	cfg.Session.AbsoluteSessionLifetime = 7 * 24 * time.Hour

	if got := cfg.sessionLifetime(); got != 7*24*time.Hour {
		t.Fatalf("expected absolute lifetime to cap session TTL, got %v", got)
	}

	cfg.JWT.RefreshTTL = time.Hour
	if got := cfg.sessionLifetime(); got != time.Hour {
		t.Fatalf("expected refresh TTL to bound session TTL, got %v", got)
	}
}

func TestCloneConfigDetachesKeyMaterial(t *testing.T) {
	cfg := validTestConfig()
	clone := cloneConfig(cfg)

	clone.JWT.PrivateKey[0] ^= 0xff
	if cfg.JWT.PrivateKey[0] == clone.JWT.PrivateKey[0] {
		t.Fatal("clone must not share private key backing array")
	}
}
