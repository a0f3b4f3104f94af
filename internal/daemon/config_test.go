package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8080)
	}
	if cfg.Redemption.OTPTTLMinutes != 10 {
		t.Errorf("Redemption.OTPTTLMinutes = %d, want %d", cfg.Redemption.OTPTTLMinutes, 10)
	}
	if cfg.Redemption.MaxOTPAttempts != 3 {
		t.Errorf("Redemption.MaxOTPAttempts = %d, want %d", cfg.Redemption.MaxOTPAttempts, 3)
	}
	if cfg.Expiry.Enabled {
		t.Error("Expiry.Enabled should be false by default (opt-in)")
	}
	if cfg.Expiry.InactiveDays != 365 {
		t.Errorf("Expiry.InactiveDays = %d, want %d", cfg.Expiry.InactiveDays, 365)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default %d", cfg.API.Port, 8080)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[api]
host = "0.0.0.0"
port = 9090

[auth]
jwt_secret = "file-secret"
token_ttl_hours = 48

[redemption]
otp_ttl_minutes = 5

[expiry]
enabled = true
inactive_days = 180
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr() = %q, want %q", cfg.Addr(), "0.0.0.0:9090")
	}
	if cfg.Auth.JWTSecret != "file-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "file-secret")
	}
	if cfg.TokenTTL() != 48*time.Hour {
		t.Errorf("TokenTTL() = %v, want %v", cfg.TokenTTL(), 48*time.Hour)
	}
	if cfg.OTPTTL() != 5*time.Minute {
		t.Errorf("OTPTTL() = %v, want %v", cfg.OTPTTL(), 5*time.Minute)
	}
	// Unset fields keep their defaults.
	if cfg.Redemption.MaxOTPAttempts != 3 {
		t.Errorf("Redemption.MaxOTPAttempts = %d, want default %d", cfg.Redemption.MaxOTPAttempts, 3)
	}
	if !cfg.Expiry.Enabled {
		t.Error("Expiry.Enabled should be true from file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LAUREL_JWT_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "env-secret")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[api]\nport = -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative port")
	}
}
