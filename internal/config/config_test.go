package config

import (
	"os"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	setEnv(t, "DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "DATABASE_URL", "postgres://localhost/intake")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.AutoFileThreshold != 90 {
		t.Errorf("expected default auto-file threshold 90, got %d", cfg.AutoFileThreshold)
	}
	if cfg.ShadowMode {
		t.Error("expected shadow mode off by default")
	}
	if cfg.EscalationTickSeconds != 60 {
		t.Errorf("expected default escalation tick 60s, got %d", cfg.EscalationTickSeconds)
	}
}

func TestValidate_ProductionRequiresSigningKey(t *testing.T) {
	cfg := &Config{
		Env:                   "production",
		AutoFileThreshold:     90,
		EscalationTickSeconds: 60,
		GatewayTimeoutSeconds: 10,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for production without signing key")
	}
	cfg.AuthSigningKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ThresholdRange(t *testing.T) {
	cfg := &Config{
		Env:                   "development",
		AutoFileThreshold:     101,
		EscalationTickSeconds: 60,
		GatewayTimeoutSeconds: 10,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for threshold above 100")
	}
	cfg.AutoFileThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative threshold")
	}
}

func TestValidate_TickMustBePositive(t *testing.T) {
	cfg := &Config{
		Env:                   "development",
		AutoFileThreshold:     90,
		EscalationTickSeconds: 0,
		GatewayTimeoutSeconds: 10,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero escalation tick")
	}
}
