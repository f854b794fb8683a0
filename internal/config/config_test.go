package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want file", cfg.Store.Backend)
	}
	if cfg.Entitlement.GraceWindow != 35*24*time.Hour {
		t.Errorf("GraceWindow = %v, want 840h", cfg.Entitlement.GraceWindow)
	}
	if cfg.Entitlement.TrialWindow != 7*24*time.Hour {
		t.Errorf("TrialWindow = %v, want 168h", cfg.Entitlement.TrialWindow)
	}
	if cfg.Quota.MonthlyFreeLimit != 5 {
		t.Errorf("MonthlyFreeLimit = %d, want 5", cfg.Quota.MonthlyFreeLimit)
	}
	if cfg.Quota.TrialDailyLimit != 20 {
		t.Errorf("TrialDailyLimit = %d, want 20", cfg.Quota.TrialDailyLimit)
	}
	if cfg.Quota.AnonymousDailyLimit != 2 {
		t.Errorf("AnonymousDailyLimit = %d, want 2", cfg.Quota.AnonymousDailyLimit)
	}
	if cfg.Billing.OracleTimeout != 5*time.Second {
		t.Errorf("OracleTimeout = %v, want 5s", cfg.Billing.OracleTimeout)
	}
	if len(cfg.Completion.Models) != 3 {
		t.Errorf("Completion.Models = %v, want 3 entries", cfg.Completion.Models)
	}
	if cfg.Build.Version == "" {
		t.Error("Build.Version must be populated")
	}
}

func TestLoadConfig_MissingEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected validation error for missing APP_ENV")
	}
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production-ish")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected validation error for invalid APP_ENV")
	}
}

func TestLoadConfig_InvalidStoreBackend(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("STORE_BACKEND", "etcd")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected validation error for invalid STORE_BACKEND")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("QUOTA_MONTHLY_FREE", "3")
	t.Setenv("PREMIUM_GRACE_WINDOW", "720h")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Quota.MonthlyFreeLimit != 3 {
		t.Errorf("MonthlyFreeLimit = %d, want 3", cfg.Quota.MonthlyFreeLimit)
	}
	if cfg.Entitlement.GraceWindow != 30*24*time.Hour {
		t.Errorf("GraceWindow = %v, want 720h", cfg.Entitlement.GraceWindow)
	}
	if cfg.Billing.StripeSecretKey.Unmask() != "sk_test_123" {
		t.Error("StripeSecretKey not populated from env")
	}
	// Redaction must hold for secrets loaded from env.
	if cfg.Billing.StripeSecretKey.String() == "sk_test_123" {
		t.Error("SecretString must not expose the raw value via String()")
	}
}
