package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	os.Setenv("POSTGRES_URL", "postgres://localhost/sandboxctl")
	defer os.Unsetenv("POSTGRES_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Workspace.WarmIdleMin != 20 {
		t.Errorf("Workspace.WarmIdleMin = %d, want 20", cfg.Workspace.WarmIdleMin)
	}
	if cfg.Run.MaxPerDay != 500 {
		t.Errorf("Run.MaxPerDay = %d, want 500", cfg.Run.MaxPerDay)
	}
	if cfg.Workspace.ColdTTLDays != 30 {
		t.Errorf("Workspace.ColdTTLDays = %d, want 30", cfg.Workspace.ColdTTLDays)
	}
	if cfg.Evidence.TTLDays != 180 {
		t.Errorf("Evidence.TTLDays = %d, want 180", cfg.Evidence.TTLDays)
	}
}

func TestLoadMissingPostgresURLFails(t *testing.T) {
	os.Unsetenv("POSTGRES_URL")
	if _, err := Load(); err == nil {
		t.Errorf("Load() with no POSTGRES_URL should fail validation")
	}
}

func TestLoadRespectsEnvOverrides(t *testing.T) {
	os.Setenv("POSTGRES_URL", "postgres://localhost/sandboxctl")
	os.Setenv("WARM_IDLE_MINUTES", "45")
	os.Setenv("MAX_RUNS_PER_DAY", "10")
	defer func() {
		os.Unsetenv("POSTGRES_URL")
		os.Unsetenv("WARM_IDLE_MINUTES")
		os.Unsetenv("MAX_RUNS_PER_DAY")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workspace.WarmIdleMin != 45 {
		t.Errorf("Workspace.WarmIdleMin = %d, want 45", cfg.Workspace.WarmIdleMin)
	}
	if cfg.Run.MaxPerDay != 10 {
		t.Errorf("Run.MaxPerDay = %d, want 10", cfg.Run.MaxPerDay)
	}
}
