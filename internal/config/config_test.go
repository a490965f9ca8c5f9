package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created, got %v", err)
	}
	if cfg.MaxRetries != 3 || cfg.BackoffBase != 2 || cfg.Timeout != 10 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.DBPath != "queue.db" || cfg.LogDir != "logs" {
		t.Errorf("unexpected paths: %+v", cfg)
	}
}

func TestSet_PersistsAndCoerces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if _, err := Set(path, "max_retries", "5"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := Set(path, "db_path", "/tmp/other.db"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", cfg.MaxRetries)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("expected db_path updated, got %s", cfg.DBPath)
	}
	if cfg.BackoffBase != 2 {
		t.Errorf("expected untouched keys to keep defaults, got %v", cfg.BackoffBase)
	}
}

func TestSet_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "colour", "blue"},
		{"not a number", "timeout", "soon"},
		{"fractional int", "max_retries", "2.5"},
		{"negative retries", "max_retries", "-1"},
		{"zero timeout", "timeout", "0"},
		{"zero grace period", "grace_period", "0"},
		{"stale before timeout", "stale_after", "12"},
		{"timeout past stale", "timeout", "300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Set(path, tt.key, tt.value); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("QUEUECTL_MAX_RETRIES", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("expected env override 7, got %d", cfg.MaxRetries)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"timeout": -4}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 0.5

	if got := cfg.PollIntervalDuration(); got != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", got)
	}
	if got := cfg.TimeoutDuration(); got != 10*time.Second {
		t.Errorf("expected 10s, got %v", got)
	}
	if got := cfg.StaleAfterDuration(); got != 5*time.Minute {
		t.Errorf("expected 5m, got %v", got)
	}
}

func TestValidate_StaleAfterBound(t *testing.T) {
	tests := []struct {
		name       string
		timeout    int
		grace      int
		staleAfter int
		wantErr    bool
	}{
		{"defaults", 10, 2, 300, false},
		{"just above", 600, 5, 606, false},
		{"equal to run time", 600, 5, 605, true},
		{"below timeout", 600, 2, 300, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Timeout = tt.timeout
			cfg.GracePeriod = tt.grace
			cfg.StaleAfter = tt.staleAfter

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}

	cfg := DefaultConfig()
	if got := cfg.MaxRunDuration(); got != 12*time.Second {
		t.Errorf("expected 12s max run, got %v", got)
	}
}

func TestLoad_RejectsStaleAfterBelowTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"timeout": 600, "stale_after": 300}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected stale_after below timeout to be rejected")
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if len(keys) != 13 {
		t.Errorf("expected 13 keys, got %d: %v", len(keys), keys)
	}
}
