package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		UserID:         "alice",
		Remote:         Remote{BaseURL: "https://msg.example.com", Token: "secret", TimeoutSeconds: 5},
		Sync:           Sync{IntervalSeconds: 120, SchedulerIntervalSeconds: 15, ProbeAddr: "8.8.8.8:53"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Remote.BaseURL != "https://msg.example.com" || loaded.Remote.TimeoutSeconds != 5 {
		t.Errorf("Remote = %+v", loaded.Remote)
	}
	if loaded.Sync.IntervalSeconds != 120 {
		t.Errorf("Sync.IntervalSeconds = %d, want 120", loaded.Sync.IntervalSeconds)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Sync.IntervalSeconds != 60 || cfg.Remote.TimeoutSeconds != 10 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadOrDefaultMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_profile = [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(path); err == nil {
		t.Error("LoadOrDefault() expected error for malformed file")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
