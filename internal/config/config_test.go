package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work", DeviceName: "laptop", ChatPort: 9100}
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
	if loaded.DeviceName != "laptop" {
		t.Errorf("DeviceName = %q, want %q", loaded.DeviceName, "laptop")
	}
	if loaded.ChatPort != 9100 {
		t.Errorf("ChatPort = %d, want 9100", loaded.ChatPort)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ChatPort != DefaultChatPort {
		t.Errorf("ChatPort = %d, want default %d", loaded.ChatPort, DefaultChatPort)
	}
	if loaded.PollInterval() != time.Duration(DefaultPollIntervalSeconds)*time.Second {
		t.Errorf("PollInterval = %v, want %ds", loaded.PollInterval(), DefaultPollIntervalSeconds)
	}
	if loaded.InitTimeout() != time.Duration(DefaultInitTimeoutSeconds)*time.Second {
		t.Errorf("InitTimeout = %v, want %ds", loaded.InitTimeout(), DefaultInitTimeoutSeconds)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
