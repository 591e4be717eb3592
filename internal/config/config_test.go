package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, cfg map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"busName":      "org.example.device",
		"keyStorePath": "/tmp/keystore.bin",
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default %d", cfg.Port, DefaultPort)
	}
	if cfg.ExpansionQueueDepth != 32 {
		t.Errorf("ExpansionQueueDepth = %d, want 32", cfg.ExpansionQueueDepth)
	}
	if cfg.DefaultTimeout == 0 || cfg.AuthTimeout == 0 {
		t.Error("expected DefaultTimeout/AuthTimeout to be defaulted")
	}
}

func TestLoadMissingBusNameFails(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"keyStorePath": "/tmp/keystore.bin",
	})
	if _, err := Load(path); err != ErrBusNameRequired {
		t.Fatalf("expected ErrBusNameRequired, got %v", err)
	}
}

func TestLoadMissingKeyStorePathFails(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"busName": "org.example.device",
	})
	if _, err := Load(path); err != ErrKeyStorePathRequired {
		t.Fatalf("expected ErrKeyStorePathRequired, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.json")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
