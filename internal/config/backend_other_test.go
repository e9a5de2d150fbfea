//go:build !darwin

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidentq", "config.json")

	b := newFileBackend(path)
	if err := b.SetString("webhook.url", "https://hooks.example.com/catch/1"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	reloaded := newFileBackend(path)
	if v, ok, _ := reloaded.GetString("webhook.url"); !ok || v != "https://hooks.example.com/catch/1" {
		t.Errorf("webhook.url = %q, %v", v, ok)
	}
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 4200 {
		t.Errorf("server.port = %d, %v, %v", v, ok, err)
	}

	if err := reloaded.Delete("server.port"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newFileBackend(path).GetInt("server.port"); ok {
		t.Error("server.port still present after Delete")
	}
}

func TestFileBackend_LoadsIntoConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "webhook": {"url": "http://localhost:9000/hook", "timeout": "45s"},
  "server": {"port": 5100},
  "connectivity": {"offline": true}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5100 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if !cfg.Connectivity.ForceOffline {
		t.Error("Connectivity.ForceOffline = false, want true")
	}
	if cfg.Webhook.Timeout != 45*time.Second {
		t.Errorf("Webhook.Timeout = %v, want 45s", cfg.Webhook.Timeout)
	}
}

func TestFileBackend_SectionedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)

	if err := setKeyWith(b, "webhook.url", "https://hooks.example.com/catch/1"); err != nil {
		t.Fatal(err)
	}
	if err := setKeyWith(b, "webhook.timeout", "90s"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("config.json is not sectioned: %v\n%s", err, data)
	}
	if doc["webhook"]["url"] != "https://hooks.example.com/catch/1" || doc["webhook"]["timeout"] != "1m30s" {
		t.Errorf("webhook section = %v", doc["webhook"])
	}

	if err := unsetKeyWith(b, "webhook.url"); err != nil {
		t.Fatal(err)
	}
	if err := unsetKeyWith(b, "webhook.timeout"); err != nil {
		t.Fatal(err)
	}
	if _, ok := newFileBackend(path).sections["webhook"]; ok {
		t.Error("empty webhook section should be removed")
	}
}

func TestFileBackend_FlatFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"webhook.url":"http://localhost:9000/hook"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newFileBackend(path).GetString("webhook.url"); ok {
		t.Error("flat keys should not be read")
	}
}

func TestSecretsFile_SetGet(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	kc := NewKeychain()
	if _, err := kc.Get("incidentq", "api_token"); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := kc.Set("incidentq", "api_token", "abc"); err != nil {
		t.Fatal(err)
	}
	if v, err := kc.Get("incidentq", "api_token"); err != nil || v != "abc" {
		t.Errorf("Get = %q, %v", v, err)
	}
}
