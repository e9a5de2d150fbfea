package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strs[key]
	return v, ok, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapBackend) SetString(key, val string) error { b.strs[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.ints[key] = val; return nil }

func (b *mapBackend) Delete(key string) error {
	delete(b.strs, key)
	delete(b.ints, key)
	return nil
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	value  string
	err    error
	stored map[string]string
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.stored[service+"/"+account]; ok {
		return v, nil
	}
	return m.value, m.err
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.stored == nil {
		m.stored = map[string]string{}
	}
	m.stored[service+"/"+account] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when only the webhook URL is set.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.strs["webhook.url"] = "https://hooks.example.com/catch/1"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 5 {
		t.Errorf("Server.RateLimit = %v, want 5", cfg.Server.RateLimit)
	}
	if cfg.Webhook.Timeout != 30*time.Second {
		t.Errorf("Webhook.Timeout = %s, want 30s", cfg.Webhook.Timeout)
	}
	if cfg.Connectivity.Interval != 5*time.Second {
		t.Errorf("Connectivity.Interval = %s, want 5s", cfg.Connectivity.Interval)
	}
	if cfg.Connectivity.ForceOffline {
		t.Error("Connectivity.ForceOffline should default to false")
	}
	if cfg.Attachments.Policy != "annotate" {
		t.Errorf("Attachments.Policy = %q, want %q", cfg.Attachments.Policy, "annotate")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir should have a platform default")
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		t.Errorf("Telemetry.OTLPEndpoint = %q, want empty", cfg.Telemetry.OTLPEndpoint)
	}
}

// TestMissingWebhookURL verifies a clear error when the webhook URL is missing everywhere.
func TestMissingWebhookURL(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMapBackend())
	if err == nil {
		t.Fatal("expected error for missing webhook URL, got nil")
	}
	if got, want := err.Error(), "missing required config"; !strings.Contains(got, want) {
		t.Errorf("error = %q, want it to contain %q", got, want)
	}
}

func TestInvalidWebhookURL(t *testing.T) {
	clearEnv(t)
	for _, raw := range []string{"hooks.example.com/catch", "ftp://hooks.example.com", "https://"} {
		b := newMapBackend()
		b.strs["webhook.url"] = raw
		if _, err := loadWith(b); err == nil {
			t.Errorf("webhook.url %q: expected error, got nil", raw)
		}
	}
}

// TestBackendValues verifies that typed values are read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.ints["server.port"] = 5100
	b.strs["server.rate_limit"] = "0.5"
	b.strs["webhook.url"] = "http://localhost:9000/hook"
	b.strs["webhook.timeout"] = "10s"
	b.strs["connectivity.interval"] = "1m"
	b.strs["connectivity.offline"] = "true"
	b.strs["attachments.policy"] = "disable"
	b.strs["storage.data_dir"] = "/tmp/incidentq-test"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5100 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 0.5 {
		t.Errorf("Server.RateLimit = %v", cfg.Server.RateLimit)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Errorf("Webhook.Timeout = %s", cfg.Webhook.Timeout)
	}
	if cfg.Connectivity.Interval != time.Minute {
		t.Errorf("Connectivity.Interval = %s", cfg.Connectivity.Interval)
	}
	if !cfg.Connectivity.ForceOffline {
		t.Error("Connectivity.ForceOffline = false, want true")
	}
	if cfg.Attachments.Policy != "disable" {
		t.Errorf("Attachments.Policy = %q", cfg.Attachments.Policy)
	}
	if cfg.Storage.DataDir != "/tmp/incidentq-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

// TestBackendBadValueKeepsDefault verifies unparseable values fall back to defaults.
func TestBackendBadValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.strs["webhook.url"] = "http://localhost:9000/hook"
	b.strs["webhook.timeout"] = "soon"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Webhook.Timeout != 30*time.Second {
		t.Errorf("Webhook.Timeout = %s, want default 30s", cfg.Webhook.Timeout)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.strs["webhook.url"] = "http://file.example.com/hook"
	b.ints["server.port"] = 5100

	t.Setenv("INCIDENTQ_WEBHOOK_URL", "https://env.example.com/hook")
	t.Setenv("INCIDENTQ_SERVER_PORT", "6100")
	t.Setenv("INCIDENTQ_CONNECTIVITY_OFFLINE", "1")
	t.Setenv("INCIDENTQ_WEBHOOK_TIMEOUT", "2s")
	t.Setenv("INCIDENTQ_LOG_LEVEL", "debug")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Webhook.URL != "https://env.example.com/hook" {
		t.Errorf("Webhook.URL = %q", cfg.Webhook.URL)
	}
	if cfg.Server.Port != 6100 {
		t.Errorf("Server.Port = %d, want 6100", cfg.Server.Port)
	}
	if !cfg.Connectivity.ForceOffline {
		t.Error("Connectivity.ForceOffline = false, want true")
	}
	if cfg.Webhook.Timeout != 2*time.Second {
		t.Errorf("Webhook.Timeout = %s, want 2s", cfg.Webhook.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("set server.port: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d", b.ints["server.port"])
	}

	canonical := map[string][2]string{
		"webhook.timeout":        {"90s", "1m30s"},
		"connectivity.offline":   {"1", "true"},
		"server.rate_limit":      {"2.50", "2.5"},
		"attachments.policy":     {"disable", "disable"},
		"connectivity.probe_url": {"http://example.com/ping", "http://example.com/ping"},
	}
	for key, tc := range canonical {
		if err := setKeyWith(b, key, tc[0]); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
		if b.strs[key] != tc[1] {
			t.Errorf("%s stored as %q, want %q", key, b.strs[key], tc[1])
		}
	}

	for key, value := range map[string]string{
		"server.port":           "abc",
		"webhook.timeout":       "later",
		"connectivity.interval": "-5s",
		"connectivity.offline":  "maybe",
		"webhook.url":           "hooks.example.com/catch",
		"attachments.policy":    "sometimes",
		"log.level":             "verbose",
		"no.such.key":           "x",
		"server.api_token":      "secret",
	} {
		if err := setKeyWith(b, key, value); err == nil {
			t.Errorf("setKeyWith(%q, %q): expected error", key, value)
		}
	}
	if err := setKeyWith(b, "server.port", "70000"); err == nil {
		t.Error("setKeyWith(server.port, 70000): expected error")
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.strs["webhook.url"] = "https://hooks.example.com/catch/1"
	b.strs["webhook.timeout"] = "5s"

	if err := unsetKeyWith(b, "webhook.timeout"); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Webhook.Timeout != 30*time.Second {
		t.Errorf("Webhook.Timeout = %v, want default 30s", cfg.Webhook.Timeout)
	}
	if err := unsetKeyWith(b, "server.api_token"); err == nil {
		t.Error("unsetting a secret should fail")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	keys := showAllWith(newMapBackend(), defaults())
	if len(keys) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, ValidKeys %d", len(keys), len(ValidKeys()))
	}
	for _, k := range keys {
		if k.Key == "server.api_token" {
			t.Error("secret key should not be shown")
		}
		if k.Key == "webhook.timeout" && k.Value != "30s" {
			t.Errorf("webhook.timeout shown as %q", k.Value)
		}
	}
}

func TestShowAllSources(t *testing.T) {
	clearEnv(t)
	t.Setenv("INCIDENTQ_LOG_LEVEL", "debug")
	b := newMapBackend()
	b.strs["webhook.url"] = "https://hooks.example.com/catch/1"
	b.ints["server.port"] = 4200

	want := map[string]string{
		"webhook.url":     SourceStored,
		"server.port":     SourceStored,
		"log.level":       SourceEnv,
		"webhook.timeout": SourceDefault,
	}
	for _, k := range showAllWith(b, defaults()) {
		if w, ok := want[k.Key]; ok && k.Source != w {
			t.Errorf("%s source = %q, want %q", k.Key, k.Source, w)
		}
	}
}

func TestGetAPIToken(t *testing.T) {
	t.Run("env", func(t *testing.T) {
		t.Setenv("INCIDENTQ_API_TOKEN", "env-token")
		tok, err := GetAPIToken(&mockKeychain{value: "keychain-token"})
		if err != nil || tok != "env-token" {
			t.Fatalf("GetAPIToken = %q, %v", tok, err)
		}
	})

	t.Run("keychain", func(t *testing.T) {
		t.Setenv("INCIDENTQ_API_TOKEN", "")
		tok, err := GetAPIToken(&mockKeychain{value: "keychain-token"})
		if err != nil || tok != "keychain-token" {
			t.Fatalf("GetAPIToken = %q, %v", tok, err)
		}
	})

	t.Run("generated and stored", func(t *testing.T) {
		t.Setenv("INCIDENTQ_API_TOKEN", "")
		kc := &mockKeychain{err: errors.New("not found")}
		tok, err := GetAPIToken(kc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tok) != 64 {
			t.Errorf("token length = %d, want 64", len(tok))
		}
		again, _ := GetAPIToken(kc)
		if again != tok {
			t.Errorf("second call returned %q, want stored %q", again, tok)
		}
	})
}
