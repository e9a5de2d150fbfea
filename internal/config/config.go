package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server       ServerConfig
	Webhook      WebhookConfig
	Storage      StorageConfig
	Connectivity ConnectivityConfig
	Attachments  AttachmentsConfig
	Form         FormConfig
	Log          LogConfig
	Telemetry    TelemetryConfig
}

type ServerConfig struct {
	Port int
	// RateLimit is the intake request rate per second; 0 disables it.
	RateLimit float64
}

type WebhookConfig struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

type StorageConfig struct {
	DataDir string
}

type ConnectivityConfig struct {
	// ProbeURL defaults to the webhook origin when empty.
	ProbeURL     string
	Interval     time.Duration
	ForceOffline bool
}

type AttachmentsConfig struct {
	Policy string
}

type FormConfig struct {
	// SchemaPath is a YAML form definition; empty uses the built-in form.
	SchemaPath string
}

type LogConfig struct {
	Level string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 5,
		},
		Webhook: WebhookConfig{
			Timeout:   30 * time.Second,
			UserAgent: "incidentq",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Connectivity: ConnectivityConfig{
			Interval: 5 * time.Second,
		},
		Attachments: AttachmentsConfig{
			Policy: "annotate",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.kalambet.incidentq).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/incidentq/config.json.
//
// Environment variables (INCIDENTQ_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

// LoadUnchecked is Load without validation, for displaying partial config.
func LoadUnchecked() (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, newPlatformBackend()); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.Webhook.URL == "" {
		return fmt.Errorf("missing required config: webhook URL. " +
			"Set it via environment variable INCIDENTQ_WEBHOOK_URL or `incidentq config set webhook.url <url>`")
	}
	if err := checkHTTPURL(cfg.Webhook.URL); err != nil {
		return fmt.Errorf("invalid webhook.url: %w", err)
	}
	if cfg.Webhook.Timeout <= 0 {
		return fmt.Errorf("invalid webhook.timeout %s: must be positive", cfg.Webhook.Timeout)
	}
	if cfg.Connectivity.Interval <= 0 {
		return fmt.Errorf("invalid connectivity.interval %s: must be positive", cfg.Connectivity.Interval)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}
