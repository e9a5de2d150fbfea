package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	// check runs on `config set` before the value is stored.
	check   func(raw string) error
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INCIDENTQ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit", typ: kFloat, env: "INCIDENTQ_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "webhook.url", typ: kString, env: "INCIDENTQ_WEBHOOK_URL",
		check:   checkHTTPURL,
		apply:   func(cfg *Config, v any) { cfg.Webhook.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Webhook.URL },
	},
	{
		key: "webhook.timeout", typ: kDuration, env: "INCIDENTQ_WEBHOOK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Webhook.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Webhook.Timeout },
	},
	{
		key: "webhook.user_agent", typ: kString, env: "INCIDENTQ_WEBHOOK_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Webhook.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Webhook.UserAgent },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INCIDENTQ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "connectivity.probe_url", typ: kString, env: "INCIDENTQ_CONNECTIVITY_PROBE_URL",
		check:   checkHTTPURL,
		apply:   func(cfg *Config, v any) { cfg.Connectivity.ProbeURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Connectivity.ProbeURL },
	},
	{
		key: "connectivity.interval", typ: kDuration, env: "INCIDENTQ_CONNECTIVITY_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Connectivity.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Connectivity.Interval },
	},
	{
		key: "connectivity.offline", typ: kBool, env: "INCIDENTQ_CONNECTIVITY_OFFLINE",
		apply:   func(cfg *Config, v any) { cfg.Connectivity.ForceOffline = v.(bool) },
		extract: func(cfg Config) any { return cfg.Connectivity.ForceOffline },
	},
	{
		key: "attachments.policy", typ: kString, env: "INCIDENTQ_ATTACHMENTS_POLICY",
		check:   oneOf("annotate", "disable"),
		apply:   func(cfg *Config, v any) { cfg.Attachments.Policy = v.(string) },
		extract: func(cfg Config) any { return cfg.Attachments.Policy },
	},
	{
		key: "form.schema_path", typ: kString, env: "INCIDENTQ_FORM_SCHEMA_PATH",
		apply:   func(cfg *Config, v any) { cfg.Form.SchemaPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Form.SchemaPath },
	},
	{
		key: "log.level", typ: kString, env: "INCIDENTQ_LOG_LEVEL",
		check:   oneOf("debug", "info", "warn", "error"),
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "telemetry.otlp_endpoint", typ: kString, env: "INCIDENTQ_TELEMETRY_OTLP_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.OTLPEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.OTLPEndpoint },
	},
	{
		key: "telemetry.insecure", typ: kBool, env: "INCIDENTQ_TELEMETRY_INSECURE",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.Insecure = v.(bool) },
		extract: func(cfg Config) any { return cfg.Telemetry.Insecure },
	},
	{
		key: "server.api_token", typ: kString, env: "INCIDENTQ_API_TOKEN",
		secret: true,
	},
}

func oneOf(allowed ...string) func(string) error {
	return func(raw string) error {
		for _, a := range allowed {
			if raw == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %s", raw, strings.Join(allowed, ", "))
	}
}

// parseValue converts a raw string for a key of type typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" || s.secret {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
