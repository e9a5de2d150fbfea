package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Where a displayed value came from.
const (
	SourceDefault = "default"
	SourceStored  = "stored"
	SourceEnv     = "env"
)

// KeyInfo is one row of `incidentq config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Source string
}

// ShowAll lists every non-secret key with its effective value in cfg and
// whether that value is a default, stored in the platform backend, or set
// through the environment.
func ShowAll(cfg Config) []KeyInfo {
	return showAllWith(newPlatformBackend(), cfg)
}

func showAllWith(b ConfigBackend, cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
			Source: source(b, s),
		})
	}
	return result
}

func source(b ConfigBackend, s keySpec) string {
	if os.Getenv(s.env) != "" {
		return SourceEnv
	}
	if _, ok, err := b.GetString(s.key); err == nil && ok {
		return SourceStored
	}
	if _, ok, err := b.GetInt(s.key); err == nil && ok {
		return SourceStored
	}
	return SourceDefault
}

// SetKey validates value for key and stores it in the platform backend.
// Typed values are stored in canonical form, e.g. "90s" becomes "1m30s".
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookupSettable(key)
	if err != nil {
		return err
	}
	if s.check != nil {
		if err := s.check(value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}

	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch val := v.(type) {
	case int:
		if s.key == "server.port" && (val <= 0 || val > 65535) {
			return fmt.Errorf("invalid value for %s: %d is not a TCP port", key, val)
		}
		return b.SetInt(key, val)
	case bool:
		return b.SetString(key, strconv.FormatBool(val))
	case float64:
		if val < 0 {
			return fmt.Errorf("invalid value for %s: must not be negative", key)
		}
		return b.SetString(key, strconv.FormatFloat(val, 'f', -1, 64))
	case time.Duration:
		if val <= 0 {
			return fmt.Errorf("invalid value for %s: must be positive", key)
		}
		return b.SetString(key, val.String())
	default:
		return b.SetString(key, value)
	}
}

// UnsetKey removes key from the platform backend so its default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := lookupSettable(key); err != nil {
		return err
	}
	return b.Delete(key)
}

func lookupSettable(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
