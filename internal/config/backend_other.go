//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// defaultDataDir holds queue.db and the daemon PID file.
func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "incidentq-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "incidentq")
}

// fileBackend keeps settings in config.json grouped by section, mirroring
// the Config struct:
//
//	{"webhook": {"url": "https://...", "timeout": "30s"}, "server": {"port": 4100}}
//
// A dotted key such as "webhook.url" addresses section "webhook", entry "url".
type fileBackend struct {
	path     string
	sections map[string]map[string]any
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, sections: make(map[string]map[string]any)}
	b.load()
	return b
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "incidentq", "config.json")
}

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		}
		return
	}
	if err := json.Unmarshal(data, &b.sections); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] config file %s is not sectioned JSON: %v. Using default values.\n", b.path, err)
		b.sections = make(map[string]map[string]any)
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.sections, "", "  ")
	if err != nil {
		return err
	}
	// Webhook URLs may embed credentials.
	return os.WriteFile(b.path, append(data, '\n'), 0o600)
}

func splitKey(key string) (section, name string) {
	section, name, ok := strings.Cut(key, ".")
	if !ok {
		return "", key
	}
	return section, name
}

func (b *fileBackend) lookup(key string) (any, bool) {
	section, name := splitKey(key)
	v, ok := b.sections[section][name]
	return v, ok
}

func (b *fileBackend) set(key string, v any) error {
	section, name := splitKey(key)
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]any)
	}
	b.sections[section][name] = v
	return b.save()
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	// Hand-edited files may hold JSON booleans or numbers for typed keys.
	return fmt.Sprintf("%v", v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("%s = %v is not an integer", key, val)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("%s = %q is not an integer: %w", key, val, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s has unsupported type %T", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

// Delete drops the entry and any section it leaves empty.
func (b *fileBackend) Delete(key string) error {
	section, name := splitKey(key)
	entries, ok := b.sections[section]
	if !ok {
		return nil
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	if len(entries) == 0 {
		delete(b.sections, section)
	}
	return b.save()
}
