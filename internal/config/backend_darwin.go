//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// defaultsDomain is the UserDefaults domain holding incidentq settings.
// Inspect with `defaults read com.kalambet.incidentq`.
const defaultsDomain = "com.kalambet.incidentq"

// defaultDataDir holds queue.db and the daemon PID file.
func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "incidentq")
	}
	return "incidentq-data"
}

// defaultsBackend reads and writes settings through the `defaults` CLI.
// Booleans written by `config set` are stored as strings; a value written by
// hand with `-bool` reads back as 1 or 0, which parseValue also accepts.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

// run invokes `defaults <verb> <domain> <args...>` and returns its trimmed
// output.
func (b *defaultsBackend) run(verb string, args ...string) (string, error) {
	cmd := exec.Command("defaults", append([]string{verb, b.domain}, args...)...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	s, err := b.run("read", key)
	if err != nil {
		// Exit status 1 means the domain or key does not exist.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s %s: %w (%s)", b.domain, key, err, s)
	}
	return s, true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s in %s is not an integer: %w", key, b.domain, err)
	}
	return i, true, nil
}

func (b *defaultsBackend) write(key, typeFlag, val string) error {
	if out, err := b.run("write", key, typeFlag, val); err != nil {
		return fmt.Errorf("defaults write %s %s: %w (%s)", b.domain, key, err, out)
	}
	return nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

// Delete succeeds when key is already absent.
func (b *defaultsBackend) Delete(key string) error {
	if _, ok, err := b.GetString(key); err != nil || !ok {
		return err
	}
	if out, err := b.run("delete", key); err != nil {
		return fmt.Errorf("defaults delete %s %s: %w (%s)", b.domain, key, err, out)
	}
	return nil
}
