// Package sodconfig implements the flat key=value ".sod/config" file
// of spec.md §6, grounded on original_source/sod/repository.py's
// get_config/set_config/clear_config (a fixed allow-list of known
// option names under a single namespace) and the teacher's
// internal/config.Load (a simple, repository-local config file read
// at startup). No third-party library covers a bespoke flat
// key=value format; the teacher's own config reader is plain
// encoding/json against a fixed schema, so a small bufio/os scanner
// for this format is the idiomatic equivalent, not a stdlib fallback
// from avoiding a library.
package sodconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"sod/internal/errs"
)

// Known option names (spec.md §6 "config keys").
const (
	KeySnapshotCommand   = "snapshot.command"
	KeyUserName          = "user.name"
	KeyDiffRenameLimit   = "diff.renameLimit"
	KeyCoreHashAlgorithm = "core.hashAlgorithm"
)

var knownKeys = map[string]bool{
	KeySnapshotCommand:   true,
	KeyUserName:          true,
	KeyDiffRenameLimit:   true,
	KeyCoreHashAlgorithm: true,
}

// IsKnown reports whether name is a recognized config key, or an
// aux.<name>.{url,type} store-registry key (spec.md §4.J persists
// stores alongside config, grounded on repository.py's
// _url_config_key/_type_config_key namespacing).
func IsKnown(name string) bool {
	if knownKeys[name] {
		return true
	}
	if strings.HasPrefix(name, "aux.") {
		return strings.HasSuffix(name, ".url") || strings.HasSuffix(name, ".type")
	}
	return false
}

// Config is the parsed ".sod/config" file: a key=value map, listed
// and saved in key order.
type Config struct {
	path   string
	values map[string]string
}

// Load reads path, or returns an empty Config if it does not exist
// yet (a freshly initialized repository).
func Load(path string) (*Config, error) {
	c := &Config{path: path, values: make(map[string]string)}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		c.values[line[:eq]] = line[eq+1:]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return c, nil
}

// Get returns a config value and whether it is set.
func (c *Config) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// All returns every set key=value pair, sorted by key (spec.md §6
// "config" with no argument "lists all ... keys").
func (c *Config) All() []KeyValue {
	out := make([]KeyValue, 0, len(c.values))
	for k, v := range c.values {
		out = append(out, KeyValue{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KeyValue is one config entry.
type KeyValue struct {
	Key   string
	Value string
}

// Set assigns a value to a known key. An empty value clears the key,
// matching original_source's config NAME= clearing form (SPEC_FULL.md
// §6.supplemented "config" semantics).
func (c *Config) Set(name, value string) error {
	if !IsKnown(name) {
		return errs.BadArgument("no such configuration option: %s", name)
	}
	if value == "" {
		delete(c.values, name)
		return nil
	}
	c.values[name] = value
	return nil
}

// Clear removes a known key entirely.
func (c *Config) Clear(name string) error {
	if !IsKnown(name) {
		return errs.BadArgument("no such configuration option: %s", name)
	}
	delete(c.values, name)
	return nil
}

// Save atomically persists the config, sorted for deterministic
// output, via the same write-temp-fsync-rename idiom used elsewhere.
func (c *Config) Save() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, kv := range c.All() {
		fmt.Fprintf(w, "%s=%s\n", kv.Key, kv.Value)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
