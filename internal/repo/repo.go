// Package repo wires the object store, digest cache, staging index,
// config, auxiliary registry, and lock into the single Repository
// handle every cmd/sod subcommand operates on. Grounded on the
// teacher's internal/parcel.Parcel (Initialize/New/Close shape: create
// directories, open Badger, construct the dependent stores, return one
// struct) generalized from a content-deduplicating safe to Sod's
// digest-only object store plus its extra aux/config/lock layers.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"sod/internal/auxstore"
	"sod/internal/digestcache"
	"sod/internal/errs"
	"sod/internal/lock"
	"sod/internal/objstore"
	"sod/internal/sodconfig"
	"sod/internal/sodlog"
	"sod/internal/stage"
)

// DirName is the repository metadata directory, ".sod".
const DirName = ".sod"

// Repository is the opened, lock-held handle to one Sod repository.
type Repository struct {
	Root   string
	Store  *objstore.Store
	Cache  *digestcache.Cache
	Index  *stage.Index
	Config *sodconfig.Config
	Logger *sodlog.Logger
	Lock   *lock.Lock

	auxRegistry *aux.Registry
}

func sodDir(root string) string { return filepath.Join(root, DirName) }

// Initialize creates a brand-new repository at root: the .sod
// directory layout, an empty object store, and a config file with
// core.hashAlgorithm recorded (spec.md §3 "Digest" / §6 config keys).
func Initialize(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving repository root: %w", err)
	}
	dir := sodDir(absRoot)
	if _, err := os.Stat(dir); err == nil {
		return errs.BadArgument("already a sod repository: %s", dir)
	}

	if _, err := objstore.New(dir, objstore.DefaultOptions()); err != nil {
		return fmt.Errorf("initializing object store: %w", err)
	}

	cfg, err := sodconfig.Load(filepath.Join(dir, "config"))
	if err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := cfg.Set(sodconfig.KeyCoreHashAlgorithm, "sha256"); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Open opens an existing repository at or above root, the way most
// CLI subcommands do: acquiring the exclusive lock, the object store,
// the digest cache, the staging index, and config. Callers must defer
// Close.
func Open(root string, debug bool) (*Repository, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving repository root: %w", err)
	}
	repoRoot, err := FindRoot(absRoot)
	if err != nil {
		return nil, err
	}
	dir := sodDir(repoRoot)

	logger, err := sodlog.New(debug)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	l, err := lock.Acquire(filepath.Join(dir, "lock"))
	if err != nil {
		return nil, err
	}

	store, err := objstore.New(dir, objstore.DefaultOptions())
	if err != nil {
		l.Release()
		return nil, fmt.Errorf("opening object store: %w", err)
	}

	cache, err := digestcache.Open(filepath.Join(dir, "cache", "digests"), logger)
	if err != nil {
		l.Release()
		return nil, fmt.Errorf("opening digest cache: %w", err)
	}

	idx, err := stage.Open(filepath.Join(dir, "index"))
	if err != nil {
		cache.Close()
		l.Release()
		return nil, fmt.Errorf("opening staging index: %w", err)
	}

	cfg, err := sodconfig.Load(filepath.Join(dir, "config"))
	if err != nil {
		cache.Close()
		l.Release()
		return nil, fmt.Errorf("opening config: %w", err)
	}

	return &Repository{
		Root:   repoRoot,
		Store:  store,
		Cache:  cache,
		Index:  idx,
		Config: cfg,
		Logger: logger,
		Lock:   l,
	}, nil
}

// FindRoot walks upward from dir looking for a ".sod" directory,
// matching git's "any parent up to /" repository discovery.
func FindRoot(dir string) (string, error) {
	cur := dir
	for {
		if info, err := os.Stat(sodDir(cur)); err == nil && info.IsDir() {
			return cur, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", errs.NotARepository(dir)
		}
		cur = parent
	}
}

// AuxRegistry lazily opens the auxiliary-store reverse-index registry
// from the stores recorded in Config, caching it for the repository's
// lifetime.
func (r *Repository) AuxRegistry() (*aux.Registry, error) {
	if r.auxRegistry != nil {
		return r.auxRegistry, nil
	}
	stores := r.ConfiguredAuxStores()
	reg, err := aux.OpenRegistry(filepath.Join(sodDir(r.Root), "cache", "aux"), stores)
	if err != nil {
		return nil, err
	}
	r.auxRegistry = reg
	return reg, nil
}

// ConfiguredAuxStores reads the aux.<name>.{url,type} keys persisted
// in Config back into aux.Store records.
func (r *Repository) ConfiguredAuxStores() []aux.Store {
	names := make(map[string]bool)
	for _, kv := range r.Config.All() {
		if len(kv.Key) > 4 && kv.Key[:4] == "aux." {
			rest := kv.Key[4:]
			if i := indexByte(rest, '.'); i > 0 {
				names[rest[:i]] = true
			}
		}
	}
	var stores []aux.Store
	for name := range names {
		url, _ := r.Config.Get("aux." + name + ".url")
		kind, _ := r.Config.Get("aux." + name + ".type")
		if kind == "" {
			kind = "plain"
		}
		stores = append(stores, aux.Store{Name: name, Kind: kind, URL: url})
	}
	return stores
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Close releases every resource Open acquired, in reverse order,
// collecting (not short-circuiting on) errors, matching the teacher's
// Parcel.Close shape.
func (r *Repository) Close() error {
	if r == nil {
		return nil
	}
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if r.auxRegistry != nil {
		record(r.auxRegistry.Close())
	}
	if r.Index != nil {
		record(r.Index.Save())
	}
	if r.Cache != nil {
		record(r.Cache.Close())
	}
	_ = r.Logger.Sync() // zap.Sync on a terminal fd routinely errors; not a real failure
	record(r.Lock.Release())
	return firstErr
}
