// Package digestcache implements the (path, stat-signature) → digest
// cache of spec.md §4.D, persisted in BadgerDB (teacher:
// internal/workspace/local.go's file_state: badger keys, and
// internal/storage.BadgerStore's generic prefix-keyed CRUD). Writes
// are serialized through a single goroutine "mailbox", matching
// spec.md §5's requirement that the cache never be mutated without
// serialization even though the scanner hashes files concurrently.
package digestcache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"sod/internal/digest"
	"sod/internal/sodlog"
)

const keyPrefix = "digest:"

// StatSignature is the cheap filesystem fingerprint spec.md §3
// describes: "{size, mtime-seconds, mtime-nanos, inode, device}".
type StatSignature struct {
	Size    int64  `json:"size"`
	ModSec  int64  `json:"mod_sec"`
	ModNsec int64  `json:"mod_nsec"`
	Inode   uint64 `json:"inode"`
	Device  uint64 `json:"device"`
}

type entry struct {
	Sig    StatSignature `json:"sig"`
	Digest string        `json:"digest"`
}

type writeRequest struct {
	path string
	sig  StatSignature
	d    digest.Digest
	done chan error
}

// Cache is the persisted, process-local digest cache.
type Cache struct {
	db     *badger.DB
	owned  bool
	logger *sodlog.Logger
	writes chan writeRequest
	done   chan struct{}
}

// Open opens (creating if absent) the Badger-backed cache rooted at
// dir (typically "<repo>/.sod/cache/digests").
func Open(dir string, logger *sodlog.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening digest cache: %w", err)
	}
	return newCache(db, true, logger), nil
}

func newCache(db *badger.DB, owned bool, logger *sodlog.Logger) *Cache {
	if logger == nil {
		logger = sodlog.Nop()
	}
	c := &Cache{db: db, owned: owned, logger: logger, writes: make(chan writeRequest, 64), done: make(chan struct{})}
	go c.mailbox()
	return c
}

// mailbox is the single writer goroutine spec.md §5 requires: every
// mutation to the cache passes through here, one at a time, even when
// many scanner workers call Store concurrently.
func (c *Cache) mailbox() {
	defer close(c.done)
	for req := range c.writes {
		err := c.db.Update(func(txn *badger.Txn) error {
			e := entry{Sig: req.sig, Digest: req.d.String()}
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			return txn.Set([]byte(keyPrefix+req.path), data)
		})
		if req.done != nil {
			req.done <- err
		}
	}
}

// Lookup returns the cached digest for path if its stat signature
// matches sig exactly; ok is false on miss or mismatch, signaling the
// caller must rehash.
func (c *Cache) Lookup(path string, sig StatSignature) (d digest.Digest, ok bool) {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e entry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			if e.Sig != sig {
				return badger.ErrKeyNotFound
			}
			parsed, err := digest.Parse(e.Digest)
			if err != nil {
				return err
			}
			d = parsed
			ok = true
			return nil
		})
	})
	if err != nil {
		return digest.Digest{}, false
	}
	return d, ok
}

// Store records path's current stat signature and digest, through the
// single-writer mailbox. It blocks until the write is durable.
func (c *Cache) Store(path string, sig StatSignature, d digest.Digest) error {
	req := writeRequest{path: path, sig: sig, d: d, done: make(chan error, 1)}
	c.writes <- req
	return <-req.done
}

// Forget removes a cache entry. The scanner does not call it, so an
// entry for a path that disappeared stays in the cache until Forget is
// called for that path.
func (c *Cache) Forget(path string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + path))
	})
}

// Close stops the mailbox goroutine and, if this Cache opened its own
// database, closes it.
func (c *Cache) Close() error {
	close(c.writes)
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("digest cache mailbox did not drain in time")
	}
	if c.owned {
		return c.db.Close()
	}
	return nil
}
