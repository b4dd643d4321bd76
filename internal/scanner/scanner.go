// Package scanner walks a working tree, applies ignore rules and an
// optional pattern filter, and produces a deterministic snapshot of
// {path, digest, mode}, consulting the digest cache to avoid
// rehashing unchanged files (spec.md §4.E). The worker-pool
// parallelism is grounded on spec.md §5's "worker pool whose size
// defaults to the number of hardware execution contexts", generalized
// from the teacher's sync.Pool-of-codecs idiom in
// internal/safe/compression.go into a pool of hashing goroutines.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"

	"sod/internal/digest"
	"sod/internal/digestcache"
	"sod/internal/sodpath"
)

// FileResult is one scanned working-tree file.
type FileResult struct {
	Path    string
	Digest  digest.Digest
	Mode    uint32
	Symlink bool
	Err     error // per-file I/O error; does not abort the walk
}

// Options controls a Scan.
type Options struct {
	// Patterns restricts the scan to matching paths; empty means "all".
	Patterns []string
	// IncludeIgnored, if set, also reports ignored paths in the result
	// rather than suppressing them.
	IncludeIgnored bool
	// Rehash bypasses the digest cache entirely (spec.md §4.D).
	Rehash bool
	// Workers bounds the hashing worker pool; 0 means
	// runtime.NumCPU().
	Workers int
}

// Result is the scanner's deterministic output.
type Result struct {
	Files   []FileResult
	Ignored []string
}

// Scan walks root and returns the working-tree snapshot. Walk order
// is by byte order of directory entry name, so Files and Ignored are
// always sorted by path and the result is identical across repeated
// calls against unchanged state (spec.md §8 property 3).
func Scan(root string, cache *digestcache.Cache, opts Options) (Result, error) {
	candidates, ignored, err := walk(root, opts.IncludeIgnored)
	if err != nil {
		return Result{}, err
	}

	if len(opts.Patterns) > 0 {
		candidates = filterByPatterns(candidates, opts.Patterns)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
	}

	jobs := make(chan string)
	results := make(chan FileResult)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for relPath := range jobs {
				results <- hashOne(root, relPath, cache, opts.Rehash)
			}
		}()
	}
	go func() {
		for _, c := range candidates {
			jobs <- c
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var files []FileResult
	for r := range results {
		files = append(files, r)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	sort.Strings(ignored)

	return Result{Files: files, Ignored: ignored}, nil
}

// filterByPatterns keeps paths matching any pattern, normalizing each
// pattern through sodpath.Clean first so "." / "./" resolve to the
// match-all pattern (see stage.matchPatterns for the same rule applied
// to staging).
func filterByPatterns(paths []string, patterns []string) []string {
	var out []string
	for _, p := range paths {
		for _, pat := range patterns {
			if sodpath.MatchPattern(sodpath.Clean(pat), p) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// walk performs the serial directory traversal (directory ordering
// decisions must be serial to apply ignore rules correctly) and
// returns the file candidates plus the set of ignored paths.
func walk(root string, includeIgnored bool) (files []string, ignored []string, err error) {
	var recurse func(dir string) error
	recurse = func(dir string) error {
		entries, rerr := os.ReadDir(filepath.Join(root, dir))
		if rerr != nil {
			return fmt.Errorf("reading directory %q: %w", dir, rerr)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			rel := e.Name()
			if dir != "" {
				rel = sodpath.Join(dir, e.Name())
			}
			if e.IsDir() {
				childNames, lerr := listNames(filepath.Join(root, rel))
				if lerr != nil {
					return fmt.Errorf("reading directory %q: %w", rel, lerr)
				}
				if sodpath.IsIgnoredDir(e.Name(), childNames) {
					if includeIgnored {
						ignored = append(ignored, rel)
					}
					continue
				}
				if err := recurse(rel); err != nil {
					return err
				}
				continue
			}
			files = append(files, rel)
		}
		return nil
	}

	if err := recurse(""); err != nil {
		return nil, nil, err
	}
	return files, ignored, nil
}

func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// hashOne computes (or retrieves from cache) the digest for one
// working-tree file. Permission and other per-file I/O errors are
// reported on the FileResult rather than returned, so the walk
// continues (spec.md §4.E).
func hashOne(root, relPath string, cache *digestcache.Cache, rehash bool) FileResult {
	absPath := filepath.Join(root, relPath)
	info, err := os.Lstat(absPath)
	if err != nil {
		return FileResult{Path: relPath, Err: fmt.Errorf("stat: %w", err)}
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(absPath)
		if err != nil {
			return FileResult{Path: relPath, Err: fmt.Errorf("readlink: %w", err)}
		}
		return FileResult{Path: relPath, Digest: digest.Bytes([]byte(target)), Mode: uint32(info.Mode().Perm()) | 0o120000, Symlink: true}
	}

	sig := statSignature(info)
	if !rehash && cache != nil {
		if d, ok := cache.Lookup(relPath, sig); ok {
			return FileResult{Path: relPath, Digest: d, Mode: modeOf(info)}
		}
	}

	f, err := os.Open(absPath)
	if err != nil {
		return FileResult{Path: relPath, Err: fmt.Errorf("open: %w", err)}
	}
	defer f.Close()

	d, err := digest.Stream(f)
	if err != nil {
		return FileResult{Path: relPath, Err: fmt.Errorf("reading: %w", err)}
	}

	if cache != nil {
		if err := cache.Store(relPath, sig, d); err != nil {
			return FileResult{Path: relPath, Digest: d, Mode: modeOf(info), Err: fmt.Errorf("updating digest cache: %w", err)}
		}
	}

	return FileResult{Path: relPath, Digest: d, Mode: modeOf(info)}
}

func modeOf(info os.FileInfo) uint32 {
	if info.Mode()&0o111 != 0 {
		return 0o100755
	}
	return 0o100644
}

// statSignature extracts the cheap fingerprint spec.md §3 names:
// size, mtime seconds/nanos, inode, device.
func statSignature(info os.FileInfo) digestcache.StatSignature {
	sig := digestcache.StatSignature{
		Size:    info.Size(),
		ModSec:  info.ModTime().Unix(),
		ModNsec: int64(info.ModTime().Nanosecond()),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		sig.Inode = st.Ino
		sig.Device = uint64(st.Dev)
	}
	return sig
}
