// Package filestore is a cache.Store keeping one file per key in a directory.
//
// Keys are escaped into file names, so any key is valid. Writes go through a
// temporary file and a rename, so readers never observe partial payloads.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/specialistvlad/lazymod/internal/cache"
	"github.com/specialistvlad/lazymod/internal/ctxlog"
)

const keyPrefix = "cache:"

// Store keeps payloads under a root directory.
type Store struct {
	root string
}

var _ cache.Store = (*Store)(nil)

// New creates the root directory if needed and returns a store on it.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, url.QueryEscape(key))
}

// Get reads the payload of key, or returns cache.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	buf, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%q: %w", key, cache.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}
	return buf, nil
}

// Put writes value under key, replacing any previous payload.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create cache entry %q: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("failed to commit cache entry %q: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory %q: %w", s.root, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		key, err := url.QueryUnescape(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Prune removes payloads cached for versions other than current. Entries of a
// newer semantic version are kept, they may belong to a newer deployment
// sharing the directory. It returns the number of removed entries.
func (s *Store) Prune(ctx context.Context, current string) (int, error) {
	logger := ctxlog.FromContext(ctx)
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		version, ok := versionOf(key)
		if !ok || version == current || newer(version, current) {
			continue
		}
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to prune cache entry %q: %w", key, err)
		}
		logger.Debug("Pruned stale cache entry.", "key", key, "version", version)
		removed++
	}
	return removed, nil
}

// versionOf extracts the version of a "cache:<version>:<name>" key.
func versionOf(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", false
	}
	version, _, ok := strings.Cut(rest, ":")
	return version, ok
}

// newer reports whether version is a semantic version above current. Bundle
// versions may omit the leading "v".
func newer(version, current string) bool {
	v, c := canonical(version), canonical(current)
	if !semver.IsValid(v) || !semver.IsValid(c) {
		return false
	}
	return semver.Compare(v, c) > 0
}

func canonical(version string) string {
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return semver.Canonical(version)
}
