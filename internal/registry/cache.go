// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"launchkit-cli/pkg/coordinate"
)

// CachePathEnv overrides the default artifact cache location.
const CachePathEnv = "LAUNCHKIT_CACHE_PATH"

// defaultCacheDirName is the cache path below the user home directory.
const defaultCacheDirName = "cache"

// Cache is the local artifact store. Its layout mirrors the registry path
// space, so a cached artifact lives at {root}/{namespace}/{name}/{version}/
// {filename}. Presence of the file is the cache-hit criterion; writers must
// go through Client.Download (or equivalent temp-and-rename) so a partial
// file is never visible under its final name.
type Cache struct {
	root string
}

// NewCache opens (and creates if needed) the artifact cache rooted at dir.
// An empty dir selects the default: $LAUNCHKIT_CACHE_PATH when set,
// otherwise ~/.launchkit/cache.
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		var err error
		dir, err = DefaultCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get cache directory: %w", err)
		}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}

	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{root: absDir}, nil
}

// DefaultCacheDir returns the default artifact cache directory. It checks
// the LAUNCHKIT_CACHE_PATH environment variable first, then falls back to
// ~/.launchkit/cache.
func DefaultCacheDir() (string, error) {
	if envPath := os.Getenv(CachePathEnv); envPath != "" {
		return envPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".launchkit", defaultCacheDirName), nil
}

// Root returns the absolute cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns the cache location for a pinned coordinate.
func (c *Cache) Path(coord coordinate.Coordinate) string {
	return filepath.Join(c.root, filepath.FromSlash(coord.RegistryPath()))
}

// Has reports whether the artifact for a pinned coordinate is cached.
func (c *Cache) Has(coord coordinate.Coordinate) bool {
	info, err := os.Stat(c.Path(coord))
	return err == nil && info.Mode().IsRegular()
}
