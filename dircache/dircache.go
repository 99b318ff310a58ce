// Package dircache remembers which remote directories are known to exist
// during a single upload run.
package dircache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ftpkit/ftpkit/protocol"
	"golang.org/x/sync/singleflight"
)

// Cache is a set of remote directory paths. Paths are compared as given, no
// normalization is applied. The zero value is ready to use.
type Cache struct {
	mu      sync.RWMutex
	present map[string]struct{}
	group   singleflight.Group
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Has returns true if dir has been marked present.
func (c *Cache) Has(dir string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.present[dir]
	return ok
}

// Len returns the number of directories marked present.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.present)
}

func (c *Cache) mark(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.present == nil {
		c.present = make(map[string]struct{})
	}
	c.present[dir] = struct{}{}
}

// Ensure makes sure dir exists on the remote. The first caller for a path
// runs maker.EnsureDir, concurrent callers for the same path wait for and share
// its result. A directory that turns out to already exist counts as created.
// On any other error the path stays unmarked so a later call tries again.
func (c *Cache) Ensure(ctx context.Context, maker protocol.DirMaker, dir string) error {
	if c.Has(dir) {
		return nil
	}

	_, err, _ := c.group.Do(dir, func() (any, error) {
		if c.Has(dir) {
			return nil, nil
		}
		if err := maker.EnsureDir(ctx, dir); err != nil && !errors.Is(err, protocol.ErrAlreadyExists) {
			return nil, fmt.Errorf("ensure remote directory %s: %w", dir, err)
		}
		c.mark(dir)
		return nil, nil
	})
	return err //nolint:wrapcheck
}
