package refdata

import (
	"errors"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"

	"hospitalstats/internal/errdefs"
)

// DefaultCacheSize bounds the snapshot cache. Only one or two distinct
// reference files exist per deployment, so a handful of entries suffices.
const DefaultCacheSize = 4

// Cache holds immutable reference snapshots keyed by (path, mtime).
// Touching a file invalidates its entry on the next access; concurrent first
// accesses for the same key parse the file exactly once.
type Cache struct {
	entries *lru.Cache[string, any]
	group   singleflight.Group
}

// NewCache creates a snapshot cache with the given capacity.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	entries, err := lru.New[string, any](capacity)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: create cache")
	}
	return &Cache{entries: entries}, nil
}

// key stats the file so an updated extract gets a fresh snapshot.
func key(kind, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", eris.Wrapf(errdefs.ErrMissingSourceFile, "refdata: stat %s", path)
		}
		return "", eris.Wrapf(err, "refdata: stat %s", path)
	}
	return fmt.Sprintf("%s\x00%s\x00%d", kind, path, info.ModTime().UnixNano()), nil
}

func (c *Cache) load(kind, path string, loader func(string) (any, error)) (any, error) {
	k, err := key(kind, path)
	if err != nil {
		return nil, err
	}
	if v, ok := c.entries.Get(k); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(k, func() (any, error) {
		if v, ok := c.entries.Get(k); ok {
			return v, nil
		}
		v, err := loader(path)
		if err != nil {
			return nil, err
		}
		c.entries.Add(k, v)
		return v, nil
	})
	if err != nil {
		return nil, errors.Join(errdefs.ErrReferenceLoad, err)
	}
	return v, nil
}

// Affiliations returns the cached affiliation snapshot for path, loading it
// if the file is new or has changed.
func (c *Cache) Affiliations(path string) (*AffiliationMap, error) {
	v, err := c.load("aff", path, func(p string) (any, error) {
		return LoadAffiliations(p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AffiliationMap), nil
}

// Directory returns the cached facility directory snapshot for path.
func (c *Cache) Directory(path string) (*FacilityDirectory, error) {
	v, err := c.load("dir", path, func(p string) (any, error) {
		return LoadDirectory(p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FacilityDirectory), nil
}
