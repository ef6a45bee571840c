// Package store implements the DataStore (spec §4.7): a registry of named,
// isolated Index collections, lazily opened and cached so at most one
// handle per name exists at a time.
package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/index"
)

// collectionNameRe rejects path-traversal and otherwise unsafe collection
// names before they ever become part of a filesystem path (spec §4.7).
var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,200}$`)

// DataStore is the multi-collection registry. Reads (get_index without
// create, list_collections) take the read lock; opening or creating a
// collection takes the write lock, matching spec §5's "many readers,
// single writer on open/close" model.
type DataStore struct {
	dataDir string

	mu          sync.RWMutex
	collections map[string]*index.Index

	opening singleflight.Group
}

// New creates a registry rooted at dataDir. It does not eagerly open any
// collection; ListCollections alone walks the directory.
func New(dataDir string) *DataStore {
	return &DataStore{dataDir: dataDir, collections: map[string]*index.Index{}}
}

// ValidName reports whether name is safe to use as a collection name.
func ValidName(name string) bool { return collectionNameRe.MatchString(name) }

// GetIndex returns the cached handle for name, opening (and optionally
// creating) it on first use. Concurrent callers requesting the same name
// collapse onto one open via singleflight so the registry never ends up
// holding two handles to the same directory.
func (ds *DataStore) GetIndex(name string, create bool) (*index.Index, error) {
	if !ValidName(name) {
		return nil, cmn.BadRequestf("invalid collection name %q", name)
	}

	ds.mu.RLock()
	if ix, ok := ds.collections[name]; ok {
		ds.mu.RUnlock()
		return ix, nil
	}
	ds.mu.RUnlock()

	path := filepath.Join(ds.dataDir, name)
	if !create {
		if _, err := pathExists(path); err != nil {
			return nil, cmn.NotFoundf("collection %q does not exist", name)
		}
	}

	v, err, _ := ds.opening.Do(name, func() (interface{}, error) {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		if ix, ok := ds.collections[name]; ok {
			return ix, nil
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, cmn.WrapError(cmn.KindStorageError, err, "creating collection directory %s", path)
		}
		ix, err := index.Open(filepath.Join(path, "index.db"))
		if err != nil {
			return nil, err
		}
		ix.Name = name
		ds.collections[name] = ix
		glog.Infof("datastore: opened collection %q at %s", name, path)
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Index), nil
}

// ListCollections enumerates every collection directory under dataDir
// using godirwalk for a fast, allocation-light readdir, combining both
// already-open handles and directories not yet opened this process.
func (ds *DataStore) ListCollections() ([]string, error) {
	seen := map[string]struct{}{}

	ds.mu.RLock()
	for name := range ds.collections {
		seen[name] = struct{}{}
	}
	ds.mu.RUnlock()

	entries, err := godirwalk.ReadDirents(ds.dataDir, nil)
	if err != nil {
		if pe, ok := pathExistsErr(err); ok && !pe {
			names := make([]string, 0, len(seen))
			for n := range seen {
				names = append(names, n)
			}
			return names, nil
		}
		return nil, cmn.WrapError(cmn.KindStorageError, err, "listing %s", ds.dataDir)
	}
	for _, e := range entries {
		if e.IsDir() && ValidName(e.Name()) {
			seen[e.Name()] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	return names, nil
}

// CloseAll releases every open collection handle, for orderly shutdown.
func (ds *DataStore) CloseAll() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for name, ix := range ds.collections {
		if err := ix.Close(); err != nil {
			glog.Errorf("datastore: closing %q: %v", name, err)
		}
	}
	ds.collections = map[string]*index.Index{}
}
