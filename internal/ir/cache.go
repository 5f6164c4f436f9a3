package ir

import (
	"sync"

	log "github.com/fanrarie/ProtoMind/minilog"
)

// Cache is a process-wide, mutex-guarded parse cache keyed by source path.
// Multiple fuzzing sessions spawned by the same host process share parse
// work through this type instead of re-parsing a potentially large IR
// document; callers receive a reference valid for the duration of their
// session.
type Cache struct {
	mu   sync.Mutex
	docs map[string]*IR
}

// NewCache returns an empty process-wide cache. Most callers should use the
// package-level Default instance instead of constructing their own, so that
// independently-initialized subsystems within one process still share work.
func NewCache() *Cache {
	return &Cache{docs: make(map[string]*IR)}
}

// Default is the process-wide cache instance used by the LoadCached helper
// below.
var Default = NewCache()

// Load parses path once and returns the cached IR on every subsequent call
// for the same path.
func (c *Cache) Load(path string) (*IR, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if doc, ok := c.docs[path]; ok {
		return doc, nil
	}

	log.Info("ir: parsing %s", path)
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.docs[path] = doc
	return doc, nil
}

// LoadCached is a convenience wrapper around Default.Load.
func LoadCached(path string) (*IR, error) {
	return Default.Load(path)
}
