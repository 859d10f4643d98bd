package corpus

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"example.com/signalgate/internal/signalset"
)

var ErrNoSignalset = errors.New("test case names no signalset")

// SignalsetCache loads each signalset of a directory at most once. Loaded
// sets are shared read-only between workers.
type SignalsetCache struct {
	dir string

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once sync.Once
	set  *signalset.Signalset
	err  error
}

func NewSignalsetCache(dir string) *SignalsetCache {
	return &SignalsetCache{dir: dir, entries: make(map[string]*cacheEntry)}
}

// Path resolves a signalset file name against the cache directory.
func (c *SignalsetCache) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.dir, name)
}

// Get returns the signalset stored under name, loading it on first use.
// Load failures are cached too.
func (c *SignalsetCache) Get(name string) (*signalset.Signalset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoSignalset
	}
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok {
		e = &cacheEntry{}
		c.entries[name] = e
	}
	c.mu.Unlock()
	e.once.Do(func() {
		e.set, e.err = signalset.LoadFile(c.Path(name))
		if e.err != nil {
			e.err = fmt.Errorf("signalset %s: %w", name, e.err)
		}
	})
	return e.set, e.err
}

// Len reports how many signalsets have been requested.
func (c *SignalsetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
