package template

import "sync"

// Cache provides thread-safe caching of built layouts keyed by template path.
//
// A batch grades every sheet against the same template, and the tool server
// sees the same template path on every call; building it once avoids
// re-reading and re-interpolating the file.
//
// # Example Usage
//
//	cache := template.NewCache()
//	layout, err := cache.Load("/templates/midterm.json")
//	if err != nil {
//	    return err
//	}
type Cache struct {
	mu      sync.RWMutex
	layouts map[string]*Layout
}

// NewCache creates an empty layout cache.
func NewCache() *Cache {
	return &Cache{
		layouts: make(map[string]*Layout),
	}
}

// Load returns the cached layout for path, building it on first use.
//
// The layout is cached using the exact path string provided. Failed builds
// are not cached.
func (c *Cache) Load(path string) (*Layout, error) {
	c.mu.RLock()
	if layout, ok := c.layouts[path]; ok {
		c.mu.RUnlock()
		return layout, nil
	}
	c.mu.RUnlock()

	layout, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.layouts[path] = layout
	c.mu.Unlock()

	return layout, nil
}

// Evict removes a single path from the cache, forcing the next Load to
// re-read the file.
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	delete(c.layouts, path)
	c.mu.Unlock()
}

// Clear removes all layouts from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.layouts = make(map[string]*Layout)
	c.mu.Unlock()
}
