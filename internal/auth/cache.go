package auth

import "sync"

// permissionCache memoizes per-resource write access for the lifetime of a
// session. It is invalidated wholesale on logout or session replacement,
// never per key.
type permissionCache struct {
	mu      sync.RWMutex
	entries map[string]bool
}

func newPermissionCache() *permissionCache {
	return &permissionCache{entries: make(map[string]bool)}
}

func (c *permissionCache) get(resourceID string) (allowed, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	allowed, ok = c.entries[resourceID]
	return allowed, ok
}

func (c *permissionCache) put(resourceID string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[resourceID] = allowed
}

func (c *permissionCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]bool)
}
