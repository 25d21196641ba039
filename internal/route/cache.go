package route

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Lister is the slice of the store the cache needs.
type Lister interface {
	FindAll(ctx context.Context) ([]Route, error)
}

// Cache holds an atomically replaceable snapshot of all routes keyed by
// path prefix, so the request path never touches the store. Readers always
// observe a complete snapshot; Refresh publishes a new map in one step.
type Cache struct {
	store            Lister
	snapshot         atomic.Value // map[string]Route
	onRefresh        func(count int)
	onRefreshFailure func()
}

func NewCache(store Lister) *Cache {
	c := &Cache{store: store}
	c.snapshot.Store(map[string]Route{})
	return c
}

// SetOnRefresh registers a callback invoked with the snapshot size after
// every successful refresh. Used for metrics; may be left unset.
func (c *Cache) SetOnRefresh(fn func(count int)) {
	c.onRefresh = fn
}

// SetOnRefreshFailure registers a callback invoked when a refresh fails.
func (c *Cache) SetOnRefreshFailure(fn func()) {
	c.onRefreshFailure = fn
}

// Refresh reads the full store and swaps in a fresh snapshot. On error the
// previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	routes, err := c.store.FindAll(ctx)
	if err != nil {
		if c.onRefreshFailure != nil {
			c.onRefreshFailure()
		}
		return fmt.Errorf("route cache refresh: %w", err)
	}
	updated := make(map[string]Route, len(routes))
	for _, r := range routes {
		updated[r.Path] = r
	}
	c.snapshot.Store(updated)
	if c.onRefresh != nil {
		c.onRefresh(len(updated))
	}
	log.Printf("route cache refreshed: %d routes", len(updated))
	return nil
}

// FindMatch returns the route whose path is the longest prefix of
// requestPath. Ties cannot happen since paths are unique keys.
func (c *Cache) FindMatch(requestPath string) (Route, bool) {
	snap := c.current()
	var best Route
	bestLen := -1
	for path, r := range snap {
		if len(path) > bestLen && hasPrefix(requestPath, path) {
			best = r
			bestLen = len(path)
		}
	}
	return best, bestLen >= 0
}

// Size reports the number of routes in the current snapshot.
func (c *Cache) Size() int {
	return len(c.current())
}

func (c *Cache) current() map[string]Route {
	return c.snapshot.Load().(map[string]Route)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// RefreshLoop refreshes the cache on a fixed delay: the timer is re-armed
// only after a refresh completes, so runs never overlap even when the store
// is slow. A failed refresh keeps the previous snapshot and retries on the
// next tick.
func RefreshLoop(c *Cache, interval time.Duration, stop <-chan struct{}) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			if err := c.Refresh(context.Background()); err != nil {
				log.Printf("WARN route cache refresh failed, keeping previous snapshot: %v", err)
			}
			timer.Reset(interval)
		}
	}
}
