package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// maxEntries bounds each cache; sources number in the tens at most.
const maxEntries = 1024

// Cache holds fetched playlist bodies and provider category maps for a fixed
// duration after they were written, so back-to-back imports of the same
// source do not hit the network twice.
type Cache struct {
	playlists  *otter.Cache[string, string]
	categories *otter.Cache[string, map[string]string]
}

// NewCache creates a cache whose entries expire duration after being set.
//
// Parameters:
//   - duration: how long entries are considered valid
//
// Returns:
//   - *Cache: ready cache
func NewCache(duration time.Duration) *Cache {
	return &Cache{
		playlists: otter.Must(&otter.Options[string, string]{
			MaximumSize:      maxEntries,
			ExpiryCalculator: otter.ExpiryWriting[string, string](duration),
		}),
		categories: otter.Must(&otter.Options[string, map[string]string]{
			MaximumSize:      maxEntries,
			ExpiryCalculator: otter.ExpiryWriting[string, map[string]string](duration),
		}),
	}
}

// GetPlaylist returns a cached playlist body by URL
func (c *Cache) GetPlaylist(url string) (string, bool) {
	return c.playlists.GetIfPresent(url)
}

// SetPlaylist caches a playlist body by URL
func (c *Cache) SetPlaylist(url, body string) {
	c.playlists.Set(url, body)
}

// GetCategories returns a cached category id to name map
func (c *Cache) GetCategories(key string) (map[string]string, bool) {
	return c.categories.GetIfPresent(key)
}

// SetCategories caches a category id to name map
func (c *Cache) SetCategories(key string, m map[string]string) {
	c.categories.Set(key, m)
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.playlists.InvalidateAll()
	c.categories.InvalidateAll()
}
