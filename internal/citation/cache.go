package citation

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LinkCache holds resolved links for one assistant turn, keyed by citation index.
// Concurrent lookups of the same index share a single fetch.
type LinkCache struct {
	mu    sync.RWMutex
	links map[int]string
	group singleflight.Group
}

func NewLinkCache() *LinkCache {
	return &LinkCache{links: make(map[int]string)}
}

// Get returns the cached link for index, calling fetch at most once per index on success.
// An empty link is a valid, cached answer ("source has no link"). Errors are not cached.
func (c *LinkCache) Get(ctx context.Context, index int, fetch func(ctx context.Context) (string, error)) (string, error) {
	c.mu.RLock()
	link, ok := c.links[index]
	c.mu.RUnlock()
	if ok {
		return link, nil
	}

	v, err, _ := c.group.Do(strconv.Itoa(index), func() (any, error) {
		c.mu.RLock()
		link, ok := c.links[index]
		c.mu.RUnlock()
		if ok {
			return link, nil
		}

		link, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.links[index] = link
		c.mu.Unlock()
		return link, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len reports how many indices are cached.
func (c *LinkCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}
