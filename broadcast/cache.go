package broadcast

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

type result struct {
	val interface{}
	err error
}

// Cache holds the side inputs a worker has built from fetched blobs. Every key is
// built at most once; concurrent callers wait for the first build and never observe
// a partially built value.
type Cache struct {
	mu    sync.Mutex
	built map[string]result
	// bumped by Evict so a build that was in flight is not stored
	generations map[string]uint64
	group       singleflight.Group
}

func NewCache() *Cache {
	return &Cache{built: make(map[string]result), generations: make(map[string]uint64)}
}

// Load returns the value for key, building it with build on first use. Failures are
// cached as well, except context cancellation so an aborted build can be retried by
// a later job.
func (c *Cache) Load(ctx context.Context, key string, build func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	for {
		c.mu.Lock()
		if r, ok := c.built[key]; ok {
			c.mu.Unlock()
			return r.val, r.err
		}
		generation := c.generations[key]
		c.mu.Unlock()

		ch := c.group.DoChan(key, func() (interface{}, error) {
			c.mu.Lock()
			r, ok := c.built[key]
			c.mu.Unlock()
			if ok {
				return r.val, r.err
			}

			val, err := build(ctx)
			if !canceled(err) {
				c.mu.Lock()
				if c.generations[key] == generation {
					c.built[key] = result{val: val, err: err}
				}
				c.mu.Unlock()
			}

			return val, err
		})

		select {
		case res := <-ch:
			// the builder was aborted by its own context, take over
			if canceled(res.Err) && ctx.Err() == nil {
				continue
			}
			return res.Val, res.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func canceled(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (c *Cache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.built, key)
	c.generations[key]++
	c.group.Forget(key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.built)
}
