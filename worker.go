// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package imagecache

// run is the decode worker. It drains the prefetch queue before the decode
// queue, one item per step, and parks on wake when both are empty. Decodes
// are strictly serialized here.
func (c *Cache) run() {
	defer c.wg.Done()

	c.log.Debug("decode worker started")
	defer c.log.Debug("decode worker stopped")

	for {
		for c.ctx.Err() == nil {
			if !c.step() {
				break
			}
		}

		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
	}
}

// signal wakes the worker without blocking.
func (c *Cache) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// enqueueLocked hands a pending entry to the worker.
func (c *Cache) enqueueLocked(e *entry) {
	c.decodeQueue = append(c.decodeQueue, e)
	c.signal()
}

// step performs one unit of work and reports whether there was any.
func (c *Cache) step() bool {
	c.mu.Lock()
	if len(c.prefetchQueue) > 0 {
		name := c.prefetchQueue[0]
		c.prefetchQueue[0] = ""
		c.prefetchQueue = c.prefetchQueue[1:]
		delete(c.prefetched, name)
		c.mu.Unlock()

		c.prefetch(name)
		return true
	}
	if len(c.decodeQueue) > 0 {
		e := c.decodeQueue[0]
		c.decodeQueue[0] = nil
		c.decodeQueue = c.decodeQueue[1:]
		if e.loaded.Load() {
			c.unrefLocked(e)
			c.mu.Unlock()
			return true
		}
		c.mu.Unlock()

		c.decode(e)
		return true
	}
	c.mu.Unlock()
	return false
}

// prefetch resolves name and queues a decode unless the key is missing,
// resident or already in flight.
func (c *Cache) prefetch(name string) {
	key, err := c.source.Resolve(name)
	if err != nil {
		c.stats.prefetchSkipped.Add(1)
		c.log.Warn("failed to resolve prefetch", "name", name, "error", err)
		return
	}
	if !c.source.Exists(key) {
		c.stats.prefetchSkipped.Add(1)
		c.log.Warn("prefetch source does not exist", "key", key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.pending[key]; ok || c.index.Contains(key) {
		c.stats.prefetchSkipped.Add(1)
		return
	}
	c.decodeQueue = append(c.decodeQueue, c.pendingLocked(key))
}
