// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package imagecache decodes images off the calling goroutine and keeps the
// decoded pixels in a byte-budgeted LRU cache.
//
// Consumers receive counted Handles. A resident entry is held by the cache
// itself and by every outstanding handle; it is freed once the cache evicts
// it and the last handle is released. Loads of a key that is already
// resident or being decoded share the existing entry, so a key is never
// decoded twice concurrently.
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/imagecache/decode"
	"github.com/luxfi/imagecache/lru"
)

// Cache is the coordination point for image loads. It owns the decode
// worker goroutine; call Close to stop it.
type Cache struct {
	// mu guards index, pending, both queues, closed and the resident and
	// destroyed flags of every entry.
	mu            sync.Mutex
	index         *lru.Index[string, *entry]
	pending       map[string]*entry
	decodeQueue   []*entry
	prefetchQueue []string
	prefetched    map[string]struct{}
	closed        bool

	source   decode.Source
	decoder  decode.Decoder
	log      *slog.Logger
	observer Observer
	stats    counters
	nextID   atomic.Uint64
	owned    io.Closer

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a cache and starts its decode worker.
func New(opts ...Option) (*Cache, error) {
	cfg := applyOptions(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	var owned io.Closer
	if cfg.Source == nil {
		src, err := decode.NewFileSource(nil)
		if err != nil {
			return nil, err
		}
		cfg.Source = src
		owned = src
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		pending:    make(map[string]*entry),
		prefetched: make(map[string]struct{}),
		source:     cfg.Source,
		decoder:    cfg.Decoder,
		log:        cfg.Logger,
		observer:   cfg.Observer,
		owned:      owned,
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.index = lru.New[string, *entry](cfg.MaxBytes, (*entry).cost, c.evicted)
	c.observer.Usage(0, cfg.MaxBytes, 0)

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Close stops and joins the decode worker, abandons queued decodes and
// drops every resident entry. Entries with outstanding handles stay valid
// until released. Close is safe to call multiple times.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.decodeQueue {
		e.setResult(nil, ErrClosed)
		c.finishLocked(e)
	}
	c.decodeQueue = nil
	c.prefetchQueue = nil
	c.prefetched = make(map[string]struct{})
	c.index.Flush()
	c.reportUsageLocked()
	if c.owned != nil {
		return c.owned.Close()
	}
	return nil
}

// Load returns a handle to the decoded image for name, decoding it on the
// calling goroutine on a miss. If another load of the same key is in
// flight, Load waits for it. Decode failures are reported through the
// handle, not the returned error.
func (c *Cache) Load(ctx context.Context, name string) (*Handle, error) {
	key, err := c.source.Resolve(name)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		return c.failed(name, err), nil
	}
	if e, ok := c.lookupLocked(key); ok {
		h := c.handleLocked(e)
		c.mu.Unlock()
		if err := h.Wait(ctx); err != nil {
			c.Release(h)
			return nil, err
		}
		return h, nil
	}

	e := c.missLocked(key)
	h := c.handleLocked(e)
	c.mu.Unlock()

	c.decode(e)
	return h, nil
}

// LoadAsync returns a handle immediately and decodes name on the worker
// goroutine if it is neither resident nor already being decoded. Poll
// Handle.Loaded or wait on Handle.Done for completion.
func (c *Cache) LoadAsync(name string) (*Handle, error) {
	key, err := c.source.Resolve(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err != nil {
		return c.failed(name, err), nil
	}
	if e, ok := c.lookupLocked(key); ok {
		return c.handleLocked(e), nil
	}

	e := c.missLocked(key)
	h := c.handleLocked(e)
	c.enqueueLocked(e)
	return h, nil
}

// Release drops a handle's reference. An entry that is not resident is
// freed when its last reference goes. Releasing a handle twice is ignored.
func (c *Cache) Release(h *Handle) {
	if h == nil || h.e == nil {
		c.log.Warn("release of invalid handle", "error", ErrInvalidHandle)
		return
	}
	if !h.released.CompareAndSwap(false, true) {
		c.stats.doubleReleases.Add(1)
		c.log.Warn("handle released twice", "key", h.e.key)
		return
	}

	c.mu.Lock()
	c.unrefLocked(h.e)
	c.mu.Unlock()
}

// CheckLoaded reports whether h's decode attempt has finished.
func (c *Cache) CheckLoaded(h *Handle) bool {
	return h != nil && h.e != nil && h.Loaded()
}

// Resize changes the byte budget and prunes immediately. A budget of 0
// disables caching. Negative values are treated as 0.
func (c *Cache) Resize(maxBytes int64) {
	if maxBytes < 0 {
		maxBytes = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.Resize(maxBytes)
	c.reportUsageLocked()
}

// Prefetch queues name for a background decode with no handle returned.
// A name already queued is not queued twice, and the worker skips names
// that are resident or missing when it gets to them.
func (c *Cache) Prefetch(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, queued := c.prefetched[name]; queued {
		return nil
	}
	c.prefetched[name] = struct{}{}
	c.prefetchQueue = append(c.prefetchQueue, name)
	c.signal()
	return nil
}

// MaxBytes returns the byte budget.
func (c *Cache) MaxBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.MaxBytes()
}

// CurrentBytes returns the bytes held by resident entries.
func (c *Cache) CurrentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Bytes()
}

// Count returns the number of resident entries.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// NameAt returns the key at recency position i, 0 being most recent.
func (c *Cache) NameAt(i int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _, ok := c.index.At(i)
	return key, ok
}

// SizeAt returns the byte cost at recency position i.
func (c *Cache) SizeAt(i int) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, cost, ok := c.index.At(i)
	return cost, ok
}

// Keys returns the resident keys, most recently used first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Keys()
}

// Contains reports whether name is resident. It does not change recency.
func (c *Cache) Contains(name string) bool {
	key, err := c.source.Resolve(name)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Contains(key)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return c.stats.snapshot()
}

// lookupLocked finds a resident or in-flight entry for key, promoting a
// resident one.
func (c *Cache) lookupLocked(key string) (*entry, bool) {
	if e, ok := c.index.Get(key); ok {
		c.stats.hits.Add(1)
		c.observer.Hit()
		return e, true
	}
	if e, ok := c.pending[key]; ok {
		c.stats.hits.Add(1)
		c.observer.Hit()
		return e, true
	}
	return nil, false
}

// missLocked records a miss and creates a pending entry for key.
func (c *Cache) missLocked(key string) *entry {
	c.stats.misses.Add(1)
	c.observer.Miss()
	return c.pendingLocked(key)
}

// pendingLocked creates a pending entry carrying the decoder's transient
// hold and registers it so later loads of key share it.
func (c *Cache) pendingLocked(key string) *entry {
	e := newEntry(key, c.nextID.Add(1))
	e.refs.Store(1)
	c.pending[key] = e
	return e
}

func (c *Cache) handleLocked(e *entry) *Handle {
	e.refs.Add(1)
	return &Handle{c: c, e: e}
}

// failed returns a handle to a standalone entry that failed before it
// could be keyed.
func (c *Cache) failed(name string, err error) *Handle {
	c.stats.openFailures.Add(1)
	c.log.Warn("failed to resolve image", "name", name, "error", err)
	e := newEntry(name, c.nextID.Add(1))
	e.refs.Store(1)
	e.setResult(nil, err)
	e.markLoaded()
	return &Handle{c: c, e: e}
}

// unrefLocked drops one reference and frees the entry when it was the last
// one and the entry is not resident.
func (c *Cache) unrefLocked(e *entry) {
	for {
		n := e.refs.Load()
		if n <= 0 {
			c.stats.refUnderflows.Add(1)
			c.log.Warn("reference count underflow", "key", e.key, "id", e.id)
			return
		}
		if e.refs.CompareAndSwap(n, n-1) {
			if n-1 == 0 && !e.resident && !e.destroyed {
				e.destroy()
				c.stats.destroyed.Add(1)
			}
			return
		}
	}
}

// evicted is the index's eviction callback; it runs with mu held.
func (c *Cache) evicted(_ string, e *entry) {
	e.resident = false
	c.stats.evictions.Add(1)
	c.observer.Evicted()
	c.unrefLocked(e)
}

// publishLocked inserts a successfully decoded entry into the index unless
// it is larger than the whole budget or the cache is closed.
func (c *Cache) publishLocked(e *entry) {
	if e.img == nil || c.closed {
		return
	}
	cost := e.cost()
	if cost > c.index.MaxBytes() {
		c.stats.oversized.Add(1)
		c.log.Debug("decoded image exceeds cache budget, not caching",
			"key", e.key,
			"bytes", cost,
			"max_bytes", c.index.MaxBytes(),
		)
		return
	}
	e.refs.Add(1)
	e.resident = true
	if !c.index.Put(e.key, e) {
		// Put only rejects entries larger than the budget.
		e.resident = false
		c.unrefLocked(e)
	}
}

// finishLocked publishes a decoded entry, wakes its waiters and drops the
// decoder's transient hold.
func (c *Cache) finishLocked(e *entry) {
	if c.pending[e.key] == e {
		delete(c.pending, e.key)
	}
	c.publishLocked(e)
	e.markLoaded()
	c.unrefLocked(e)
	c.reportUsageLocked()
}

func (c *Cache) reportUsageLocked() {
	c.observer.Usage(c.index.Bytes(), c.index.MaxBytes(), c.index.Len())
}

// decode runs one decode attempt for a pending entry outside the lock.
func (c *Cache) decode(e *entry) {
	img, err := c.decodeKey(e.key)
	e.setResult(img, err)

	c.mu.Lock()
	c.finishLocked(e)
	c.mu.Unlock()
}

func (c *Cache) decodeKey(key string) (img *image.RGBA, err error) {
	stream, err := c.source.Open(key)
	if err != nil {
		c.stats.openFailures.Add(1)
		c.log.Warn("failed to open image", "key", key, "error", err)
		return nil, err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			c.log.Warn("failed to close image stream", "key", key, "error", cerr)
		}
	}()

	start := time.Now()
	img, err = c.decoder.Decode(stream)
	if err == nil && (img == nil || img.Bounds().Empty()) {
		img, err = nil, decode.ErrEmptyImage
	}
	c.stats.decodes.Add(1)
	c.observer.Decoded(time.Since(start), err == nil)
	if err != nil {
		c.stats.decodeFailures.Add(1)
		c.log.Warn("failed to decode image", "key", key, "error", err)
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return img, nil
}

// IsNotFound reports whether a handle error means the source was missing.
func IsNotFound(err error) bool {
	return errors.Is(err, decode.ErrNotFound)
}
