// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bytecache holds encoded source bytes, such as inflated archive
// members, so that a re-decode after eviction does not inflate them again.
package bytecache

import (
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

const (
	numShards = 16
	shardMask = numShards - 1
)

// Stats contains cache performance metrics.
type Stats struct {
	EntriesCount uint64
	BytesSize    uint64
	GetCalls     uint64
	SetCalls     uint64
	Misses       uint64
	Rejected     uint64
}

// Cache is a sharded LRU byte cache bounded by total bytes.
// Stored values are shared with callers and must be treated as read-only.
type Cache struct {
	shards   [numShards]*byteShard
	maxBytes int64
	getCalls atomic.Uint64
	setCalls atomic.Uint64
	misses   atomic.Uint64
	rejected atomic.Uint64
}

type byteShard struct {
	mu          sync.Mutex
	items       map[string]*byteEntry
	head, tail  *byteEntry
	currentSize int64
	maxSize     int64
}

type byteEntry struct {
	key        string
	value      []byte
	size       int64
	prev, next *byteEntry
}

// New creates a byte cache holding at most maxBytes across all shards.
// A non-positive maxBytes yields a cache that stores nothing.
func New(maxBytes int64) *Cache {
	if maxBytes < 0 {
		maxBytes = 0
	}
	c := &Cache{maxBytes: maxBytes}
	perShard := maxBytes / numShards
	for i := range c.shards {
		c.shards[i] = &byteShard{
			items:   make(map[string]*byteEntry),
			maxSize: perShard,
		}
	}
	return c
}

func (c *Cache) shard(key string) *byteShard {
	return c.shards[murmur3.Sum32([]byte(key))&shardMask]
}

// MaxBytes returns the configured bound.
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// Reset clears all cached entries.
func (c *Cache) Reset() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]*byteEntry)
		s.head, s.tail = nil, nil
		s.currentSize = 0
		s.mu.Unlock()
	}
}

// Del removes a key from the cache.
func (c *Cache) Del(key string) {
	s := c.shard(key)
	s.mu.Lock()
	if e, ok := s.items[key]; ok {
		s.unlink(e)
		s.currentSize -= e.size
		delete(s.items, key)
	}
	s.mu.Unlock()
}

// Has reports whether a key exists.
func (c *Cache) Has(key string) bool {
	s := c.shard(key)
	s.mu.Lock()
	_, ok := s.items[key]
	s.mu.Unlock()
	return ok
}

// Get returns the value for key and marks it most recently used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.getCalls.Add(1)
	s := c.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	s.moveToFront(e)
	return e.value, true
}

// Set stores a copy of value under key. Values larger than a shard are
// rejected and reported false.
func (c *Cache) Set(key string, value []byte) bool {
	c.setCalls.Add(1)
	s := c.shard(key)
	entrySize := int64(len(key) + len(value))

	s.mu.Lock()
	defer s.mu.Unlock()

	if entrySize > s.maxSize {
		c.rejected.Add(1)
		return false
	}

	v := append([]byte(nil), value...)

	if e, ok := s.items[key]; ok {
		s.currentSize -= e.size
		e.value = v
		e.size = entrySize
		s.currentSize += entrySize
		s.moveToFront(e)
		s.evictFor(0)
		return true
	}

	s.evictFor(entrySize)

	e := &byteEntry{key: key, value: v, size: entrySize}
	s.items[key] = e
	s.pushFront(e)
	s.currentSize += entrySize
	return true
}

// UpdateStats populates the provided stats struct.
func (c *Cache) UpdateStats(s *Stats) {
	if s == nil {
		return
	}
	var entries, size uint64
	for _, sh := range c.shards {
		sh.mu.Lock()
		entries += uint64(len(sh.items))
		size += uint64(sh.currentSize)
		sh.mu.Unlock()
	}
	s.EntriesCount = entries
	s.BytesSize = size
	s.GetCalls = c.getCalls.Load()
	s.SetCalls = c.setCalls.Load()
	s.Misses = c.misses.Load()
	s.Rejected = c.rejected.Load()
}

// evictFor drops tail entries until extra more bytes fit.
func (s *byteShard) evictFor(extra int64) {
	for s.currentSize+extra > s.maxSize && s.tail != nil {
		old := s.tail
		s.unlink(old)
		s.currentSize -= old.size
		delete(s.items, old.key)
	}
}

// Doubly-linked list operations for LRU

func (s *byteShard) pushFront(e *byteEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *byteShard) unlink(e *byteEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (s *byteShard) moveToFront(e *byteEntry) {
	if s.head == e {
		return
	}
	s.unlink(e)
	s.pushFront(e)
}
