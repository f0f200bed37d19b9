// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package imagecache

import (
	"context"
	"image"
	"sync/atomic"
)

// entry is one decoded-image record.
//
// refs counts the index's hold while resident, one hold per outstanding
// Handle, and one transient hold while a decode is in progress. img, width,
// height and err are written once before loaded is set and are read-only
// afterwards.
type entry struct {
	key string
	id  uint64

	refs   atomic.Int32
	loaded atomic.Bool
	done   chan struct{}

	img    *image.RGBA
	width  int
	height int
	err    error

	// Guarded by Cache.mu.
	resident  bool
	destroyed bool
}

func newEntry(key string, id uint64) *entry {
	return &entry{
		key:  key,
		id:   id,
		done: make(chan struct{}),
	}
}

// cost is the decoded byte size, 0 until a successful decode completes.
func (e *entry) cost() int64 {
	if e.img == nil {
		return 0
	}
	return int64(e.width) * int64(e.height) * 4
}

// setResult records the decode outcome without publishing it.
func (e *entry) setResult(img *image.RGBA, err error) {
	if err == nil && img != nil {
		e.img = img
		e.width = img.Bounds().Dx()
		e.height = img.Bounds().Dy()
		return
	}
	e.err = err
}

// markLoaded publishes the result to pollers and waiters.
func (e *entry) markLoaded() {
	if e.loaded.CompareAndSwap(false, true) {
		close(e.done)
	}
}

// destroy frees the pixel buffer. Only called once refs reaches 0.
func (e *entry) destroy() {
	e.img = nil
	e.destroyed = true
}

// Handle is a consumer's counted reference to a cache entry. The entry is
// kept alive until the handle is released. Pixel data obtained through a
// handle must not be used after Release.
type Handle struct {
	c        *Cache
	e        *entry
	released atomic.Bool
}

// Key returns the normalized source key.
func (h *Handle) Key() string {
	return h.e.key
}

// Loaded reports whether the decode attempt has finished. It never blocks
// and never takes the cache lock.
func (h *Handle) Loaded() bool {
	return h.e.loaded.Load()
}

// Done is closed when the decode attempt finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.e.done
}

// Wait blocks until the decode attempt finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Image returns the decoded image, or nil while pending, after a failure,
// or once the handle has been released.
func (h *Handle) Image() *image.RGBA {
	if !h.e.loaded.Load() || h.released.Load() {
		return nil
	}
	return h.e.img
}

// Pixels returns the RGBA8 buffer, or nil when Image would return nil.
func (h *Handle) Pixels() []byte {
	if img := h.Image(); img != nil {
		return img.Pix
	}
	return nil
}

// Size returns the decoded dimensions, zero unless the decode succeeded.
func (h *Handle) Size() (width, height int) {
	if h.Image() == nil {
		return 0, 0
	}
	return h.e.width, h.e.height
}

// Bytes returns the decoded byte cost.
func (h *Handle) Bytes() int64 {
	if h.Image() == nil {
		return 0
	}
	return h.e.cost()
}

// Err returns why the decode attempt failed. It is nil while pending and
// after a success.
func (h *Handle) Err() error {
	if !h.e.loaded.Load() {
		return nil
	}
	return h.e.err
}

// Release drops the handle's reference. It is equivalent to Cache.Release.
func (h *Handle) Release() {
	h.c.Release(h)
}
