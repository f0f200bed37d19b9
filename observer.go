// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package imagecache

import "time"

// Observer receives cache events. Hit, Miss, Evicted and Usage are called
// with the cache lock held. Decoded is called without it, from whichever
// goroutine ran the decode. Implementations must be fast, safe for
// concurrent use and must not call back into the cache.
type Observer interface {
	// Hit is called when a load finds a resident or in-flight entry.
	Hit()

	// Miss is called when a load creates a new entry.
	Miss()

	// Decoded is called after every decoder invocation.
	Decoded(d time.Duration, ok bool)

	// Evicted is called when the index relinquishes an entry.
	Evicted()

	// Usage reports the index state after it changes.
	Usage(bytes, maxBytes int64, entries int)
}

type noopObserver struct{}

func (noopObserver) Hit() {}

func (noopObserver) Miss() {}

func (noopObserver) Decoded(time.Duration, bool) {}

func (noopObserver) Evicted() {}

func (noopObserver) Usage(int64, int64, int) {}
