// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package imagecache

import "sync/atomic"

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits            uint64
	Misses          uint64
	Decodes         uint64
	DecodeFailures  uint64
	OpenFailures    uint64
	Evictions       uint64
	Oversized       uint64
	PrefetchSkipped uint64
	Destroyed       uint64
	RefUnderflows   uint64
	DoubleReleases  uint64
}

type counters struct {
	hits            atomic.Uint64
	misses          atomic.Uint64
	decodes         atomic.Uint64
	decodeFailures  atomic.Uint64
	openFailures    atomic.Uint64
	evictions       atomic.Uint64
	oversized       atomic.Uint64
	prefetchSkipped atomic.Uint64
	destroyed       atomic.Uint64
	refUnderflows   atomic.Uint64
	doubleReleases  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Decodes:         c.decodes.Load(),
		DecodeFailures:  c.decodeFailures.Load(),
		OpenFailures:    c.openFailures.Load(),
		Evictions:       c.evictions.Load(),
		Oversized:       c.oversized.Load(),
		PrefetchSkipped: c.prefetchSkipped.Load(),
		Destroyed:       c.destroyed.Load(),
		RefUnderflows:   c.refUnderflows.Load(),
		DoubleReleases:  c.doubleReleases.Load(),
	}
}
