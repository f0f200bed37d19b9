// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package imagecache

import (
	"fmt"
	"log/slog"

	"github.com/luxfi/imagecache/decode"
)

// DefaultCacheSizeMB is the budget used when none is configured.
const DefaultCacheSizeMB = 256

// Config controls a Cache.
//
// MaxBytes == 0 disables caching: decoded entries are returned to their
// requesters but never become resident.
type Config struct {
	MaxBytes int64
	Logger   *slog.Logger
	Observer Observer
	Source   decode.Source
	Decoder  decode.Decoder
}

// Option configures a Cache.
type Option func(*Config)

// WithMaxBytes sets the byte budget.
func WithMaxBytes(n int64) Option {
	return func(c *Config) {
		c.MaxBytes = n
	}
}

// WithCacheSizeMB sets the byte budget from a size in megabytes.
func WithCacheSizeMB(mb int) Option {
	return func(c *Config) {
		c.MaxBytes = MegabytesToBytes(mb)
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithObserver sets the event observer. A nil observer is ignored.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		if o != nil {
			c.Observer = o
		}
	}
}

// WithSource sets where names are resolved and opened.
func WithSource(s decode.Source) Option {
	return func(c *Config) {
		if s != nil {
			c.Source = s
		}
	}
}

// WithDecoder sets the pixel decoder.
func WithDecoder(d decode.Decoder) Option {
	return func(c *Config) {
		if d != nil {
			c.Decoder = d
		}
	}
}

// MegabytesToBytes converts a user-facing cache size to a byte budget.
// Negative sizes map to 0.
func MegabytesToBytes(mb int) int64 {
	if mb <= 0 {
		return 0
	}
	return int64(mb) << 20
}

func applyOptions(opts ...Option) Config {
	cfg := Config{
		MaxBytes: MegabytesToBytes(DefaultCacheSizeMB),
		Decoder:  decode.ImageDecoder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.MaxBytes < 0 {
		return fmt.Errorf("%w: negative max bytes %d", ErrInvalidConfig, c.MaxBytes)
	}
	if c.Decoder == nil {
		return fmt.Errorf("%w: missing decoder", ErrInvalidConfig)
	}
	return nil
}
