// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package decode

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/luxfi/imagecache/bytecache"
)

// ZstdExt marks files that are stored zstd-compressed on disk.
const ZstdExt = ".zst"

// Source resolves names to cache keys and opens keys as Streams.
type Source interface {
	// Resolve normalizes name into the key that identifies it.
	Resolve(name string) (string, error)

	// Exists reports whether key can be opened.
	Exists(key string) bool

	// Open opens key for reading.
	Open(key string) (Stream, error)
}

// FileSource reads from the local filesystem. Keys are absolute, cleaned,
// slash-separated paths. Files ending in ZstdExt are inflated into memory.
type FileSource struct {
	zstd     *zstd.Decoder
	inflated *bytecache.Cache
}

// NewFileSource creates a FileSource. inflated may be nil, in which case
// zstd payloads are inflated on every open.
func NewFileSource(inflated *bytecache.Cache) (*FileSource, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &FileSource{zstd: dec, inflated: inflated}, nil
}

// Close releases the zstd decoder.
func (s *FileSource) Close() error {
	s.zstd.Close()
	return nil
}

// Resolve implements Source.
func (s *FileSource) Resolve(name string) (string, error) {
	return NormalizePath(name)
}

// Exists implements Source.
func (s *FileSource) Exists(key string) bool {
	info, err := os.Stat(filepath.FromSlash(key))
	return err == nil && info.Mode().IsRegular()
}

// Open implements Source.
func (s *FileSource) Open(key string) (Stream, error) {
	path := filepath.FromSlash(key)
	if !strings.HasSuffix(key, ZstdExt) {
		st, err := OpenFile(path)
		return st, notFound(err)
	}

	if s.inflated != nil {
		if b, ok := s.inflated.Get(key); ok {
			return NewMemStream(b), nil
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, notFound(err)
	}
	b, err := s.zstd.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("inflating %s: %w", key, err)
	}
	if s.inflated != nil {
		s.inflated.Set(key, b)
	}
	return NewMemStream(b), nil
}

// NormalizePath returns the absolute, cleaned, slash-separated form of name.
func NormalizePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty path: %w", ErrNotFound)
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(abs), nil
}

func notFound(err error) error {
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

var _ Source = (*FileSource)(nil)
