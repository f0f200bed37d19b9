// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package decode turns encoded image bytes into RGBA8 pixel buffers.
//
// A Source resolves names to keys and opens them as Streams. A Decoder pulls
// bytes from a Stream through Read, Seek and Size only, so any byte source,
// a plain file or a compressed archive member, is interchangeable.
package decode

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Stream is an opened byte source.
type Stream interface {
	io.ReadSeekCloser

	// Size returns the total number of bytes in the stream.
	Size() int64
}

// Tell returns the current read position.
func Tell(s io.Seeker) (int64, error) {
	return s.Seek(0, io.SeekCurrent)
}

// AtEOF reports whether the read position has reached Size.
func AtEOF(s Stream) bool {
	pos, err := Tell(s)
	return err != nil || pos >= s.Size()
}

type fileStream struct {
	*os.File
	size int64
}

func (f *fileStream) Size() int64 { return f.size }

// OpenFile opens a local file as a Stream.
func OpenFile(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return &fileStream{File: f, size: info.Size()}, nil
}

type memStream struct {
	*bytes.Reader
}

func (memStream) Close() error { return nil }

// NewMemStream wraps b as a Stream. b must not be modified while the stream
// is in use.
func NewMemStream(b []byte) Stream {
	return memStream{Reader: bytes.NewReader(b)}
}
