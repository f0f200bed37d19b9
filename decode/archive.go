// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package decode

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/luxfi/imagecache/bytecache"
)

// ArchiveSep separates the archive path from the member name in a key.
const ArchiveSep = "!/"

// MaxMemberSize bounds how much of a single member is inflated.
const MaxMemberSize = 1 << 30

// ArchiveSource serves the members of a zip archive. Keys have the form
// "<absolute archive path>!/<member>". Members are inflated once and kept in
// a byte cache, since zip members cannot be seeked in place.
type ArchiveSource struct {
	path     string
	zr       *zip.ReadCloser
	members  map[string]*zip.File
	inflated *bytecache.Cache

	maxMember int64
}

// OpenArchive opens the zip archive at name. inflated may be nil.
func OpenArchive(name string, inflated *bytecache.Cache) (*ArchiveSource, error) {
	abs, err := NormalizePath(name)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(filepath.FromSlash(abs))
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", name, notFound(err))
	}
	a := &ArchiveSource{
		path:     abs,
		zr:       zr,
		members:  make(map[string]*zip.File, len(zr.File)),
		inflated: inflated,

		maxMember: MaxMemberSize,
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		a.members[cleanMember(f.Name)] = f
	}
	return a, nil
}

// Close closes the underlying archive.
func (a *ArchiveSource) Close() error {
	return a.zr.Close()
}

// Path returns the normalized archive path.
func (a *ArchiveSource) Path() string {
	return a.path
}

// Members returns the number of file members.
func (a *ArchiveSource) Members() int {
	return len(a.members)
}

// Resolve accepts either a bare member name or a full key of this archive.
func (a *ArchiveSource) Resolve(name string) (string, error) {
	member := strings.TrimPrefix(filepath.ToSlash(name), a.path+ArchiveSep)
	member = cleanMember(member)
	if member == "" || member == "." {
		return "", fmt.Errorf("empty member name: %w", ErrNotFound)
	}
	return a.path + ArchiveSep + member, nil
}

// Exists implements Source.
func (a *ArchiveSource) Exists(key string) bool {
	_, ok := a.lookup(key)
	return ok
}

// Open implements Source.
func (a *ArchiveSource) Open(key string) (Stream, error) {
	f, ok := a.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if a.inflated != nil {
		if b, ok := a.inflated.Get(key); ok {
			return NewMemStream(b), nil
		}
	}
	if f.UncompressedSize64 > uint64(a.maxMember) {
		return nil, fmt.Errorf("%s: %w", key, ErrTooLarge)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening member %s: %w", key, err)
	}
	defer rc.Close()

	// The header size is not trusted for allocation.
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(rc, a.maxMember+1))
	if err != nil {
		return nil, fmt.Errorf("inflating member %s: %w", key, err)
	}
	if n > a.maxMember {
		return nil, fmt.Errorf("%s: %w", key, ErrTooLarge)
	}
	b := buf.Bytes()
	if a.inflated != nil {
		a.inflated.Set(key, b)
	}
	return NewMemStream(b), nil
}

func (a *ArchiveSource) lookup(key string) (*zip.File, bool) {
	member, ok := strings.CutPrefix(key, a.path+ArchiveSep)
	if !ok {
		return nil, false
	}
	f, ok := a.members[member]
	return f, ok
}

func cleanMember(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

var _ Source = (*ArchiveSource)(nil)
