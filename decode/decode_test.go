package decode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/imagecache/bytecache"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestMemStreamTellAndEOF(t *testing.T) {
	require := require.New(t)

	s := NewMemStream([]byte("0123456789"))
	require.Equal(int64(10), s.Size())
	require.False(AtEOF(s))

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(err)
	require.Equal(4, n)

	pos, err := Tell(s)
	require.NoError(err)
	require.Equal(int64(4), pos)

	_, err = s.Seek(0, io.SeekEnd)
	require.NoError(err)
	require.True(AtEOF(s))
	require.NoError(s.Close())
}

func TestOpenFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	p := writeFile(t, dir, "data.bin", []byte("hello"))

	s, err := OpenFile(p)
	require.NoError(err)
	defer s.Close()
	require.Equal(int64(5), s.Size())

	_, err = OpenFile(dir)
	require.ErrorIs(err, ErrNotFound)
}

func TestImageDecoder(t *testing.T) {
	require := require.New(t)

	img, err := ImageDecoder{}.Decode(NewMemStream(encodePNG(t, 8, 4)))
	require.NoError(err)
	require.Equal(8, img.Bounds().Dx())
	require.Equal(4, img.Bounds().Dy())
	require.Len(img.Pix, 8*4*4)
	require.Equal(color.RGBA{R: 3, G: 2, B: 0x80, A: 0xff}, img.RGBAAt(3, 2))
}

func TestImageDecoderRejectsGarbage(t *testing.T) {
	_, err := ImageDecoder{}.Decode(NewMemStream([]byte("definitely not an image")))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestImageDecoderTruncated(t *testing.T) {
	data := encodePNG(t, 16, 16)
	_, err := ImageDecoder{}.Decode(NewMemStream(data[:len(data)/2]))
	require.Error(t, err)
}

func TestToRGBA(t *testing.T) {
	require := require.New(t)

	src := image.NewRGBA(image.Rect(2, 3, 6, 5))
	src.SetRGBA(2, 3, color.RGBA{R: 9, A: 0xff})

	dst, err := ToRGBA(src)
	require.NoError(err)
	require.Equal(image.Rect(0, 0, 4, 2), dst.Bounds())
	require.Equal(color.RGBA{R: 9, A: 0xff}, dst.RGBAAt(0, 0))

	tight := image.NewRGBA(image.Rect(0, 0, 3, 3))
	same, err := ToRGBA(tight)
	require.NoError(err)
	require.Same(tight, same)

	_, err = ToRGBA(image.NewRGBA(image.Rectangle{}))
	require.ErrorIs(err, ErrEmptyImage)
}

func TestDecoderFunc(t *testing.T) {
	want := image.NewRGBA(image.Rect(0, 0, 1, 1))
	var d Decoder = DecoderFunc(func(Stream) (*image.RGBA, error) { return want, nil })
	got, err := d.Decode(NewMemStream(nil))
	require.NoError(t, err)
	require.Same(t, want, got)
}

func TestFileSource(t *testing.T) {
	require := require.New(t)

	src, err := NewFileSource(nil)
	require.NoError(err)
	defer src.Close()

	dir := t.TempDir()
	p := writeFile(t, dir, "a.png", encodePNG(t, 2, 2))

	key, err := src.Resolve(filepath.Join(dir, "sub", "..", "a.png"))
	require.NoError(err)
	require.Equal(filepath.ToSlash(p), key)
	require.True(src.Exists(key))

	s, err := src.Open(key)
	require.NoError(err)
	img, err := ImageDecoder{}.Decode(s)
	require.NoError(err)
	require.NoError(s.Close())
	require.Equal(2, img.Bounds().Dx())

	missing, err := src.Resolve(filepath.Join(dir, "missing.png"))
	require.NoError(err)
	require.False(src.Exists(missing))
	_, err = src.Open(missing)
	require.ErrorIs(err, ErrNotFound)

	_, err = src.Resolve("")
	require.ErrorIs(err, ErrNotFound)
}

func TestFileSourceZstd(t *testing.T) {
	require := require.New(t)

	enc, err := zstd.NewWriter(nil)
	require.NoError(err)
	raw := encodePNG(t, 5, 3)
	compressed := enc.EncodeAll(raw, nil)
	require.NoError(enc.Close())

	dir := t.TempDir()
	p := writeFile(t, dir, "a.png"+ZstdExt, compressed)

	inflated := bytecache.New(1 << 20)
	src, err := NewFileSource(inflated)
	require.NoError(err)
	defer src.Close()

	key, err := src.Resolve(p)
	require.NoError(err)

	for i := 0; i < 2; i++ {
		s, err := src.Open(key)
		require.NoError(err)
		require.Equal(int64(len(raw)), s.Size())
		img, err := ImageDecoder{}.Decode(s)
		require.NoError(err)
		require.Equal(5, img.Bounds().Dx())
	}

	var stats bytecache.Stats
	inflated.UpdateStats(&stats)
	require.Equal(uint64(1), stats.EntriesCount)
	require.Equal(uint64(1), stats.Misses)
	require.Equal(uint64(2), stats.GetCalls)
}

func writeArchive(t *testing.T, dir string, members map[string][]byte) string {
	t.Helper()
	p := filepath.Join(dir, "assets.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, data := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestArchiveSource(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	p := writeArchive(t, dir, map[string][]byte{
		"textures/wall.png": encodePNG(t, 4, 4),
		"readme.txt":        []byte("not an image"),
	})

	inflated := bytecache.New(1 << 20)
	a, err := OpenArchive(p, inflated)
	require.NoError(err)
	defer a.Close()
	require.Equal(2, a.Members())

	key, err := a.Resolve("textures/../textures/wall.png")
	require.NoError(err)
	require.Equal(a.Path()+ArchiveSep+"textures/wall.png", key)
	require.True(a.Exists(key))

	again, err := a.Resolve(key)
	require.NoError(err)
	require.Equal(key, again)

	for i := 0; i < 2; i++ {
		s, err := a.Open(key)
		require.NoError(err)
		img, err := ImageDecoder{}.Decode(s)
		require.NoError(err)
		require.Equal(4, img.Bounds().Dy())
	}
	require.True(inflated.Has(key))

	txt, err := a.Resolve("readme.txt")
	require.NoError(err)
	s, err := a.Open(txt)
	require.NoError(err)
	_, err = ImageDecoder{}.Decode(s)
	require.ErrorIs(err, ErrUnsupportedFormat)

	missing, err := a.Resolve("nope.png")
	require.NoError(err)
	require.False(a.Exists(missing))
	_, err = a.Open(missing)
	require.ErrorIs(err, ErrNotFound)

	_, err = a.Resolve("/")
	require.ErrorIs(err, ErrNotFound)
}

func TestArchiveSourceRejectsOversizedMember(t *testing.T) {
	require := require.New(t)

	p := writeArchive(t, t.TempDir(), map[string][]byte{
		"small.bin": bytes.Repeat([]byte{1}, 16),
		"big.bin":   bytes.Repeat([]byte{2}, 64),
	})
	inflated := bytecache.New(1 << 20)
	a, err := OpenArchive(p, inflated)
	require.NoError(err)
	defer a.Close()
	a.maxMember = 32

	small, err := a.Resolve("small.bin")
	require.NoError(err)
	s, err := a.Open(small)
	require.NoError(err)
	require.Equal(int64(16), s.Size())
	require.NoError(s.Close())

	big, err := a.Resolve("big.bin")
	require.NoError(err)
	_, err = a.Open(big)
	require.ErrorIs(err, ErrTooLarge)
	require.False(inflated.Has(big))
}

func TestOpenArchiveMissing(t *testing.T) {
	_, err := OpenArchive(filepath.Join(t.TempDir(), "none.zip"), nil)
	require.ErrorIs(t, err, ErrNotFound)
}
