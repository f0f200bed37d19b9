package imagecache

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/imagecache/decode"
)

const (
	side      = 64
	sideBytes = side * side * 4 // 16,384
)

// writePNG writes a w x h PNG into dir and returns its path.
func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetRGBA(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 0xff})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

// writePNGs writes n 64x64 images and returns their paths.
func writePNGs(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = writePNG(t, dir, "img"+string(rune('a'+i))+".png", side, side)
	}
	return paths
}

// countingDecoder counts invocations. When gate is non-nil every decode
// announces itself on started and blocks until gate yields.
type countingDecoder struct {
	calls   atomic.Int32
	started chan string
	gate    chan struct{}
}

func newGatedDecoder() *countingDecoder {
	return &countingDecoder{
		started: make(chan string, 64),
		gate:    make(chan struct{}),
	}
}

func (d *countingDecoder) Decode(s decode.Stream) (*image.RGBA, error) {
	d.calls.Add(1)
	if d.gate != nil {
		d.started <- ""
		<-d.gate
	}
	return decode.ImageDecoder{}.Decode(s)
}

func (d *countingDecoder) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-d.started:
	case <-time.After(5 * time.Second):
		t.Fatal("decode did not start")
	}
}

// lockedBuffer is an io.Writer safe for the worker and test goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) count(s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), s)
}

func testLogger(level slog.Level) (*slog.Logger, *lockedBuffer) {
	buf := &lockedBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})), buf
}

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	logger, _ := testLogger(slog.LevelError)
	c, err := New(append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// waitIdle waits until the worker has nothing queued or in flight.
func waitIdle(t *testing.T, c *Cache) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.prefetchQueue) == 0 && len(c.decodeQueue) == 0 && len(c.pending) == 0
	}, 5*time.Second, time.Millisecond)
}

// requireConsistent checks the index invariants.
func requireConsistent(t *testing.T, c *Cache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	for _, key := range c.index.Keys() {
		e, ok := c.index.Peek(key)
		require.True(t, ok)
		require.True(t, e.resident, key)
		require.False(t, e.destroyed, key)
		require.GreaterOrEqual(t, e.refs.Load(), int32(1), key)
		require.NotNil(t, e.img, key)
		sum += int64(e.width) * int64(e.height) * 4
	}
	require.Equal(t, sum, c.index.Bytes())
	require.LessOrEqual(t, c.index.Bytes(), c.index.MaxBytes())
}

type recordingObserver struct {
	mu                            sync.Mutex
	hits, misses, evicted, failed int
	decoded                       int
	bytes, maxBytes               int64
	entries                       int
}

func (o *recordingObserver) Hit() {
	o.mu.Lock()
	o.hits++
	o.mu.Unlock()
}

func (o *recordingObserver) Miss() {
	o.mu.Lock()
	o.misses++
	o.mu.Unlock()
}

func (o *recordingObserver) Decoded(_ time.Duration, ok bool) {
	o.mu.Lock()
	o.decoded++
	if !ok {
		o.failed++
	}
	o.mu.Unlock()
}

func (o *recordingObserver) Evicted() {
	o.mu.Lock()
	o.evicted++
	o.mu.Unlock()
}

func (o *recordingObserver) Usage(bytes, maxBytes int64, entries int) {
	o.mu.Lock()
	o.bytes, o.maxBytes, o.entries = bytes, maxBytes, entries
	o.mu.Unlock()
}
