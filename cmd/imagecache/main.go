// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command imagecache loads images through the cache the way a render loop
// would: request every image, then poll once per frame until each is ready.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/imagecache"
	"github.com/luxfi/imagecache/bytecache"
	"github.com/luxfi/imagecache/decode"
	"github.com/luxfi/imagecache/metercacher"
	"github.com/luxfi/metric"
)

const (
	frameInterval  = 16 * time.Millisecond
	inflatedBudget = 64 << 20
)

type config struct {
	cacheMB     int
	sync        bool
	archive     string
	metricsAddr string
	frames      int
	verbose     bool
}

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, flag.Args(), os.Stdout)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "imagecache: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config
	flag.IntVar(&cfg.cacheMB, "cache-mb", imagecache.DefaultCacheSizeMB, "decoded image budget in megabytes, 0 disables caching")
	flag.BoolVar(&cfg.sync, "sync", false, "decode on the calling goroutine instead of the background worker")
	flag.StringVar(&cfg.archive, "archive", "", "read images from members of this zip archive")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flag.IntVar(&cfg.frames, "frames", 600, "frames to poll before giving up on pending images")
	flag.BoolVar(&cfg.verbose, "v", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg config, names []string, out io.Writer) error {
	if len(names) == 0 {
		return errors.New("no images given")
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []imagecache.Option{
		imagecache.WithCacheSizeMB(cfg.cacheMB),
		imagecache.WithLogger(logger),
	}

	if cfg.archive != "" {
		src, err := decode.OpenArchive(cfg.archive, bytecache.New(inflatedBudget))
		if err != nil {
			return err
		}
		defer src.Close()
		opts = append(opts, imagecache.WithSource(src))
	}

	if cfg.metricsAddr != "" {
		reg := metric.NewRegistry()
		metrics, err := metercacher.New("imagecache", reg)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		opts = append(opts, imagecache.WithObserver(metrics))

		srv := serveMetrics(cfg.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	c, err := imagecache.New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("cache close", "error", err)
		}
	}()

	handles := make([]*imagecache.Handle, 0, len(names))
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()
	for _, name := range names {
		var (
			h   *imagecache.Handle
			err error
		)
		if cfg.sync {
			h, err = c.Load(ctx, name)
		} else {
			h, err = c.LoadAsync(name)
		}
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	if err := pollFrames(ctx, c, handles, cfg.frames, out); err != nil {
		return err
	}

	stats := c.Stats()
	fmt.Fprintf(out, "cache: %d entries, %d/%d bytes, %d hits, %d misses, %d decodes, %d evictions\n",
		c.Count(), c.CurrentBytes(), c.MaxBytes(),
		stats.Hits, stats.Misses, stats.Decodes, stats.Evictions,
	)

	if cfg.metricsAddr != "" {
		logger.Info("serving metrics until interrupted", "addr", cfg.metricsAddr)
		<-ctx.Done()
	}
	return nil
}

// pollFrames checks every pending handle once per frame and reports each as
// it finishes. Handles still pending after frames polls are reported as such.
func pollFrames(ctx context.Context, c *imagecache.Cache, handles []*imagecache.Handle, frames int, out io.Writer) error {
	reported := make([]bool, len(handles))
	remaining := len(handles)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, h := range handles {
			if reported[i] || !c.CheckLoaded(h) {
				continue
			}
			reported[i] = true
			remaining--
			report(out, h, frame)
		}
		if remaining == 0 || frame >= frames {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	for i, h := range handles {
		if !reported[i] {
			fmt.Fprintf(out, "%s\tstill loading after %d frames\n", h.Key(), frames)
		}
	}
	return nil
}

func report(out io.Writer, h *imagecache.Handle, frame int) {
	if err := h.Err(); err != nil {
		fmt.Fprintf(out, "%s\tframe %d\terror: %v\n", h.Key(), frame, err)
		return
	}
	w, ht := h.Size()
	fmt.Fprintf(out, "%s\tframe %d\t%dx%d\t%d bytes\n", h.Key(), frame, w, ht, h.Bytes())
}

func serveMetrics(addr string, reg metric.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.HTTPHandler(reg, metric.HTTPHandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
