//go:build linux && cgo

// wlr-screencopy-capture drives the capture source against a synthetic
// in-process compositor and plays the frames through a GStreamer
// pipeline. Point it at a real compositor by swapping the wlprototest
// connection for a socket transport implementing wlproto.Conn.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	wlrscreencopy "github.com/cmeissl/gst-wlr-screencopy-src"
	"github.com/cmeissl/gst-wlr-screencopy-src/gstglue"
	"github.com/cmeissl/gst-wlr-screencopy-src/video"
	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto/wlprototest"
)

const version = "v0.1.0"

func main() {
	output := flag.String("output", "", "Output name to capture (empty = first output)")
	format := flag.String("pixel-format", "", "Pixel format (ARGB, xRGB, ..., empty = first offered)")
	overlayCursor := flag.Bool("overlay-cursor", false, "Compose the cursor into captured frames")
	sink := flag.String("sink", "autovideosink", "GStreamer sink element")
	drmDevice := flag.String("drm-device", "", "DRM render node (default /dev/dri/renderD128)")
	dmaHeap := flag.String("dma-heap", "", "DMA heap device (default /dev/dma_heap/system)")
	strideAlign := flag.Uint("stride-align", 0, "Stride alignment in bytes (power of two)")
	width := flag.Int("width", 1280, "Synthetic output width")
	height := flag.Int("height", 720, "Synthetic output height")
	refresh := flag.Int("refresh", 60000, "Synthetic output refresh in mHz")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wlr-screencopy-capture %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var pixelFormat video.PixelFormat
	if *format != "" {
		f, ok := video.ParseFormat(*format)
		if !ok {
			log.Fatalf("Invalid pixel format %q (supported: %v)", *format, video.Formats())
		}
		pixelFormat = f
	}

	conn := wlprototest.New(wlprototest.Config{
		Outputs: []wlprototest.OutputConfig{{
			Name:        "SYNTH-1",
			Description: "synthetic output",
			Width:       int32(*width),
			Height:      int32(*height),
			RefreshMHz:  int32(*refresh),
		}},
	})

	src, err := wlrscreencopy.New(wlrscreencopy.Config{
		Conn:          conn,
		Output:        *output,
		OverlayCursor: *overlayCursor,
		DRMDevicePath: *drmDevice,
		DMAHeapPath:   *dmaHeap,
		StrideAlign:   uint32(*strideAlign),
	})
	if err != nil {
		log.Fatalf("Failed to create capture source: %v", err)
	}
	defer src.Close()

	for _, o := range src.Outputs() {
		slog.Info("output discovered",
			"name", o.Name,
			"description", o.Description,
			"mode", fmt.Sprintf("%dx%d@%dmHz", o.Mode.Width, o.Mode.Height, o.Mode.Refresh),
		)
	}

	pipeline, err := gstglue.NewPipeline(gstglue.PipelineConfig{
		Source: src,
		Format: pixelFormat,
		Sink:   *sink,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	statsTicker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				stats := src.Stats()
				slog.Info("capture statistics",
					"frames", stats.FrameCount,
					"failed", stats.FramesFailed,
					"fps", fmt.Sprintf("%.2f", stats.FPSReal),
					"backend", stats.Backend,
					"pushed", pipeline.Pushed(),
					"uptime", stats.Uptime.Round(time.Second),
				)
			}
		}
	}()

	slog.Info("starting capture", "caps_layout", pipeline.Layout().Format.String())
	if err := pipeline.Run(ctx); err != nil {
		slog.Error("pipeline stopped with error", "error", err)
	}
	if err := pipeline.Stop(); err != nil {
		slog.Error("pipeline teardown failed", "error", err)
	}

	stats := src.Stats()
	fmt.Printf("\nFinal statistics:\n")
	fmt.Printf("  Uptime:           %s\n", stats.Uptime.Round(time.Second))
	fmt.Printf("  Frames captured:  %d\n", stats.FrameCount)
	fmt.Printf("  Frames failed:    %d\n", stats.FramesFailed)
	fmt.Printf("  Frames pushed:    %d\n", pipeline.Pushed())
	fmt.Printf("  Average FPS:      %.2f\n", stats.FPSReal)
	fmt.Printf("  Memory backend:   %s\n", stats.Backend)
}
