//go:build linux && cgo

package gstglue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	wlrscreencopy "github.com/cmeissl/gst-wlr-screencopy-src"
	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

// PipelineConfig contains configuration for the appsrc pipeline
type PipelineConfig struct {
	// Source is the configured-or-unconfigured capture source (required)
	Source *wlrscreencopy.Source
	// Format is the pixel format to negotiate. Zero picks the first
	// format the compositor offers.
	Format video.PixelFormat
	// MinBuffers and MaxBuffers bound the capture buffer pool
	// (defaults 2 and 4)
	MinBuffers uint32
	MaxBuffers uint32
	// Sink is the sink element factory name (default autovideosink)
	Sink string
}

// Pipeline feeds captured frames into a GStreamer pipeline:
//
//	appsrc → videoconvert → sink
//
// The pipeline is configured but NOT started; call Run to start capture.
type Pipeline struct {
	source   *wlrscreencopy.Source
	pipeline *gst.Pipeline
	appsrc   *app.Source
	layout   video.Layout

	pushed  atomic.Uint64
	skipped atomic.Uint64
}

// NewPipeline negotiates a format with the compositor, configures the
// capture source and builds the GStreamer pipeline around an appsrc
// carrying the negotiated caps.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("gstglue: capture source is required")
	}
	if cfg.MinBuffers == 0 {
		cfg.MinBuffers = 2
	}
	if cfg.MaxBuffers == 0 {
		cfg.MaxBuffers = 4
	}
	if cfg.Sink == "" {
		cfg.Sink = "autovideosink"
	}

	caps, err := cfg.Source.QueryCaps()
	if err != nil {
		return nil, fmt.Errorf("gstglue: query caps: %w", err)
	}
	if len(caps) == 0 {
		return nil, fmt.Errorf("gstglue: compositor offers no supported format")
	}

	negotiated := caps[0]
	if cfg.Format != video.FormatUnknown {
		found := false
		for _, c := range caps {
			if c.Format == cfg.Format {
				negotiated = c
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("gstglue: format %s not offered by compositor", cfg.Format)
		}
	}

	if err := cfg.Source.Configure(negotiated.Format, cfg.MinBuffers, cfg.MaxBuffers); err != nil {
		return nil, fmt.Errorf("gstglue: configure source: %w", err)
	}
	layout, err := video.LayoutFromCaps(negotiated, video.Alignment{})
	if err != nil {
		return nil, fmt.Errorf("gstglue: %w", err)
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstglue: failed to create pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("gstglue: failed to create appsrc: %w", err)
	}
	capsStr := VideoCaps(layout, int32(negotiated.MaxFPS*1000))
	appsrc.SetProperty("caps", gst.NewCapsFromString(capsStr))
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("do-timestamp", true)
	appsrc.SetProperty("block", true)
	appsrc.SetProperty("max-bytes", uint64(layout.Size)*uint64(cfg.MaxBuffers))

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("gstglue: failed to create videoconvert: %w", err)
	}

	sink, err := gst.NewElement(cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("gstglue: failed to create sink %q: %w", cfg.Sink, err)
	}

	pipeline.AddMany(appsrc.Element, converter, sink)
	if err := gst.ElementLinkMany(appsrc.Element, converter, sink); err != nil {
		return nil, fmt.Errorf("gstglue: failed to link pipeline elements: %w", err)
	}

	slog.Info("gstglue: pipeline created",
		"caps", capsStr,
		"sink", cfg.Sink,
		"min_buffers", cfg.MinBuffers,
		"max_buffers", cfg.MaxBuffers,
	)

	return &Pipeline{
		source:   cfg.Source,
		pipeline: pipeline,
		appsrc:   appsrc,
		layout:   layout,
	}, nil
}

// Layout returns the negotiated layout the pipeline was built for.
func (p *Pipeline) Layout() video.Layout { return p.layout }

// Pushed returns the number of buffers handed to the pipeline.
func (p *Pipeline) Pushed() uint64 { return p.pushed.Load() }

// Run starts the pipeline and captures frames until the context is
// cancelled or the pipeline reports a fatal error. Compositor-side frame
// failures are skipped, not fatal.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstglue: failed to start pipeline: %w", err)
	}

	bus := p.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstglue: context cancelled, stopping capture loop")
			return nil
		default:
		}

		// Drain pending bus messages before blocking on the next frame.
		for {
			msg := bus.TimedPop(time.Millisecond)
			if msg == nil {
				break
			}
			switch msg.Type() {
			case gst.MessageEOS:
				slog.Info("gstglue: end of stream", "frames_pushed", p.pushed.Load())
				return nil
			case gst.MessageError:
				gerr := msg.ParseError()
				slog.Error("gstglue: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
				)
				return fmt.Errorf("gstglue: pipeline error: %s", gerr.Error())
			}
		}

		frame, err := p.source.CaptureFrame()
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			slog.Warn("gstglue: capture attempt failed, continuing", "error", err)
			p.skipped.Add(1)
			continue
		}

		if frame.Data == nil {
			// Zero-copy frames carry only an fd; appsrc needs CPU bytes.
			slog.Warn("gstglue: skipping zero-copy frame, configure a shared-memory format",
				"trace_id", frame.TraceID,
			)
			frame.Release()
			p.skipped.Add(1)
			continue
		}

		buffer := gst.NewBufferFromBytes(frame.Data)
		frame.Release()

		if ret := p.appsrc.PushBuffer(buffer); ret != gst.FlowOK {
			return fmt.Errorf("gstglue: appsrc rejected buffer: %s", ret)
		}
		p.pushed.Add(1)
		slog.Debug("gstglue: frame pushed",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}
}

// Stop tears the pipeline down. Safe to call after Run returns.
func (p *Pipeline) Stop() error {
	p.appsrc.EndStream()
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstglue: failed to stop pipeline: %w", err)
	}
	return nil
}
