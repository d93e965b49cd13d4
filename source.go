//go:build linux

package wlrscreencopy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cmeissl/gst-wlr-screencopy-src/internal/bufferpool"
	"github.com/cmeissl/gst-wlr-screencopy-src/internal/capture"
	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

var (
	// ErrNotConfigured is returned by CaptureFrame before a successful
	// Configure.
	ErrNotConfigured = errors.New("wlr-screencopy: source not configured")
	// ErrFormatUnavailable is returned when Configure is asked for a
	// format the compositor did not advertise for the current frame.
	ErrFormatUnavailable = errors.New("wlr-screencopy: format not offered by compositor")
)

// Source captures frames from one compositor output. It owns the capture
// session and the buffer pool; one frame request is in flight at all
// times after the first negotiation.
//
// Source is not safe for concurrent captures. Control-plane settings
// (the target output) may be changed and Stats read from other
// goroutines.
type Source struct {
	cfg      Config
	session  *capture.Session
	selector *bufferpool.Selector
	align    video.Alignment

	mu         sync.Mutex
	pool       *bufferpool.Pool
	configured bool
	format     video.PixelFormat
	closed     bool

	seq          atomic.Uint64
	frameCount   atomic.Uint64
	framesFailed atomic.Uint64
	started      time.Time
}

// New creates a capture source with fail-fast validation
//
// Validates configuration at construction time:
//   - Conn must be set
//   - StrideAlign must be a power of two when non-zero
//
// Construction blocks until output discovery completes; it fails when any
// advertised output is too old to report its name.
func New(cfg Config) (*Source, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("wlr-screencopy: compositor connection is required")
	}
	if cfg.StrideAlign != 0 && cfg.StrideAlign&(cfg.StrideAlign-1) != 0 {
		return nil, fmt.Errorf("wlr-screencopy: stride alignment %d is not a power of two", cfg.StrideAlign)
	}

	session, err := capture.NewSession(capture.SessionConfig{
		Conn:          cfg.Conn,
		TargetOutput:  cfg.Output,
		OverlayCursor: cfg.OverlayCursor,
	})
	if err != nil {
		return nil, err
	}

	s := &Source{
		cfg:     cfg,
		session: session,
		selector: bufferpool.NewSelector(bufferpool.SelectorConfig{
			DRMDevicePath: cfg.DRMDevicePath,
			DMAHeapPath:   cfg.DMAHeapPath,
		}),
		align:   video.Alignment{StrideAlign: cfg.StrideAlign},
		started: time.Now(),
	}

	slog.Info("wlr-screencopy: source created",
		"output", cfg.Output,
		"overlay_cursor", cfg.OverlayCursor,
		"outputs_discovered", len(session.Outputs()),
		"zero_copy_transport", session.ZeroCopyAvailable(),
	)
	return s, nil
}

// Outputs returns the discovered outputs.
func (s *Source) Outputs() []capture.OutputInfo {
	return s.session.Outputs()
}

// SetOutput changes the capture target for subsequent frames. The frame
// request already in flight still targets the previous output.
func (s *Source) SetOutput(name string) {
	s.session.SetTargetOutput(name)
}

// QueryCaps negotiates with the compositor and returns one Caps entry per
// offered format, each tagged with the target output's current mode and
// the refresh-derived framerate upper bound. Zero-copy formats come
// first, in compositor arrival order.
func (s *Source) QueryCaps() ([]video.Caps, error) {
	if err := s.session.EnsureFormats(); err != nil {
		return nil, err
	}
	info, err := s.session.TargetInfo()
	if err != nil {
		return nil, err
	}

	maxFPS := float64(info.Mode.Refresh) / 1000.0
	var caps []video.Caps
	for _, f := range s.offeredFormats() {
		caps = append(caps, video.Caps{
			Format: f,
			Width:  uint32(info.Mode.Width),
			Height: uint32(info.Mode.Height),
			MaxFPS: maxFPS,
		})
	}
	return caps, nil
}

// offeredFormats is the deduplicated union of the current frame's
// zero-copy and shared-memory candidates.
func (s *Source) offeredFormats() []video.PixelFormat {
	seen := make(map[video.PixelFormat]bool)
	var formats []video.PixelFormat
	for _, f := range s.session.ZeroCopyFormats() {
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	for _, f := range s.session.ShmFormats() {
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	return formats
}

// Configure commits a buffer configuration for the given format. The
// memory backend is selected here and held fixed until the next
// Configure. Re-entrant.
func (s *Source) Configure(format video.PixelFormat, minBuffers, maxBuffers uint32) error {
	if err := s.session.EnsureFormats(); err != nil {
		return err
	}
	if !containsFormat(s.offeredFormats(), format) {
		return fmt.Errorf("%w: %s", ErrFormatUnavailable, format)
	}
	info, err := s.session.TargetInfo()
	if err != nil {
		return err
	}

	caps := video.Caps{
		Format: format,
		Width:  uint32(info.Mode.Width),
		Height: uint32(info.Mode.Height),
	}
	layout, err := video.LayoutFromCaps(caps, s.align)
	if err != nil {
		return fmt.Errorf("wlr-screencopy: %w", err)
	}

	// The zero-copy candidate set belongs to the current frame request, so
	// the pool is rebuilt on every reconfiguration.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
	}
	s.configured = false
	dmabuf, _ := s.cfg.Conn.Dmabuf()
	s.pool = bufferpool.New(s.cfg.Conn.Shm(), dmabuf, s.session.ZeroCopyFormats(), s.selector)
	if !s.pool.Configure(caps, layout.Size, minBuffers, maxBuffers, s.align) {
		return fmt.Errorf("wlr-screencopy: pool rejected configuration for %s %dx%d", format, caps.Width, caps.Height)
	}

	s.configured = true
	s.format = format
	return nil
}

// CaptureFrame captures one frame into a pool buffer and returns it.
//
// Shared-memory frames carry an owned pixel copy in Data and their buffer
// is returned to the pool before CaptureFrame returns. Zero-copy frames
// expose the dmabuf fd and hold their buffer until Release.
func (s *Source) CaptureFrame() (*Frame, error) {
	s.mu.Lock()
	pool, configured := s.pool, s.configured
	s.mu.Unlock()
	if !configured {
		return nil, ErrNotConfigured
	}

	buf, err := pool.AllocBuffer()
	if err != nil {
		return nil, err
	}

	ts, err := s.session.CaptureInto(buf)
	if err != nil {
		pool.FreeBuffer(buf)
		if errors.Is(err, capture.ErrCaptureFailed) {
			s.framesFailed.Add(1)
		}
		return nil, err
	}

	layout := buf.Layout()
	frame := &Frame{
		Seq:          s.seq.Add(1),
		TraceID:      uuid.New().String(),
		Timestamp:    time.Now(),
		Presentation: ts,
		Width:        layout.Width,
		Height:       layout.Height,
		Stride:       layout.Stride[0],
		Format:       layout.Format,
		DmabufFD:     -1,
	}

	if buf.ZeroCopy() {
		frame.ZeroCopy = true
		frame.DmabufFD = buf.FD()
		frame.release = func() { pool.FreeBuffer(buf) }
	} else {
		data, err := buf.Map()
		if err != nil {
			pool.FreeBuffer(buf)
			return nil, fmt.Errorf("wlr-screencopy: map captured frame: %w", err)
		}
		frame.Data = make([]byte, layout.Size)
		copy(frame.Data, data[:layout.Size])
		pool.FreeBuffer(buf)
	}

	s.frameCount.Add(1)
	slog.Debug("wlr-screencopy: frame captured",
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"zero_copy", frame.ZeroCopy,
	)
	return frame, nil
}

// Stats returns current capture statistics. Safe from any goroutine.
func (s *Source) Stats() Stats {
	frameCount := s.frameCount.Load()

	var fpsReal float64
	uptime := time.Since(s.started)
	if secs := uptime.Seconds(); secs > 0 {
		fpsReal = float64(frameCount) / secs
	}

	s.mu.Lock()
	pool, configured := s.pool, s.configured
	s.mu.Unlock()

	var backend string
	if pool != nil {
		if kind, ok := pool.Kind(); ok {
			backend = kind.String()
		}
	}

	return Stats{
		FrameCount:   frameCount,
		FramesFailed: s.framesFailed.Load(),
		FPSReal:      fpsReal,
		Uptime:       uptime,
		Backend:      backend,
		Output:       s.session.TargetOutput(),
		IsConfigured: configured,
	}
}

// Close tears down the pool and the capture session. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pool := s.pool
	s.mu.Unlock()

	var first error
	if pool != nil {
		if err := pool.Close(); err != nil {
			first = err
		}
	}
	if err := s.session.Close(); err != nil && first == nil {
		first = err
	}

	slog.Info("wlr-screencopy: source closed",
		"frames_captured", s.frameCount.Load(),
		"frames_failed", s.framesFailed.Load(),
		"uptime", time.Since(s.started),
	)
	return first
}

func containsFormat(formats []video.PixelFormat, f video.PixelFormat) bool {
	for _, candidate := range formats {
		if candidate == f {
			return true
		}
	}
	return false
}
