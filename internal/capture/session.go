package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto"
)

var (
	// ErrCaptureFailed is the per-frame flow error for a compositor-side
	// failure. The session stays valid and the next request is already
	// queued when this is returned.
	ErrCaptureFailed = errors.New("capture: compositor failed the frame")
	// ErrFormatNotAdvertised is returned when a buffer's layout does not
	// match any candidate the compositor advertised for this frame.
	ErrFormatNotAdvertised = errors.New("capture: buffer format not advertised for this frame")
	// ErrStrideMismatch is returned when a shared-memory buffer's stride
	// differs from the advertised stride. Caps are not re-derived to
	// match; the attempt fails.
	ErrStrideMismatch = errors.New("capture: buffer stride differs from advertised stride")
)

// CopyTarget is the caller-supplied destination of a frame copy.
type CopyTarget interface {
	Layout() video.Layout
	ZeroCopy() bool
	Handle() wlproto.Buffer
}

// SessionConfig configures a capture session.
type SessionConfig struct {
	// Conn is the established compositor connection. Required.
	Conn wlproto.Conn
	// TargetOutput selects an output by name; empty selects the first
	// discovered output.
	TargetOutput string
	// OverlayCursor asks the compositor to compose the cursor into
	// captured frames.
	OverlayCursor bool
}

// Session owns the connection, the output registry and at most one
// in-flight frame request. All protocol work happens on the caller's
// thread through the blocking dispatch loop; only the control-plane
// settings are guarded for concurrent access.
type Session struct {
	conn          wlproto.Conn
	registry      *OutputRegistry
	req           *frameRequest
	overlayCursor bool

	mu           sync.Mutex
	targetOutput string

	closed bool
}

// NewSession binds the output registry and blocks until every output
// finished discovery.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("capture: connection is required")
	}

	registry, err := NewOutputRegistry(cfg.Conn)
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:          cfg.Conn,
		registry:      registry,
		overlayCursor: cfg.OverlayCursor,
		targetOutput:  cfg.TargetOutput,
	}

	if err := s.conn.RoundTrip(); err != nil {
		return nil, fmt.Errorf("capture: initial round trip: %w", err)
	}
	if err := s.dispatchUntil(registry.AllComplete); err != nil {
		return nil, err
	}
	return s, nil
}

// SetTargetOutput changes which output the next capture request targets.
// Safe to call from a control-plane thread; it never touches in-flight
// frame state.
func (s *Session) SetTargetOutput(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetOutput = name
}

// TargetOutput returns the configured output name.
func (s *Session) TargetOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetOutput
}

// Outputs returns the discovered outputs.
func (s *Session) Outputs() []OutputInfo {
	return s.registry.Infos()
}

// TargetInfo resolves the currently selected output without issuing a
// capture request.
func (s *Session) TargetInfo() (OutputInfo, error) {
	_, info, err := s.registry.Resolve(s.TargetOutput())
	return info, err
}

// ZeroCopyAvailable reports whether the connection carries the zero-copy
// buffer transport.
func (s *Session) ZeroCopyAvailable() bool {
	_, ok := s.conn.Dmabuf()
	return ok
}

// HandleShmFormat implements wlproto.FrameHandler.
func (s *Session) HandleShmFormat(f wlproto.Frame, ev wlproto.ShmFormatEvent) {
	s.trackedRequest(f).addShmCandidate(ev)
}

// HandleDmabufFormat implements wlproto.FrameHandler.
func (s *Session) HandleDmabufFormat(f wlproto.Frame, ev wlproto.DmabufFormatEvent) {
	s.trackedRequest(f).addDmabufCandidate(ev)
}

// HandleBufferDone implements wlproto.FrameHandler.
func (s *Session) HandleBufferDone(f wlproto.Frame) {
	s.trackedRequest(f).allFormatsSent()
}

// HandleReady implements wlproto.FrameHandler.
func (s *Session) HandleReady(f wlproto.Frame, ts wlproto.Timestamp) {
	s.trackedRequest(f).finishReady(ts)
}

// HandleFailed implements wlproto.FrameHandler.
func (s *Session) HandleFailed(f wlproto.Frame) {
	s.trackedRequest(f).finishFailed()
}

// trackedRequest validates the event's frame against the single tracked
// request. A mismatch is a logic defect, not a runtime condition.
func (s *Session) trackedRequest(f wlproto.Frame) *frameRequest {
	if s.req == nil || s.req.handle != f {
		panic("capture: frame event for untracked request")
	}
	return s.req
}

// arm issues the next capture request for the currently selected output.
func (s *Session) arm() error {
	output, _, err := s.registry.Resolve(s.TargetOutput())
	if err != nil {
		return err
	}

	req := &frameRequest{output: output, state: stateRequested}
	s.req = req
	frame, err := s.conn.CaptureOutput(output, s.overlayCursor, s)
	if err != nil {
		s.req = nil
		return fmt.Errorf("capture: request frame: %w", err)
	}
	req.handle = frame
	req.armed()
	return nil
}

// EnsureFormats makes sure a frame request is in flight and blocks until
// its candidate formats are complete. A frame the compositor fails before
// the candidates complete is destroyed and the next request armed, same
// as a failure during copy; the failure surfaces as ErrCaptureFailed.
func (s *Session) EnsureFormats() error {
	if s.req == nil {
		if err := s.arm(); err != nil {
			return err
		}
	}
	if err := s.dispatchUntil(func() bool {
		return s.req.formatsDone() || s.req.terminal()
	}); err != nil {
		return err
	}
	if s.req.state == stateFailed {
		s.req.handle.Destroy()
		s.req = nil
		if err := s.arm(); err != nil {
			slog.Warn("capture: re-arm failed, retrying on next capture", "error", err)
		}
		return ErrCaptureFailed
	}
	return nil
}

// Candidates returns the current frame's advertised format sets, in
// arrival order. Valid after EnsureFormats.
func (s *Session) Candidates() ([]ShmCandidate, []DmabufCandidate) {
	if s.req == nil {
		return nil, nil
	}
	return s.req.shmCandidates, s.req.dmabufCandidates
}

// ZeroCopyFormats translates the frame's zero-copy candidates to internal
// tags, skipping codes outside the supported set.
func (s *Session) ZeroCopyFormats() []video.PixelFormat {
	var formats []video.PixelFormat
	if s.req == nil {
		return formats
	}
	for _, c := range s.req.dmabufCandidates {
		if f, ok := video.FormatFromFourcc(c.Format); ok {
			formats = append(formats, f)
		}
	}
	return formats
}

// ShmFormats translates the frame's shared-memory candidates to internal
// tags, skipping codes outside the supported set.
func (s *Session) ShmFormats() []video.PixelFormat {
	var formats []video.PixelFormat
	if s.req == nil {
		return formats
	}
	for _, c := range s.req.shmCandidates {
		if f, ok := video.FormatFromShm(c.Format); ok {
			formats = append(formats, f)
		}
	}
	return formats
}

// CaptureInto copies the current frame into b, blocks until the terminal
// signal, destroys the request and immediately arms the next one. The
// buffer's layout must be bit-identical to an advertised candidate.
func (s *Session) CaptureInto(b CopyTarget) (wlproto.Timestamp, error) {
	if err := s.EnsureFormats(); err != nil {
		return wlproto.Timestamp{}, err
	}
	req := s.req

	if err := s.validateTarget(req, b); err != nil {
		return wlproto.Timestamp{}, err
	}
	req.beginCopy()
	req.handle.Copy(b.Handle())

	if err := s.dispatchUntil(req.terminal); err != nil {
		return wlproto.Timestamp{}, err
	}

	ready := req.state == stateReady
	ts := req.readyAt

	// The request is terminal and immutable: destroy it and re-arm for
	// the next frame before reporting the result.
	req.handle.Destroy()
	s.req = nil
	if err := s.arm(); err != nil {
		slog.Warn("capture: re-arm failed, retrying on next capture", "error", err)
	}

	if !ready {
		return wlproto.Timestamp{}, ErrCaptureFailed
	}
	return ts, nil
}

// validateTarget checks the buffer against the frame's advertised
// candidates. Shared-memory buffers must also match the advertised
// stride exactly.
func (s *Session) validateTarget(req *frameRequest, b CopyTarget) error {
	layout := b.Layout()

	if b.ZeroCopy() {
		fourcc, ok := video.FormatToFourcc(layout.Format)
		if !ok {
			return ErrFormatNotAdvertised
		}
		for _, c := range req.dmabufCandidates {
			if c.Format == fourcc && c.Width == layout.Width && c.Height == layout.Height {
				return nil
			}
		}
		return ErrFormatNotAdvertised
	}

	shmFormat, ok := video.FormatToShm(layout.Format)
	if !ok {
		return ErrFormatNotAdvertised
	}
	for _, c := range req.shmCandidates {
		if c.Format != shmFormat || c.Width != layout.Width || c.Height != layout.Height {
			continue
		}
		if c.Stride != layout.Stride[0] {
			return fmt.Errorf("%w: advertised %d, layout %d", ErrStrideMismatch, c.Stride, layout.Stride[0])
		}
		return nil
	}
	return ErrFormatNotAdvertised
}

// dispatchUntil blocks on the connection until the predicate for the
// current phase holds. There is no timeout and no cancellation: an
// unresponsive compositor stalls capture indefinitely.
func (s *Session) dispatchUntil(pred func() bool) error {
	for !pred() {
		if err := s.conn.Dispatch(); err != nil {
			return fmt.Errorf("capture: dispatch: %w", err)
		}
	}
	return nil
}

// Close destroys any in-flight request, releases the outputs and closes
// the connection.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.req != nil {
		s.req.handle.Destroy()
		s.req = nil
	}
	s.registry.Release()
	return s.conn.Close()
}
