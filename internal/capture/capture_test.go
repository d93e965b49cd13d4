package capture

import (
	"errors"
	"testing"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto"
)

// fakeConn scripts the compositor side of the handshake. Inbound events
// are queued as thunks and delivered one at a time by Dispatch, matching
// the blocking dispatch contract.
type fakeConn struct {
	globals     []wlproto.Global
	outputSpecs []outputSpec
	scripts     []frameScript

	queue   []func()
	binds   int
	frames  []*fakeFrame
	outputs []*fakeOutput
	closed  bool
}

type outputSpec struct {
	name        string
	description string
	modes       []wlproto.OutputMode
}

type frameScript struct {
	shm            []wlproto.ShmFormatEvent
	dmabuf         []wlproto.DmabufFormatEvent
	failBeforeDone bool
	failAfterCopy  bool
	readyAt        wlproto.Timestamp
}

type fakeOutput struct{ released bool }

func (o *fakeOutput) Release() { o.released = true }

type fakeFrame struct {
	conn      *fakeConn
	script    frameScript
	handler   wlproto.FrameHandler
	copied    wlproto.Buffer
	destroyed bool
}

func (f *fakeFrame) Copy(b wlproto.Buffer) {
	f.copied = b
	if f.script.failAfterCopy {
		f.conn.enqueue(func() { f.handler.HandleFailed(f) })
		return
	}
	f.conn.enqueue(func() { f.handler.HandleReady(f, f.script.readyAt) })
}

func (f *fakeFrame) Destroy() { f.destroyed = true }

type fakeShm struct{}

func (fakeShm) CreatePool(fd int, size int32) (wlproto.ShmPool, error) {
	return nil, errors.New("fake: shm pool not scripted")
}

type fakeDmabuf struct{}

func (fakeDmabuf) CreateParams() (wlproto.BufferParams, error) {
	return nil, errors.New("fake: buffer params not scripted")
}

type fakeBuffer struct{ destroyed bool }

func (b *fakeBuffer) Destroy() { b.destroyed = true }

func (c *fakeConn) enqueue(f func()) { c.queue = append(c.queue, f) }

func (c *fakeConn) Globals() []wlproto.Global { return c.globals }

func (c *fakeConn) BindOutput(g wlproto.Global, version uint32, h wlproto.OutputHandler) (wlproto.Output, error) {
	if c.binds >= len(c.outputSpecs) {
		return nil, errors.New("fake: no output spec for bind")
	}
	spec := c.outputSpecs[c.binds]
	c.binds++

	o := &fakeOutput{}
	c.outputs = append(c.outputs, o)
	c.enqueue(func() { h.HandleGeometry(o, wlproto.OutputGeometry{}) })
	for _, mode := range spec.modes {
		mode := mode
		c.enqueue(func() { h.HandleMode(o, mode) })
	}
	c.enqueue(func() { h.HandleName(o, spec.name) })
	c.enqueue(func() { h.HandleDescription(o, spec.description) })
	c.enqueue(func() { h.HandleDone(o) })
	return o, nil
}

func (c *fakeConn) Shm() wlproto.Shm { return fakeShm{} }

func (c *fakeConn) Dmabuf() (wlproto.Dmabuf, bool) { return fakeDmabuf{}, true }

func (c *fakeConn) CaptureOutput(o wlproto.Output, overlayCursor bool, h wlproto.FrameHandler) (wlproto.Frame, error) {
	if len(c.scripts) == 0 {
		return nil, errors.New("fake: no frame script")
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]

	f := &fakeFrame{conn: c, script: script, handler: h}
	c.frames = append(c.frames, f)

	for _, ev := range script.shm {
		ev := ev
		c.enqueue(func() { h.HandleShmFormat(f, ev) })
	}
	for _, ev := range script.dmabuf {
		ev := ev
		c.enqueue(func() { h.HandleDmabufFormat(f, ev) })
	}
	if script.failBeforeDone {
		c.enqueue(func() { h.HandleFailed(f) })
	} else {
		c.enqueue(func() { h.HandleBufferDone(f) })
	}
	return f, nil
}

func (c *fakeConn) Dispatch() error {
	if len(c.queue) == 0 {
		return errors.New("fake: dispatch with no queued events")
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	next()
	return nil
}

func (c *fakeConn) RoundTrip() error {
	for len(c.queue) > 0 {
		if err := c.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func outputGlobal(name, version uint32) wlproto.Global {
	return wlproto.Global{Name: name, Interface: wlproto.OutputInterface, Version: version}
}

func singleOutputConn(scripts ...frameScript) *fakeConn {
	return &fakeConn{
		globals: []wlproto.Global{outputGlobal(1, 4)},
		outputSpecs: []outputSpec{{
			name:        "DP-1",
			description: "desk monitor",
			modes: []wlproto.OutputMode{
				{Flags: 0, Width: 1280, Height: 720, Refresh: 60000},
				{Flags: wlproto.OutputModeCurrent, Width: 1920, Height: 1080, Refresh: 59997},
			},
		}},
		scripts: scripts,
	}
}

func shmScript() frameScript {
	return frameScript{
		shm: []wlproto.ShmFormatEvent{
			{Format: wlproto.ShmFormatXrgb8888, Width: 1920, Height: 1080, Stride: 7680},
		},
		readyAt: wlproto.Timestamp{Sec: 12, Nsec: 500},
	}
}

func shmTarget(format video.PixelFormat, width, height, stride uint32) CopyTarget {
	return &testTarget{
		layout: video.Layout{
			Format: format,
			Width:  width,
			Height: height,
			Stride: [video.MaxPlanes]uint32{stride},
			Size:   uint64(stride) * uint64(height),
		},
		handle: &fakeBuffer{},
	}
}

type testTarget struct {
	layout   video.Layout
	zeroCopy bool
	handle   wlproto.Buffer
}

func (t *testTarget) Layout() video.Layout   { return t.layout }
func (t *testTarget) ZeroCopy() bool         { return t.zeroCopy }
func (t *testTarget) Handle() wlproto.Buffer { return t.handle }

func TestNewSession_OutputDiscovery(t *testing.T) {
	conn := &fakeConn{
		globals: []wlproto.Global{
			outputGlobal(1, 4),
			{Name: 2, Interface: wlproto.ShmInterface, Version: 1},
			outputGlobal(3, 5),
		},
		outputSpecs: []outputSpec{
			{
				name: "DP-1",
				modes: []wlproto.OutputMode{
					{Flags: wlproto.OutputModePreferred, Width: 1280, Height: 720, Refresh: 60000},
					{Flags: wlproto.OutputModeCurrent, Width: 1920, Height: 1080, Refresh: 59997},
				},
			},
			{
				name: "HDMI-A-1",
				modes: []wlproto.OutputMode{
					{Flags: wlproto.OutputModeCurrent | wlproto.OutputModePreferred, Width: 3840, Height: 2160, Refresh: 30000},
				},
			},
		},
	}

	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	infos := s.Outputs()
	if len(infos) != 2 {
		t.Fatalf("got %d outputs, want 2", len(infos))
	}
	if infos[0].Name != "DP-1" || infos[1].Name != "HDMI-A-1" {
		t.Fatalf("unexpected output names: %q, %q", infos[0].Name, infos[1].Name)
	}
	if got := infos[0].Mode; got.Width != 1920 || got.Height != 1080 || got.Refresh != 59997 {
		t.Fatalf("current mode not retained: %+v", got)
	}
	if got := infos[1].Mode; got.Width != 3840 || got.Height != 2160 {
		t.Fatalf("current mode not retained: %+v", got)
	}
}

func TestNewSession_OutputVersionTooOld(t *testing.T) {
	conn := &fakeConn{
		globals:     []wlproto.Global{outputGlobal(1, 4), outputGlobal(2, 3)},
		outputSpecs: []outputSpec{{name: "DP-1"}, {name: "DP-2"}},
	}

	if _, err := NewSession(SessionConfig{Conn: conn}); err == nil {
		t.Fatal("expected error for wl_output version 3")
	}
}

func TestOutputRegistry_Resolve(t *testing.T) {
	conn := &fakeConn{
		globals: []wlproto.Global{outputGlobal(1, 4), outputGlobal(2, 4)},
		outputSpecs: []outputSpec{
			{name: "DP-1", modes: []wlproto.OutputMode{{Flags: wlproto.OutputModeCurrent, Width: 1920, Height: 1080}}},
			{name: "HDMI-A-1", modes: []wlproto.OutputMode{{Flags: wlproto.OutputModeCurrent, Width: 1280, Height: 720}}},
		},
	}
	registry, err := NewOutputRegistry(conn)
	if err != nil {
		t.Fatalf("NewOutputRegistry: %v", err)
	}
	if err := conn.RoundTrip(); err != nil {
		t.Fatalf("round trip: %v", err)
	}

	_, info, err := registry.Resolve("")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if info.Name != "DP-1" {
		t.Fatalf("default resolved to %q, want DP-1", info.Name)
	}

	_, info, err = registry.Resolve("HDMI-A-1")
	if err != nil {
		t.Fatalf("resolve by name: %v", err)
	}
	if info.Name != "HDMI-A-1" {
		t.Fatalf("resolved to %q, want HDMI-A-1", info.Name)
	}

	if _, _, err := registry.Resolve("DP-9"); err == nil {
		t.Fatal("expected error for unknown output name")
	}
}

func TestOutputRegistry_ResolveNoOutputs(t *testing.T) {
	conn := &fakeConn{}
	registry, err := NewOutputRegistry(conn)
	if err != nil {
		t.Fatalf("NewOutputRegistry: %v", err)
	}
	if _, _, err := registry.Resolve(""); err == nil {
		t.Fatal("expected error with no outputs")
	}
}

func TestSession_EnsureFormats(t *testing.T) {
	script := frameScript{
		shm: []wlproto.ShmFormatEvent{
			{Format: wlproto.ShmFormatXrgb8888, Width: 1920, Height: 1080, Stride: 7680},
			{Format: wlproto.ShmFormatArgb8888, Width: 1920, Height: 1080, Stride: 7680},
			{Format: 0x30335241, Width: 1920, Height: 1080, Stride: 7680}, // AR30, unsupported
		},
		dmabuf: []wlproto.DmabufFormatEvent{
			{Format: wlproto.FourccXrgb8888, Width: 1920, Height: 1080},
			{Format: 0x30335241, Width: 1920, Height: 1080}, // AR30, unsupported
		},
	}
	conn := singleOutputConn(script)
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.EnsureFormats(); err != nil {
		t.Fatalf("EnsureFormats: %v", err)
	}

	shm, dmabuf := s.Candidates()
	if len(shm) != 3 || len(dmabuf) != 2 {
		t.Fatalf("got %d shm / %d dmabuf candidates, want 3 / 2", len(shm), len(dmabuf))
	}
	if shm[0].Format != wlproto.ShmFormatXrgb8888 || shm[1].Format != wlproto.ShmFormatArgb8888 {
		t.Fatal("candidates not kept in arrival order")
	}

	shmFormats := s.ShmFormats()
	if len(shmFormats) != 2 || shmFormats[0] != video.FormatBGRx || shmFormats[1] != video.FormatBGRA {
		t.Fatalf("unsupported code not skipped: %v", shmFormats)
	}
	zero := s.ZeroCopyFormats()
	if len(zero) != 1 || zero[0] != video.FormatXRGB {
		t.Fatalf("unsupported fourcc not skipped: %v", zero)
	}

	// Repeated calls on a formats-complete frame neither dispatch nor
	// re-arm.
	if err := s.EnsureFormats(); err != nil {
		t.Fatalf("second EnsureFormats: %v", err)
	}
	if len(conn.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(conn.frames))
	}
}

func TestSession_CaptureInto_Shm(t *testing.T) {
	conn := singleOutputConn(shmScript(), shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	target := shmTarget(video.FormatBGRx, 1920, 1080, 7680)
	ts, err := s.CaptureInto(target)
	if err != nil {
		t.Fatalf("CaptureInto: %v", err)
	}
	if ts.Sec != 12 || ts.Nsec != 500 {
		t.Fatalf("timestamp %+v, want {12 500}", ts)
	}

	if len(conn.frames) != 2 {
		t.Fatalf("got %d frames, want capture frame plus re-armed frame", len(conn.frames))
	}
	first := conn.frames[0]
	if first.copied != target.Handle() {
		t.Fatal("copy issued with wrong buffer handle")
	}
	if !first.destroyed {
		t.Fatal("completed frame request not destroyed")
	}
	if conn.frames[1].destroyed {
		t.Fatal("re-armed frame must stay alive")
	}
}

func TestSession_CaptureInto_StrideMismatch(t *testing.T) {
	conn := singleOutputConn(shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	target := shmTarget(video.FormatBGRx, 1920, 1080, 8192)
	if _, err := s.CaptureInto(target); !errors.Is(err, ErrStrideMismatch) {
		t.Fatalf("got %v, want ErrStrideMismatch", err)
	}
	if conn.frames[0].copied != nil {
		t.Fatal("copy must not be issued on stride mismatch")
	}
}

func TestSession_CaptureInto_FormatNotAdvertised(t *testing.T) {
	tests := []struct {
		name   string
		target CopyTarget
	}{
		{"wrong format", shmTarget(video.FormatBGRA, 1920, 1080, 7680)},
		{"wrong dimensions", shmTarget(video.FormatBGRx, 1280, 720, 5120)},
		{
			"dmabuf against shm-only frame",
			&testTarget{
				layout: video.Layout{
					Format: video.FormatXRGB,
					Width:  1920,
					Height: 1080,
					Stride: [video.MaxPlanes]uint32{7680},
					Size:   7680 * 1080,
				},
				zeroCopy: true,
				handle:   &fakeBuffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := singleOutputConn(shmScript())
			s, err := NewSession(SessionConfig{Conn: conn})
			if err != nil {
				t.Fatalf("NewSession: %v", err)
			}
			defer s.Close()

			if _, err := s.CaptureInto(tt.target); !errors.Is(err, ErrFormatNotAdvertised) {
				t.Fatalf("got %v, want ErrFormatNotAdvertised", err)
			}
		})
	}
}

func TestSession_CaptureInto_Dmabuf(t *testing.T) {
	script := frameScript{
		dmabuf:  []wlproto.DmabufFormatEvent{{Format: wlproto.FourccXrgb8888, Width: 1920, Height: 1080}},
		readyAt: wlproto.Timestamp{Sec: 3},
	}
	conn := singleOutputConn(script, script)
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	target := &testTarget{
		layout: video.Layout{
			Format: video.FormatXRGB,
			Width:  1920,
			Height: 1080,
			Stride: [video.MaxPlanes]uint32{7680},
			Size:   7680 * 1080,
		},
		zeroCopy: true,
		handle:   &fakeBuffer{},
	}
	ts, err := s.CaptureInto(target)
	if err != nil {
		t.Fatalf("CaptureInto: %v", err)
	}
	if ts.Sec != 3 {
		t.Fatalf("timestamp %+v, want sec 3", ts)
	}
}

func TestSession_CaptureInto_CompositorFailure(t *testing.T) {
	failing := shmScript()
	failing.failAfterCopy = true

	conn := singleOutputConn(failing, shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	target := shmTarget(video.FormatBGRx, 1920, 1080, 7680)
	if _, err := s.CaptureInto(target); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("got %v, want ErrCaptureFailed", err)
	}

	// The failed request is destroyed and the next one is already in
	// flight; a following capture succeeds without further intervention.
	if !conn.frames[0].destroyed {
		t.Fatal("failed frame request not destroyed")
	}
	if len(conn.frames) != 2 {
		t.Fatalf("got %d frames, want re-armed second frame", len(conn.frames))
	}

	ts, err := s.CaptureInto(shmTarget(video.FormatBGRx, 1920, 1080, 7680))
	if err != nil {
		t.Fatalf("capture after failure: %v", err)
	}
	if ts.Sec != 12 {
		t.Fatalf("timestamp %+v, want sec 12", ts)
	}
}

func TestSession_CaptureInto_FailureBeforeCopy(t *testing.T) {
	failing := frameScript{failBeforeDone: true}

	conn := singleOutputConn(failing, shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	target := shmTarget(video.FormatBGRx, 1920, 1080, 7680)
	if _, err := s.CaptureInto(target); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("got %v, want ErrCaptureFailed", err)
	}
	if conn.frames[0].copied != nil {
		t.Fatal("copy must not be issued on a failed frame")
	}
}

func TestSession_EnsureFormats_FailureBeforeDone(t *testing.T) {
	conn := singleOutputConn(frameScript{failBeforeDone: true}, shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.EnsureFormats(); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("got %v, want ErrCaptureFailed", err)
	}
	if !conn.frames[0].destroyed {
		t.Fatal("failed frame request not destroyed")
	}
	if len(conn.frames) != 2 {
		t.Fatalf("got %d frames, want re-armed second frame", len(conn.frames))
	}

	// The re-armed request carries the next frame's candidates.
	if err := s.EnsureFormats(); err != nil {
		t.Fatalf("EnsureFormats after failure: %v", err)
	}
	shm, _ := s.Candidates()
	if len(shm) != 1 || shm[0].Format != wlproto.ShmFormatXrgb8888 {
		t.Fatalf("candidates not recovered after failure: %v", shm)
	}
}

func TestSession_SequentialCaptures(t *testing.T) {
	conn := singleOutputConn(shmScript(), shmScript(), shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	for i := 0; i < 2; i++ {
		if _, err := s.CaptureInto(shmTarget(video.FormatBGRx, 1920, 1080, 7680)); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}
	if len(conn.frames) != 3 {
		t.Fatalf("got %d frames, want 3 (two captured, one armed)", len(conn.frames))
	}
}

func TestSession_Close(t *testing.T) {
	conn := singleOutputConn(shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.EnsureFormats(); err != nil {
		t.Fatalf("EnsureFormats: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.closed {
		t.Fatal("connection not closed")
	}
	if !conn.frames[0].destroyed {
		t.Fatal("in-flight frame not destroyed on close")
	}
	for _, o := range conn.outputs {
		if !o.released {
			t.Fatal("output not released on close")
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestFrameRequest_InvalidTransitionsPanic(t *testing.T) {
	tests := []struct {
		name string
		run  func(r *frameRequest)
	}{
		{"ready before copy", func(r *frameRequest) {
			r.armed()
			r.finishReady(wlproto.Timestamp{})
		}},
		{"copy before buffer-done", func(r *frameRequest) {
			r.armed()
			r.beginCopy()
		}},
		{"format after buffer-done", func(r *frameRequest) {
			r.armed()
			r.allFormatsSent()
			r.addShmCandidate(wlproto.ShmFormatEvent{})
		}},
		{"failed after terminal", func(r *frameRequest) {
			r.armed()
			r.allFormatsSent()
			r.beginCopy()
			r.finishFailed()
			r.finishFailed()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			tt.run(&frameRequest{state: stateRequested})
		})
	}
}

func TestSession_UntrackedFrameEventPanics(t *testing.T) {
	conn := singleOutputConn(shmScript())
	s, err := NewSession(SessionConfig{Conn: conn})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for untracked frame")
		}
	}()
	s.HandleReady(&fakeFrame{}, wlproto.Timestamp{})
}
