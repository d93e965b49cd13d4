//go:build linux

// Package wlprototest provides a synthetic in-process implementation of
// the wlproto port. It advertises configurable outputs, accepts
// shared-memory buffers and fills them with a moving test pattern,
// driving the whole capture path without a compositor. Useful for demos
// and integration tests; real deployments supply a socket transport.
package wlprototest

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto"
)

// OutputConfig describes one synthetic output.
type OutputConfig struct {
	Name        string
	Description string
	Width       int32
	Height      int32
	RefreshMHz  int32
}

// Config configures the synthetic compositor.
type Config struct {
	// Outputs to advertise. Defaults to one 1280x720@60 output named
	// SYNTH-1.
	Outputs []OutputConfig
	// Formats advertised for every frame. Defaults to XRGB8888.
	Formats []wlproto.ShmFormat
}

// Conn is a synthetic wlproto.Conn. Events are queued at request time and
// delivered through Dispatch, so the capture side's blocking dispatch
// loop always finds progress.
type Conn struct {
	cfg     Config
	outputs []*output
	shm     shm
	queue   []func()
	epoch   time.Time
	frame   uint64
	closed  bool
}

// New returns a synthetic compositor connection.
func New(cfg Config) *Conn {
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []OutputConfig{{
			Name:        "SYNTH-1",
			Description: "synthetic output",
			Width:       1280,
			Height:      720,
			RefreshMHz:  60000,
		}}
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []wlproto.ShmFormat{wlproto.ShmFormatXrgb8888}
	}

	c := &Conn{cfg: cfg, epoch: time.Now()}
	for i := range cfg.Outputs {
		c.outputs = append(c.outputs, &output{cfg: cfg.Outputs[i]})
	}
	return c
}

type output struct {
	cfg      OutputConfig
	released bool
}

func (o *output) Release() { o.released = true }

// Globals implements wlproto.Conn.
func (c *Conn) Globals() []wlproto.Global {
	globals := []wlproto.Global{
		{Name: 1, Interface: wlproto.ShmInterface, Version: 1},
		{Name: 2, Interface: wlproto.ScreencopyInterface, Version: 3},
	}
	for i := range c.outputs {
		globals = append(globals, wlproto.Global{
			Name:      uint32(10 + i),
			Interface: wlproto.OutputInterface,
			Version:   4,
		})
	}
	return globals
}

// BindOutput implements wlproto.Conn.
func (c *Conn) BindOutput(g wlproto.Global, version uint32, h wlproto.OutputHandler) (wlproto.Output, error) {
	idx := int(g.Name) - 10
	if idx < 0 || idx >= len(c.outputs) {
		return nil, fmt.Errorf("wlprototest: unknown output global %d", g.Name)
	}
	o := c.outputs[idx]

	c.queue = append(c.queue,
		func() { h.HandleGeometry(o, wlproto.OutputGeometry{}) },
		func() {
			h.HandleMode(o, wlproto.OutputMode{
				Flags:   wlproto.OutputModeCurrent,
				Width:   o.cfg.Width,
				Height:  o.cfg.Height,
				Refresh: o.cfg.RefreshMHz,
			})
		},
		func() { h.HandleName(o, o.cfg.Name) },
		func() { h.HandleDescription(o, o.cfg.Description) },
		func() { h.HandleDone(o) },
	)
	return o, nil
}

// Shm implements wlproto.Conn.
func (c *Conn) Shm() wlproto.Shm { return &c.shm }

// Dmabuf implements wlproto.Conn. The synthetic compositor has no GPU
// import path.
func (c *Conn) Dmabuf() (wlproto.Dmabuf, bool) { return nil, false }

// CaptureOutput implements wlproto.Conn.
func (c *Conn) CaptureOutput(o wlproto.Output, overlayCursor bool, h wlproto.FrameHandler) (wlproto.Frame, error) {
	out, ok := o.(*output)
	if !ok {
		return nil, errors.New("wlprototest: foreign output handle")
	}

	f := &frame{conn: c, out: out, handler: h}
	for _, format := range c.cfg.Formats {
		format := format
		c.queue = append(c.queue, func() {
			h.HandleShmFormat(f, wlproto.ShmFormatEvent{
				Format: format,
				Width:  uint32(out.cfg.Width),
				Height: uint32(out.cfg.Height),
				Stride: uint32(out.cfg.Width) * 4,
			})
		})
	}
	c.queue = append(c.queue, func() { h.HandleBufferDone(f) })
	return f, nil
}

// Dispatch implements wlproto.Conn. An empty queue means the capture side
// is waiting for an event that will never come; that is a usage error,
// not a blocking condition.
func (c *Conn) Dispatch() error {
	if len(c.queue) == 0 {
		return errors.New("wlprototest: dispatch with no pending events")
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	next()
	return nil
}

// RoundTrip implements wlproto.Conn.
func (c *Conn) RoundTrip() error {
	for len(c.queue) > 0 {
		if err := c.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// Close implements wlproto.Conn.
func (c *Conn) Close() error {
	c.closed = true
	return nil
}

type frame struct {
	conn      *Conn
	out       *output
	handler   wlproto.FrameHandler
	destroyed bool
}

// Copy paints the test pattern into the buffer and completes the frame.
func (f *frame) Copy(b wlproto.Buffer) {
	c := f.conn
	c.frame++
	tick := c.frame

	if buf, ok := b.(*shmBuffer); ok {
		drawPattern(buf, tick)
	}

	elapsed := time.Since(c.epoch)
	ts := wlproto.Timestamp{
		Sec:  uint64(elapsed / time.Second),
		Nsec: uint32(elapsed % time.Second),
	}
	c.queue = append(c.queue, func() { f.handler.HandleReady(f, ts) })
}

func (f *frame) Destroy() { f.destroyed = true }

type shm struct{}

// CreatePool maps the client's fd so captures can write into it.
func (s *shm) CreatePool(fd int, size int32) (wlproto.ShmPool, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("wlprototest: map pool fd: %w", err)
	}
	return &shmPool{data: data}, nil
}

// shmPool keeps its mapping alive until the pool and every buffer carved
// from it are gone, matching wl_shm_pool semantics.
type shmPool struct {
	data      []byte
	buffers   int
	destroyed bool
}

func (p *shmPool) CreateBuffer(offset, width, height, stride int32, format wlproto.ShmFormat) (wlproto.Buffer, error) {
	end := int(offset) + int(stride)*int(height)
	if end > len(p.data) {
		return nil, fmt.Errorf("wlprototest: buffer exceeds pool (%d > %d)", end, len(p.data))
	}
	p.buffers++
	return &shmBuffer{
		pool:   p,
		data:   p.data[offset:end],
		width:  int(width),
		height: int(height),
		stride: int(stride),
		format: format,
	}, nil
}

func (p *shmPool) Destroy() {
	p.destroyed = true
	p.maybeUnmap()
}

func (p *shmPool) maybeUnmap() {
	if p.destroyed && p.buffers == 0 && p.data != nil {
		unix.Munmap(p.data)
		p.data = nil
	}
}

type shmBuffer struct {
	pool   *shmPool
	data   []byte
	width  int
	height int
	stride int
	format wlproto.ShmFormat
}

func (b *shmBuffer) Destroy() {
	if b.pool == nil {
		return
	}
	b.pool.buffers--
	b.pool.maybeUnmap()
	b.pool = nil
	b.data = nil
}

// drawPattern writes a moving color gradient. Channel order is not
// adjusted per format; the pattern is diagnostic, not color-accurate.
func drawPattern(b *shmBuffer, tick uint64) {
	t := byte(tick * 2)
	for y := 0; y < b.height; y++ {
		row := b.data[y*b.stride:]
		for x := 0; x < b.width; x++ {
			row[x*4+0] = byte(x*255/b.width) + t
			row[x*4+1] = byte(y*255/b.height) + t
			row[x*4+2] = t
			row[x*4+3] = 0xff
		}
	}
}
