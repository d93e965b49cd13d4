//go:build linux

package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cmeissl/gst-wlr-screencopy-src/internal/allocator"
	"github.com/cmeissl/gst-wlr-screencopy-src/video"
	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto"
)

var (
	// ErrNotConfigured is returned when buffers are requested before a
	// successful Configure.
	ErrNotConfigured = errors.New("pool: not configured")
	// ErrNoBuffers is returned when max-buffers buffers are already
	// outstanding.
	ErrNoBuffers = errors.New("pool: all buffers outstanding")
)

// Pool fabricates buffers matching the configured video layout, backed by
// the allocator resolved for that configuration, and wraps every backing
// region in a compositor-importable handle.
//
// The pool has two states, unconfigured and configured, and is re-entrant
// through reconfiguration. A failed Configure never touches previously
// committed state.
type Pool struct {
	shm             wlproto.Shm
	dmabuf          wlproto.Dmabuf
	zeroCopyFormats []video.PixelFormat
	selector        *Selector

	mu          sync.Mutex
	configured  bool
	layout      video.Layout
	alloc       allocator.Allocator
	presetAlloc allocator.Allocator
	minBuffers  uint32
	maxBuffers  uint32
	outstanding uint32
}

// New returns an unconfigured pool. dmabuf may be nil when the session
// has no zero-copy transport; zeroCopyFormats is the frame's zero-copy
// candidate set translated to internal tags.
func New(shm wlproto.Shm, dmabuf wlproto.Dmabuf, zeroCopyFormats []video.PixelFormat, selector *Selector) *Pool {
	return &Pool{
		shm:             shm,
		dmabuf:          dmabuf,
		zeroCopyFormats: zeroCopyFormats,
		selector:        selector,
	}
}

// SetAllocator presets the backend for the next Configure, bypassing
// selection. Used when the enclosing negotiation already resolved one.
func (p *Pool) SetAllocator(a allocator.Allocator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presetAlloc = a
}

// Configure validates caps and size, resolves the allocator and commits
// the new configuration. It returns false on invalid input without
// mutating committed state, matching the decide-allocation contract of
// the enclosing pipeline framework.
func (p *Pool) Configure(caps video.Caps, size uint64, minBuffers, maxBuffers uint32, align video.Alignment) bool {
	if caps == (video.Caps{}) {
		slog.Warn("pool: configure without caps")
		return false
	}

	layout, err := video.LayoutFromCaps(caps, align)
	if err != nil {
		slog.Warn("pool: caps do not describe a video layout", "error", err)
		return false
	}

	if size < layout.Size {
		slog.Warn("pool: configured size too small for caps",
			"size", size,
			"layout_size", layout.Size,
		)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	alloc := p.presetAlloc
	if alloc == nil {
		alloc, err = p.selector.Select(layout.Format, p.zeroCopyFormats, p.dmabuf != nil)
		if err != nil {
			slog.Warn("pool: allocator selection failed", "format", layout.Format, "error", err)
			return false
		}
	}

	if p.alloc != nil && p.alloc != alloc && p.alloc != p.presetAlloc {
		p.alloc.Close()
	}

	p.configured = true
	p.layout = layout
	p.alloc = alloc
	p.minBuffers = minBuffers
	p.maxBuffers = maxBuffers

	slog.Debug("pool: configured",
		"format", layout.Format.String(),
		"width", layout.Width,
		"height", layout.Height,
		"stride", layout.Stride[0],
		"size", layout.Size,
		"backend", alloc.Kind().String(),
		"min_buffers", minBuffers,
		"max_buffers", maxBuffers,
	)
	return true
}

// Configured reports whether a configuration is committed.
func (p *Pool) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configured
}

// Layout returns the committed layout.
func (p *Pool) Layout() (video.Layout, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.layout, p.configured
}

// Kind returns the committed backend kind.
func (p *Pool) Kind() (allocator.Kind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.configured {
		return 0, false
	}
	return p.alloc.Kind(), true
}

// AllocBuffer obtains a region from the configured allocator, exports it
// to the compositor and returns the buffer with its import handle
// attached. Partially created protocol objects are destroyed on every
// failure branch.
func (p *Pool) AllocBuffer() (*Buffer, error) {
	p.mu.Lock()
	if !p.configured {
		p.mu.Unlock()
		return nil, ErrNotConfigured
	}
	if p.maxBuffers > 0 && p.outstanding >= p.maxBuffers {
		p.mu.Unlock()
		return nil, ErrNoBuffers
	}
	layout := p.layout
	alloc := p.alloc
	p.mu.Unlock()

	region, err := alloc.Alloc(layout)
	if err != nil {
		return nil, err
	}

	var handle wlproto.Buffer
	if alloc.Kind().ZeroCopy() {
		handle, err = p.exportDmabuf(region, layout)
		if err != nil {
			region.Close()
			return nil, err
		}
	} else {
		handle, err = p.exportShm(region, layout)
		if err != nil {
			// The sized region is intentionally not reclaimed here;
			// see the allocator's documented shm leak.
			return nil, err
		}
	}

	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()

	return &Buffer{
		layout: layout,
		region: region,
		kind:   alloc.Kind(),
		handle: handle,
	}, nil
}

// exportDmabuf walks the layout planes, submits each plane's backing fd,
// offset and stride with the linear modifier, and finishes the exchange
// with an immediate buffer creation.
func (p *Pool) exportDmabuf(region *allocator.Region, layout video.Layout) (wlproto.Buffer, error) {
	fourcc, ok := video.FormatToFourcc(layout.Format)
	if !ok {
		return nil, fmt.Errorf("pool: format %s has no fourcc", layout.Format)
	}
	if p.dmabuf == nil {
		return nil, fmt.Errorf("pool: zero-copy backend without dmabuf transport")
	}

	params, err := p.dmabuf.CreateParams()
	if err != nil {
		return nil, fmt.Errorf("pool: create buffer params: %w", err)
	}

	modHi := uint32(wlproto.ModifierLinear >> 32)
	modLo := uint32(wlproto.ModifierLinear)
	for plane := 0; plane < layout.Format.Planes(); plane++ {
		err := params.Add(region.FD(), uint32(plane), uint32(layout.Offset[plane]), layout.Stride[plane], modHi, modLo)
		if err != nil {
			params.Destroy()
			return nil, fmt.Errorf("pool: add plane %d: %w", plane, err)
		}
	}

	buf, err := params.CreateImmed(int32(layout.Width), int32(layout.Height), fourcc, 0)
	params.Destroy()
	if err != nil {
		return nil, fmt.Errorf("pool: create dmabuf buffer: %w", err)
	}
	return buf, nil
}

// exportShm wraps the region fd in a shared-memory pool and creates a
// single buffer spanning it.
func (p *Pool) exportShm(region *allocator.Region, layout video.Layout) (wlproto.Buffer, error) {
	shmFormat, ok := video.FormatToShm(layout.Format)
	if !ok {
		return nil, fmt.Errorf("pool: format %s has no wl_shm code", layout.Format)
	}

	shmPool, err := p.shm.CreatePool(region.FD(), int32(region.Size()))
	if err != nil {
		return nil, fmt.Errorf("pool: create shm pool: %w", err)
	}

	buf, err := shmPool.CreateBuffer(0, int32(layout.Width), int32(layout.Height), int32(layout.Stride[0]), shmFormat)
	if err != nil {
		shmPool.Destroy()
		return nil, fmt.Errorf("pool: create shm buffer: %w", err)
	}
	shmPool.Destroy()
	return buf, nil
}

// FreeBuffer destroys the buffer's compositor handle and releases its
// backing region. Mandatory: skipping it leaks a compositor-side
// resource even though local memory would be reclaimed.
func (p *Pool) FreeBuffer(b *Buffer) {
	if b == nil || !b.release() {
		return
	}
	p.mu.Lock()
	if p.outstanding > 0 {
		p.outstanding--
	}
	p.mu.Unlock()
}

// Close tears the pool down, closing the selected allocator.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = false
	if p.alloc != nil && p.alloc != p.presetAlloc {
		err := p.alloc.Close()
		p.alloc = nil
		return err
	}
	p.alloc = nil
	return nil
}
