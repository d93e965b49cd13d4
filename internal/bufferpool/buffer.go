//go:build linux

package bufferpool

import (
	"github.com/cmeissl/gst-wlr-screencopy-src/internal/allocator"
	"github.com/cmeissl/gst-wlr-screencopy-src/video"
	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto"
)

// Buffer is one fabricated capture buffer: the backing region, the layout
// it was built for, and the compositor handle that imports it. The handle
// is exclusively owned by the buffer and released exactly once, through
// the pool's FreeBuffer.
type Buffer struct {
	layout   video.Layout
	region   *allocator.Region
	kind     allocator.Kind
	handle   wlproto.Buffer
	released bool
}

// Layout returns the layout the buffer was fabricated for.
func (b *Buffer) Layout() video.Layout { return b.layout }

// Kind returns the backend that produced the backing region.
func (b *Buffer) Kind() allocator.Kind { return b.kind }

// ZeroCopy reports whether the backing region is GPU-shareable.
func (b *Buffer) ZeroCopy() bool { return b.kind.ZeroCopy() }

// Handle returns the compositor-importable buffer handle.
func (b *Buffer) Handle() wlproto.Buffer { return b.handle }

// FD returns the backing region's file descriptor.
func (b *Buffer) FD() int { return b.region.FD() }

// Size returns the backing region's real size, which is at least the
// layout size.
func (b *Buffer) Size() uint64 { return b.region.Size() }

// Map returns the byte view of the backing region. Intended for the
// shared-memory path; mapping a dmabuf region may fail depending on the
// exporting driver.
func (b *Buffer) Map() ([]byte, error) { return b.region.Map() }

// release destroys the handle and closes the region. Returns false if
// the buffer was already released.
func (b *Buffer) release() bool {
	if b.released {
		return false
	}
	b.released = true
	b.handle.Destroy()
	b.region.Close()
	return true
}
