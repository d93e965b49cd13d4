// Package allocator provides the memory backends that produce sized,
// fd-backed regions for capture buffers: sealed anonymous shared memory,
// linear DRM dumb buffers exported through PRIME, and kernel DMA heap
// allocations. A backend is chosen once per pool configuration and held
// fixed until the next reconfiguration.
package allocator

import (
	"errors"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

// Kind tags the backend variant. Buffer fabrication inspects it once
// instead of type-asserting the allocator per call.
type Kind int

const (
	// KindMemfd is sealed anonymous shared memory.
	KindMemfd Kind = iota
	// KindDRMDumb is a linear GPU dumb buffer exported as a dmabuf fd.
	KindDRMDumb
	// KindDMAHeap is a kernel dma-heap allocation.
	KindDMAHeap
)

// String returns the backend name for logging.
func (k Kind) String() string {
	switch k {
	case KindMemfd:
		return "memfd"
	case KindDRMDumb:
		return "drm-dumb"
	case KindDMAHeap:
		return "dma-heap"
	default:
		return "unknown"
	}
}

// ZeroCopy reports whether regions from this backend are shareable by
// handle without a CPU-side copy.
func (k Kind) ZeroCopy() bool { return k == KindDRMDumb || k == KindDMAHeap }

// ErrShortBuffer is returned when a backend produced a region smaller
// than the requested layout. This is a hard failure, never retried.
var ErrShortBuffer = errors.New("allocator: exported buffer smaller than layout")

// Allocator produces regions sized to a video layout.
type Allocator interface {
	Kind() Kind
	// Alloc returns a region of at least l.Size bytes. The region owns
	// its fd; closing the region is the only way to release it.
	Alloc(l video.Layout) (*Region, error)
	// Close releases backend resources (device nodes). Outstanding
	// regions stay valid.
	Close() error
}

// Region is one allocated backing region: an fd and its real size, which
// may exceed the layout size the caller asked for.
type Region struct {
	fd     int
	size   uint64
	data   []byte
	closer func() error
	closed bool
}

// NewRegion wraps an existing fd. The region takes ownership of the fd;
// closer, if non-nil, runs during Close after the fd is closed.
func NewRegion(fd int, size uint64, closer func() error) *Region {
	return &Region{fd: fd, size: size, closer: closer}
}

// FD returns the raw file descriptor backing the region.
func (r *Region) FD() int { return r.fd }

// Size returns the real region size in bytes.
func (r *Region) Size() uint64 { return r.size }
