//go:build linux

package bufferpool

import (
	"log/slog"

	"github.com/cmeissl/gst-wlr-screencopy-src/internal/allocator"
	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

// SelectorConfig carries the device paths the zero-copy backends open.
type SelectorConfig struct {
	// DRMDevicePath is the render node, allocator.DefaultDRMDevice when
	// empty.
	DRMDevicePath string
	// DMAHeapPath is the dma-heap device, allocator.DefaultDMAHeapDevice
	// when empty.
	DMAHeapPath string
}

// Selector picks a memory backend for a pool configuration. The dma-heap
// availability probe runs once at construction and is only a preference
// hint; a session never mixes backends without an explicit reconfigure.
type Selector struct {
	cfg           SelectorConfig
	heapAvailable bool

	newMemfd func() (allocator.Allocator, error)
	newDRM   func(path string) (allocator.Allocator, error)
	newHeap  func(path string) (allocator.Allocator, error)
}

// NewSelector probes dma-heap availability and returns a selector bound
// to the given device paths.
func NewSelector(cfg SelectorConfig) *Selector {
	return &Selector{
		cfg:           cfg,
		heapAvailable: allocator.DMAHeapAvailable(cfg.DMAHeapPath),
		newMemfd: func() (allocator.Allocator, error) {
			return allocator.NewMemfdAllocator(), nil
		},
		newDRM: func(path string) (allocator.Allocator, error) {
			return allocator.NewDRMDumbAllocator(path)
		},
		newHeap: func(path string) (allocator.Allocator, error) {
			return allocator.NewDMAHeapAllocator(path)
		},
	}
}

// Select resolves the backend for the negotiated format. Zero-copy wins
// only when the format is in the frame's zero-copy candidate set and the
// session has zero-copy transport; the dma-heap is preferred over the
// render node when present. Everything else gets sealed shared memory.
func (s *Selector) Select(f video.PixelFormat, zeroCopyFormats []video.PixelFormat, dmabufTransport bool) (allocator.Allocator, error) {
	if dmabufTransport && containsFormat(zeroCopyFormats, f) {
		if s.heapAvailable {
			a, err := s.newHeap(s.cfg.DMAHeapPath)
			if err == nil {
				return a, nil
			}
			slog.Warn("pool: dma-heap open failed, falling back to render node", "error", err)
		}
		return s.newDRM(s.cfg.DRMDevicePath)
	}
	return s.newMemfd()
}

func containsFormat(formats []video.PixelFormat, f video.PixelFormat) bool {
	for _, candidate := range formats {
		if candidate == f {
			return true
		}
	}
	return false
}
