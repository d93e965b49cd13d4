//go:build linux

package allocator

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

// DefaultDMAHeapDevice is the system dma-heap character device.
const DefaultDMAHeapDevice = "/dev/dma_heap/system"

type dmaHeapAllocationData struct {
	len       uint64
	fd        uint32
	fdFlags   uint32
	heapFlags uint64
}

var _ [0]struct{} = [unsafe.Sizeof(dmaHeapAllocationData{}) - 24]struct{}{}

const dmaHeapIoctlAlloc = 0xc0184800 // _IOWR('H', 0x00, dma_heap_allocation_data)

// DMAHeapAvailable reports whether a dma-heap device exists at path (or
// the default path when empty). Callers query this once and treat the
// answer as a preference hint; backends are never mixed mid-session.
func DMAHeapAvailable(path string) bool {
	if path == "" {
		path = DefaultDMAHeapDevice
	}
	_, err := os.Stat(path)
	return err == nil
}

// DMAHeapAllocator allocates shareable buffers directly from a kernel
// dma-heap. Same external contract as the DRM backend.
type DMAHeapAllocator struct {
	heap *os.File
}

// NewDMAHeapAllocator opens the heap device once. An empty path selects
// DefaultDMAHeapDevice.
func NewDMAHeapAllocator(path string) (*DMAHeapAllocator, error) {
	if path == "" {
		path = DefaultDMAHeapDevice
	}
	heap, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("allocator: open dma-heap %s: %w", path, err)
	}
	return &DMAHeapAllocator{heap: heap}, nil
}

// Kind implements Allocator.
func (a *DMAHeapAllocator) Kind() Kind { return KindDMAHeap }

// Alloc allocates l.Size bytes from the heap and verifies the resulting
// fd really is that large.
func (a *DMAHeapAllocator) Alloc(l video.Layout) (*Region, error) {
	arg := dmaHeapAllocationData{
		len:     l.Size,
		fdFlags: unix.O_RDWR | unix.O_CLOEXEC,
	}
	if err := ioctl(a.heap.Fd(), dmaHeapIoctlAlloc, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("allocator: dma-heap alloc %d bytes: %w", l.Size, err)
	}

	size, err := exportedSize(int(arg.fd))
	if err != nil {
		unix.Close(int(arg.fd))
		return nil, err
	}
	if size < l.Size {
		unix.Close(int(arg.fd))
		return nil, fmt.Errorf("%w: got %d, layout needs %d", ErrShortBuffer, size, l.Size)
	}

	return &Region{fd: int(arg.fd), size: size}, nil
}

// Close releases the heap device.
func (a *DMAHeapAllocator) Close() error { return a.heap.Close() }
