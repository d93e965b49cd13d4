//go:build linux

package allocator

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

// DefaultDRMDevice is the render node used when no device path is given.
const DefaultDRMDevice = "/dev/dri/renderD128"

// Dumb-buffer and PRIME ioctl ABI. Sizes must match the kernel structs
// exactly; the assertions below fail the build on drift.
type drmModeCreateDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

type drmModeDestroyDumb struct {
	handle uint32
}

type drmPrimeHandle struct {
	handle uint32
	flags  uint32
	fd     int32
}

var (
	_ [0]struct{} = [unsafe.Sizeof(drmModeCreateDumb{}) - 32]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(drmModeDestroyDumb{}) - 4]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(drmPrimeHandle{}) - 12]struct{}{}
)

const (
	drmIoctlModeCreateDumb  = 0xc02064b2 // DRM_IOWR(0xB2, drm_mode_create_dumb)
	drmIoctlModeDestroyDumb = 0xc00464b4 // DRM_IOWR(0xB4, drm_mode_destroy_dumb)
	drmIoctlPrimeHandleToFd = 0xc00c642d // DRM_IOWR(0x2D, drm_prime_handle)
)

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// DRMDumbAllocator allocates linear dumb buffers from a render node and
// exports them as shareable dmabuf fds. Only the linear layout is
// produced; tiled modifiers are never requested.
type DRMDumbAllocator struct {
	device *os.File
}

// NewDRMDumbAllocator opens the render node once. An empty path selects
// DefaultDRMDevice.
func NewDRMDumbAllocator(path string) (*DRMDumbAllocator, error) {
	if path == "" {
		path = DefaultDRMDevice
	}
	device, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("allocator: open render node %s: %w", path, err)
	}
	return &DRMDumbAllocator{device: device}, nil
}

// Kind implements Allocator.
func (a *DRMDumbAllocator) Kind() Kind { return KindDRMDumb }

// Alloc creates a dumb buffer for the layout dimensions, exports it and
// verifies the exported region is at least as large as the layout.
// An undersized export is a hard failure.
func (a *DRMDumbAllocator) Alloc(l video.Layout) (*Region, error) {
	devFD := a.device.Fd()

	create := drmModeCreateDumb{
		height: l.Height,
		width:  l.Width,
		bpp:    8 * l.Format.BytesPerPixel(),
	}
	if err := ioctl(devFD, drmIoctlModeCreateDumb, unsafe.Pointer(&create)); err != nil {
		return nil, fmt.Errorf("allocator: create dumb buffer %dx%d: %w", l.Width, l.Height, err)
	}

	destroyDumb := func() error {
		destroy := drmModeDestroyDumb{handle: create.handle}
		return ioctl(devFD, drmIoctlModeDestroyDumb, unsafe.Pointer(&destroy))
	}

	prime := drmPrimeHandle{
		handle: create.handle,
		flags:  unix.O_CLOEXEC | unix.O_RDWR,
		fd:     -1,
	}
	if err := ioctl(devFD, drmIoctlPrimeHandleToFd, unsafe.Pointer(&prime)); err != nil {
		destroyDumb()
		return nil, fmt.Errorf("allocator: export dumb buffer: %w", err)
	}

	size, err := exportedSize(int(prime.fd))
	if err != nil {
		unix.Close(int(prime.fd))
		destroyDumb()
		return nil, err
	}
	if size < l.Size {
		unix.Close(int(prime.fd))
		destroyDumb()
		return nil, fmt.Errorf("%w: got %d, layout needs %d", ErrShortBuffer, size, l.Size)
	}

	return &Region{fd: int(prime.fd), size: size, closer: destroyDumb}, nil
}

// Close releases the render node.
func (a *DRMDumbAllocator) Close() error { return a.device.Close() }

// exportedSize measures an exported fd by seeking to its end.
func exportedSize(fd int) (uint64, error) {
	size, err := unix.Seek(fd, 0, unix.SEEK_END)
	if err != nil {
		return 0, fmt.Errorf("allocator: seek exported fd: %w", err)
	}
	if _, err := unix.Seek(fd, 0, unix.SEEK_SET); err != nil {
		return 0, fmt.Errorf("allocator: rewind exported fd: %w", err)
	}
	return uint64(size), nil
}
