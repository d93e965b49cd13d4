//go:build linux

package allocator

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

// MemfdAllocator creates anonymous shared memory sealed against shrinking
// and further resealing, so the compositor cannot resize the region under
// the writer.
type MemfdAllocator struct{}

// NewMemfdAllocator returns the sealed shared-memory backend.
func NewMemfdAllocator() *MemfdAllocator { return &MemfdAllocator{} }

// Kind implements Allocator.
func (a *MemfdAllocator) Kind() Kind { return KindMemfd }

// Alloc creates a memfd, grows it to the layout size and applies a
// shrink seal followed by the final seal. Seal failures are logged and
// ignored; the created and sized region is still returned.
//
// If a later handle export fails, the region is not reclaimed by this
// backend. That leak is a known, accepted risk of the shm path.
func (a *MemfdAllocator) Alloc(l video.Layout) (*Region, error) {
	fd, err := unix.MemfdCreate("wlr-screencopy-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("allocator: memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(l.Size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("allocator: ftruncate to %d: %w", l.Size, err)
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK); err != nil {
		slog.Warn("allocator: failed to seal memfd against shrinking", "error", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SEAL); err != nil {
		slog.Warn("allocator: failed to apply final memfd seal", "error", err)
	}

	return &Region{fd: fd, size: l.Size}, nil
}

// Close implements Allocator. The backend holds no resources.
func (a *MemfdAllocator) Close() error { return nil }
