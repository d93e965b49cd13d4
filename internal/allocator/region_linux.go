//go:build linux

package allocator

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map maps the region read-write shared and returns the byte view. The
// mapping is created once and torn down by Close.
func (r *Region) Map() ([]byte, error) {
	if r.closed {
		return nil, fmt.Errorf("allocator: map of closed region")
	}
	if r.data != nil {
		return r.data, nil
	}
	data, err := unix.Mmap(r.fd, 0, int(r.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("allocator: mmap %d bytes: %w", r.size, err)
	}
	r.data = data
	return r.data, nil
}

// Close unmaps, closes the fd and runs the backend-specific teardown.
// Safe to call once; further calls are no-ops.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var first error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil && first == nil {
			first = err
		}
		r.data = nil
	}
	if err := unix.Close(r.fd); err != nil && first == nil {
		first = err
	}
	if r.closer != nil {
		if err := r.closer(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
