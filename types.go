package wlrscreencopy

import (
	"time"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto"
)

// Config contains configuration for a capture source
type Config struct {
	// Conn is the established compositor connection (required)
	Conn wlproto.Conn
	// Output selects the capture target by name; empty selects the first
	// discovered output
	Output string
	// OverlayCursor composes the cursor into captured frames
	OverlayCursor bool
	// DRMDevicePath is the render node for dumb-buffer allocation
	// (default /dev/dri/renderD128)
	DRMDevicePath string
	// DMAHeapPath is the dma-heap device (default /dev/dma_heap/system)
	DMAHeapPath string
	// StrideAlign rounds buffer strides up to the next multiple.
	// Must be a power of two when non-zero.
	StrideAlign uint32
}

// Frame is a single captured video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// TraceID is a unique identifier for distributed tracing
	TraceID string
	// Timestamp is when the frame arrived locally
	Timestamp time.Time
	// Presentation is the compositor-reported presentation time
	Presentation wlproto.Timestamp
	// Width in pixels
	Width uint32
	// Height in pixels
	Height uint32
	// Stride is the first-plane row pitch in bytes
	Stride uint32
	// Format is the negotiated pixel format
	Format video.PixelFormat
	// Data contains the pixel bytes for shared-memory frames; nil for
	// zero-copy frames
	Data []byte
	// DmabufFD is the exported buffer fd for zero-copy frames, -1 otherwise.
	// The fd stays valid until Release.
	DmabufFD int
	// ZeroCopy indicates the frame is backed by GPU-shareable memory
	ZeroCopy bool

	release func()
}

// Release returns the frame's backing buffer to the pool. Required for
// zero-copy frames; a no-op for shared-memory frames, whose Data is an
// owned copy.
func (f *Frame) Release() {
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

// Stats contains current capture statistics
type Stats struct {
	// FrameCount is the total number of frames captured
	FrameCount uint64
	// FramesFailed is the number of compositor-failed capture attempts
	FramesFailed uint64
	// FPSReal is the measured capture rate since construction
	FPSReal float64
	// Uptime is the time since the source was created
	Uptime time.Duration
	// Backend names the committed memory backend, empty before Configure
	Backend string
	// Output is the selected output name
	Output string
	// IsConfigured indicates a committed buffer configuration
	IsConfigured bool
}
