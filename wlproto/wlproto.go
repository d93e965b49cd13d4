package wlproto

// ShmFormat is a wl_shm pixel format code. ARGB8888 and XRGB8888 keep
// their historic enum values 0 and 1; every other code equals the
// corresponding DRM fourcc.
type ShmFormat uint32

const (
	ShmFormatArgb8888 ShmFormat = 0
	ShmFormatXrgb8888 ShmFormat = 1
	ShmFormatXbgr8888 ShmFormat = 0x34324258 // 'XB24'
	ShmFormatAbgr8888 ShmFormat = 0x34324241 // 'AB24'
	ShmFormatRgba8888 ShmFormat = 0x34324152 // 'RA24'
	ShmFormatRgbx8888 ShmFormat = 0x34325852 // 'RX24'
	ShmFormatBgra8888 ShmFormat = 0x34324142 // 'BA24'
	ShmFormatBgrx8888 ShmFormat = 0x34325842 // 'BX24'
)

// Fourcc is a DRM pixel format code as used by linux-dmabuf.
type Fourcc uint32

const (
	FourccArgb8888 Fourcc = 0x34325241 // 'AR24'
	FourccXrgb8888 Fourcc = 0x34325258 // 'XR24'
	FourccAbgr8888 Fourcc = 0x34324241 // 'AB24'
	FourccXbgr8888 Fourcc = 0x34324258 // 'XB24'
	FourccRgba8888 Fourcc = 0x34324152 // 'RA24'
	FourccRgbx8888 Fourcc = 0x34325852 // 'RX24'
	FourccBgra8888 Fourcc = 0x34324142 // 'BA24'
	FourccBgrx8888 Fourcc = 0x34325842 // 'BX24'
)

// ModifierLinear is the only buffer memory layout this system accepts.
// Vendor tiling modifiers are rejected during negotiation.
const ModifierLinear uint64 = 0

// wl_output mode flags.
const (
	OutputModeCurrent   uint32 = 0x1
	OutputModePreferred uint32 = 0x2
)

// Well-known global interface names.
const (
	OutputInterface     = "wl_output"
	ShmInterface        = "wl_shm"
	DmabufInterface     = "zwp_linux_dmabuf_v1"
	ScreencopyInterface = "zwlr_screencopy_manager_v1"
)

// Global describes one advertised registry global.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// OutputGeometry is the wl_output.geometry event payload.
type OutputGeometry struct {
	X, Y           int32
	PhysicalWidth  int32
	PhysicalHeight int32
	Transform      int32
}

// OutputMode is the wl_output.mode event payload. Refresh is in mHz.
type OutputMode struct {
	Flags   uint32
	Width   int32
	Height  int32
	Refresh int32
}

// ShmFormatEvent advertises one shared-memory candidate layout for a frame
// (zwlr_screencopy_frame.buffer).
type ShmFormatEvent struct {
	Format ShmFormat
	Width  uint32
	Height uint32
	Stride uint32
}

// DmabufFormatEvent advertises one zero-copy candidate for a frame
// (zwlr_screencopy_frame.linux_dmabuf).
type DmabufFormatEvent struct {
	Format Fourcc
	Width  uint32
	Height uint32
}

// Timestamp is the presentation time carried by the frame ready event.
type Timestamp struct {
	Sec  uint64
	Nsec uint32
}

// OutputHandler receives wl_output events. Every callback is tagged with
// the output object the event was delivered for.
type OutputHandler interface {
	HandleGeometry(o Output, ev OutputGeometry)
	HandleMode(o Output, ev OutputMode)
	HandleName(o Output, name string)
	HandleDescription(o Output, description string)
	HandleDone(o Output)
}

// FrameHandler receives zwlr_screencopy_frame events for one capture
// request. BufferDone signals that all candidate formats have been sent.
type FrameHandler interface {
	HandleShmFormat(f Frame, ev ShmFormatEvent)
	HandleDmabufFormat(f Frame, ev DmabufFormatEvent)
	HandleBufferDone(f Frame)
	HandleReady(f Frame, ts Timestamp)
	HandleFailed(f Frame)
}

// Conn is the session's view of an established compositor connection.
//
// Dispatch blocks until at least one batch of inbound events has been
// processed and delivered to the registered handlers. There is no timeout:
// an unresponsive compositor stalls the caller indefinitely.
type Conn interface {
	// Globals returns the registry globals discovered at connection setup.
	Globals() []Global

	// BindOutput binds a wl_output global at the given version and
	// registers h for its events.
	BindOutput(g Global, version uint32, h OutputHandler) (Output, error)

	// Shm returns the wl_shm global. It is always present.
	Shm() Shm

	// Dmabuf returns the linux-dmabuf global if the compositor advertises
	// it. Its absence means zero-copy transport is unavailable.
	Dmabuf() (Dmabuf, bool)

	// CaptureOutput requests a single-frame capture of o and registers h
	// for the frame's events. Events for the new frame are delivered only
	// through later Dispatch or RoundTrip calls, never during this call.
	CaptureOutput(o Output, overlayCursor bool, h FrameHandler) (Frame, error)

	Dispatch() error
	RoundTrip() error
	Close() error
}

// Output is a bound wl_output object.
type Output interface {
	Release()
}

// Frame is one in-flight capture request.
type Frame interface {
	// Copy asks the compositor to copy the captured frame into b.
	// Completion is signaled through HandleReady or HandleFailed.
	Copy(b Buffer)
	Destroy()
}

// Shm creates shared-memory pools from sealed fds.
type Shm interface {
	CreatePool(fd int, size int32) (ShmPool, error)
}

// ShmPool carves buffers out of one shared-memory region.
type ShmPool interface {
	CreateBuffer(offset, width, height, stride int32, format ShmFormat) (Buffer, error)
	Destroy()
}

// Dmabuf builds importable buffers from exported GPU memory.
type Dmabuf interface {
	CreateParams() (BufferParams, error)
}

// BufferParams accumulates per-plane fds for one dmabuf-backed buffer.
type BufferParams interface {
	Add(fd int, planeIdx, offset, stride uint32, modifierHi, modifierLo uint32) error
	// CreateImmed finishes the exchange and returns the buffer without
	// waiting for a server round trip.
	CreateImmed(width, height int32, format Fourcc, flags uint32) (Buffer, error)
	Destroy()
}

// Buffer is a compositor-importable buffer handle. It is owned by exactly
// one local Buffer and must be destroyed exactly once.
type Buffer interface {
	Destroy()
}
