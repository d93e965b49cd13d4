// Package wlrscreencopy provides screen capture from wlroots compositors
// via the wlr-screencopy protocol.
//
// It negotiates capture formats per frame, fabricates compositor-importable
// buffers from sealed shared memory or GPU-shareable dmabuf memory, and
// delivers raw frames with trace metadata. The compositor transport
// (socket setup, wire codec, dispatch) is supplied by the caller through
// the wlproto.Conn port.
//
// # Quick Start
//
// Capture frames from the first available output:
//
//	src, err := wlrscreencopy.New(wlrscreencopy.Config{
//	    Conn: conn, // a wlproto.Conn from your transport
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	caps, err := src.QueryCaps()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := src.Configure(caps[0].Format, 2, 4); err != nil {
//	    log.Fatal(err)
//	}
//
//	for {
//	    frame, err := src.CaptureFrame()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    processFrame(frame)
//	    frame.Release()
//	}
//
// # Capture Model
//
// The compositor advertises candidate formats per frame, not per session.
// The source keeps exactly one frame request in flight: after a frame
// completes (or fails), the next request is armed immediately so format
// candidates for the following frame are already accumulating while the
// caller processes the current one.
//
// A compositor-side failure surfaces as capture.ErrCaptureFailed from
// CaptureFrame; the source stays valid and the next capture proceeds
// normally.
//
// # Memory Backends
//
// Buffer memory is selected per configuration:
//
//   - dma-heap: kernel DMA heap allocation, preferred for zero-copy
//   - drm-dumb: linear GPU dumb buffer exported via PRIME
//   - memfd: sealed anonymous shared memory, the universal fallback
//
// Zero-copy backends are used only when the negotiated format is among the
// frame's zero-copy candidates and the compositor supports dmabuf import.
// Everything else goes through sealed shared memory.
//
// # Frame Format
//
// All supported formats are 32-bit single-plane RGB permutations (ARGB,
// xRGB, ABGR, xBGR, RGBA, RGBx, BGRA, BGRx). Shared-memory frames carry
// an owned pixel copy in Frame.Data; zero-copy frames expose the dmabuf
// fd in Frame.DmabufFD and must be released with Frame.Release when the
// consumer is done with the fd.
//
// # Output Selection
//
// Outputs are discovered at construction and selectable by name:
//
//	for _, o := range src.Outputs() {
//	    fmt.Printf("%s: %dx%d@%dmHz\n", o.Name, o.Mode.Width, o.Mode.Height, o.Mode.Refresh)
//	}
//	src.SetOutput("DP-1")
//
// Compositors must implement wl_output version 4 (name and description
// events); older compositors fail construction.
//
// # Thread Safety
//
// CaptureFrame drives a blocking dispatch loop and must be called from a
// single goroutine. SetOutput and Stats are safe from any goroutine.
//
// # Limitations
//
//   - Linear buffer layout only (no vendor tiling modifiers)
//   - Single output per capture request (no multi-output composition)
//   - No damage tracking; every frame is a full copy
//   - Video only
package wlrscreencopy
