package video

import "github.com/cmeissl/gst-wlr-screencopy-src/wlproto"

// PixelFormat is the internal pixel format tag. Exactly eight 32-bit
// four-channel permutations are supported; everything else is rejected
// during negotiation.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatARGB
	FormatXRGB
	FormatABGR
	FormatXBGR
	FormatRGBA
	FormatRGBx
	FormatBGRA
	FormatBGRx
)

// Formats lists every supported pixel format.
func Formats() []PixelFormat {
	return []PixelFormat{
		FormatARGB, FormatXRGB, FormatABGR, FormatXBGR,
		FormatRGBA, FormatRGBx, FormatBGRA, FormatBGRx,
	}
}

// String returns the caps name of the format, matching GStreamer's
// video/x-raw format vocabulary.
func (f PixelFormat) String() string {
	switch f {
	case FormatARGB:
		return "ARGB"
	case FormatXRGB:
		return "xRGB"
	case FormatABGR:
		return "ABGR"
	case FormatXBGR:
		return "xBGR"
	case FormatRGBA:
		return "RGBA"
	case FormatRGBx:
		return "RGBx"
	case FormatBGRA:
		return "BGRA"
	case FormatBGRx:
		return "BGRx"
	default:
		return "unknown"
	}
}

// ParseFormat resolves a caps format name back to a PixelFormat.
func ParseFormat(name string) (PixelFormat, bool) {
	for _, f := range Formats() {
		if f.String() == name {
			return f, true
		}
	}
	return FormatUnknown, false
}

// BytesPerPixel is 4 for every supported format.
func (f PixelFormat) BytesPerPixel() uint32 { return 4 }

// Planes is 1 for every supported format.
func (f PixelFormat) Planes() int { return 1 }

// Supported reports whether f is one of the eight supported permutations.
func (f PixelFormat) Supported() bool {
	return f > FormatUnknown && f <= FormatBGRx
}

// The wl_shm mapping crosses byte order: wl_shm codes name bytes in memory
// order while the internal tag names channels in word order.
var shmToFormat = map[wlproto.ShmFormat]PixelFormat{
	wlproto.ShmFormatAbgr8888: FormatRGBA,
	wlproto.ShmFormatArgb8888: FormatBGRA,
	wlproto.ShmFormatBgra8888: FormatARGB,
	wlproto.ShmFormatBgrx8888: FormatXRGB,
	wlproto.ShmFormatRgba8888: FormatABGR,
	wlproto.ShmFormatRgbx8888: FormatXBGR,
	wlproto.ShmFormatXbgr8888: FormatRGBx,
	wlproto.ShmFormatXrgb8888: FormatBGRx,
}

var formatToShm = map[PixelFormat]wlproto.ShmFormat{
	FormatABGR: wlproto.ShmFormatRgba8888,
	FormatARGB: wlproto.ShmFormatBgra8888,
	FormatBGRA: wlproto.ShmFormatArgb8888,
	FormatBGRx: wlproto.ShmFormatXrgb8888,
	FormatRGBA: wlproto.ShmFormatAbgr8888,
	FormatRGBx: wlproto.ShmFormatXbgr8888,
	FormatXBGR: wlproto.ShmFormatRgbx8888,
	FormatXRGB: wlproto.ShmFormatBgrx8888,
}

var fourccToFormat = map[wlproto.Fourcc]PixelFormat{
	wlproto.FourccAbgr8888: FormatABGR,
	wlproto.FourccArgb8888: FormatARGB,
	wlproto.FourccBgra8888: FormatBGRA,
	wlproto.FourccBgrx8888: FormatBGRx,
	wlproto.FourccRgba8888: FormatRGBA,
	wlproto.FourccRgbx8888: FormatRGBx,
	wlproto.FourccXbgr8888: FormatXBGR,
	wlproto.FourccXrgb8888: FormatXRGB,
}

var formatToFourcc = map[PixelFormat]wlproto.Fourcc{
	FormatABGR: wlproto.FourccAbgr8888,
	FormatARGB: wlproto.FourccArgb8888,
	FormatBGRA: wlproto.FourccBgra8888,
	FormatBGRx: wlproto.FourccBgrx8888,
	FormatRGBA: wlproto.FourccRgba8888,
	FormatRGBx: wlproto.FourccRgbx8888,
	FormatXBGR: wlproto.FourccXbgr8888,
	FormatXRGB: wlproto.FourccXrgb8888,
}

// FormatFromShm maps a wl_shm code to the internal tag. Unknown codes
// yield (FormatUnknown, false) so callers can skip unsupported entries
// instead of failing the capture.
func FormatFromShm(code wlproto.ShmFormat) (PixelFormat, bool) {
	f, ok := shmToFormat[code]
	return f, ok
}

// FormatToShm maps the internal tag to its wl_shm code.
func FormatToShm(f PixelFormat) (wlproto.ShmFormat, bool) {
	c, ok := formatToShm[f]
	return c, ok
}

// FormatFromFourcc maps a DRM fourcc to the internal tag.
func FormatFromFourcc(code wlproto.Fourcc) (PixelFormat, bool) {
	f, ok := fourccToFormat[code]
	return f, ok
}

// FormatToFourcc maps the internal tag to its DRM fourcc.
func FormatToFourcc(f PixelFormat) (wlproto.Fourcc, bool) {
	c, ok := formatToFourcc[f]
	return c, ok
}
