package video

import "fmt"

// MaxPlanes bounds the per-plane arrays in Layout. The supported formats
// are all single-plane; the plane loops exist so multi-plane layouts slot
// in without touching the buffer fabrication code.
const MaxPlanes = 4

// Alignment expresses downstream stride requirements. A zero Alignment
// imposes none.
type Alignment struct {
	// StrideAlign rounds every plane stride up to the next multiple.
	// Must be a power of two when non-zero.
	StrideAlign uint32
}

func (a Alignment) valid() bool {
	return a.StrideAlign == 0 || a.StrideAlign&(a.StrideAlign-1) == 0
}

// Caps is the negotiable description of a video stream: a pixel format and
// its dimensions, plus the upper bound of the negotiable framerate range.
type Caps struct {
	Format PixelFormat
	Width  uint32
	Height uint32
	// MaxFPS is the framerate-range upper bound in frames per second,
	// derived from the captured output's current mode refresh.
	MaxFPS float64
}

// Layout is the concrete per-plane memory description derived from
// (format, width, height, alignment). It is a pure function of its inputs:
// identical inputs always produce identical strides, offsets and size.
type Layout struct {
	Format PixelFormat
	Width  uint32
	Height uint32
	Stride [MaxPlanes]uint32
	Offset [MaxPlanes]uint64
	Size   uint64
}

// NewLayout computes the layout for the given format and dimensions.
// Requesting an unsupported format, zero dimensions or a non-power-of-two
// alignment is an error.
func NewLayout(f PixelFormat, width, height uint32, align Alignment) (Layout, error) {
	if !f.Supported() {
		return Layout{}, fmt.Errorf("video: unsupported pixel format %d", int(f))
	}
	if width == 0 || height == 0 {
		return Layout{}, fmt.Errorf("video: invalid dimensions %dx%d", width, height)
	}
	if !align.valid() {
		return Layout{}, fmt.Errorf("video: stride alignment %d is not a power of two", align.StrideAlign)
	}

	l := Layout{Format: f, Width: width, Height: height}
	var offset uint64
	for plane := 0; plane < f.Planes(); plane++ {
		stride := width * f.BytesPerPixel()
		if align.StrideAlign > 1 {
			stride = (stride + align.StrideAlign - 1) &^ (align.StrideAlign - 1)
		}
		l.Stride[plane] = stride
		l.Offset[plane] = offset
		offset += uint64(stride) * uint64(height)
	}
	l.Size = offset
	return l, nil
}

// LayoutFromCaps computes the layout described by caps.
func LayoutFromCaps(c Caps, align Alignment) (Layout, error) {
	return NewLayout(c.Format, c.Width, c.Height, align)
}
