// Package gstglue adapts the capture source to a GStreamer pipeline: it
// derives caps strings from negotiated video layouts and feeds captured
// frames into an appsrc-driven pipeline.
package gstglue

import (
	"fmt"

	"github.com/cmeissl/gst-wlr-screencopy-src/video"
)

// VideoCaps builds the caps string for a negotiated layout. The pixel
// format names match GStreamer's video/x-raw format enumeration. The
// framerate is derived from the output refresh in mHz; zero or negative
// refresh yields 0/1 (variable rate).
//
// Format: "video/x-raw,format=F,width=W,height=H,framerate=N/D"
func VideoCaps(l video.Layout, refreshMHz int32) string {
	num, den := framerateFraction(refreshMHz)
	return fmt.Sprintf(
		"video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		l.Format, l.Width, l.Height, num, den,
	)
}

// framerateFraction reduces refreshMHz/1000 to lowest terms.
func framerateFraction(refreshMHz int32) (int, int) {
	if refreshMHz <= 0 {
		return 0, 1
	}
	num, den := int(refreshMHz), 1000
	g := gcd(num, den)
	return num / g, den / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
