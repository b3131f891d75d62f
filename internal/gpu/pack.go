// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"

// packFrameRGBA converts a captured frame into the tight RGBA layout the
// blur shader reads (one little-endian u32 per pixel, byte order R,G,B,A).
// Three-channel sources get an opaque alpha, BGR sources are swizzled to
// RGB during the copy. Respects the frame's row stride, so callers do not
// need MakeContiguous first. dst must hold width*height*4 bytes.
func packFrameRGBA(frame *chroma.Frame, dst []byte) {
	bgr := frame.Order == chroma.OrderBGR
	ch := frame.Channels
	stride := frame.Stride
	if stride == 0 {
		stride = frame.Width * ch
	}
	di := 0
	for y := 0; y < frame.Height; y++ {
		row := frame.Data[y*stride:]
		for x := 0; x < frame.Width; x++ {
			si := x * ch
			r, g, b := row[si+0], row[si+1], row[si+2]
			if bgr {
				r, b = b, r
			}
			a := uint8(255)
			if ch == 4 {
				a = row[si+3]
			}
			dst[di+0] = r
			dst[di+1] = g
			dst[di+2] = b
			dst[di+3] = a
			di += 4
		}
	}
}
