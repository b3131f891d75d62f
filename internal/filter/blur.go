package filter

import (
	"sync"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
)

// Separable applies the per-channel Gaussian blur to an interleaved pixel
// buffer using the two-pass separable algorithm: every color channel is
// convolved horizontally into a float32 scratch plane, then vertically into
// the output. Complexity is O(w*h*(rx+ry)) per channel instead of
// O(w*h*rx*ry) for the direct form.
//
// Channel c of params applies to semantic color channel c (0=R, 1=G, 2=B);
// a fourth interleaved channel (alpha) is copied through untouched. Edges
// use clamp-to-edge addressing. A channel with radius 0 is copied verbatim.
//
// The input buffer is never modified.
func Separable(data []byte, width, height, channels int, params chroma.BlurParameters) []byte {
	out := make([]byte, len(data))

	temp := getTempBuffer(width, height)
	defer putTempBuffer(temp)

	for c := 0; c < channels; c++ {
		if c >= 3 || params.Radius[c] <= 0 {
			copyChannel(data, out, width, height, channels, c)
			continue
		}
		kernel := CachedKernel(params.Radius[c], params.Sigma[c])
		blurChannelHorizontal(data, temp, width, height, channels, c, kernel)
		blurChannelVertical(temp, out, width, height, channels, c, kernel)
	}

	return out
}

// Direct2D applies the same per-channel Gaussian blur with a full 2-D
// kernel (the outer product of the 1-D kernel with itself). Quadratic in
// the radius, so only useful as a reference for verifying the separable
// path.
func Direct2D(data []byte, width, height, channels int, params chroma.BlurParameters) []byte {
	out := make([]byte, len(data))

	for c := 0; c < channels; c++ {
		if c >= 3 || params.Radius[c] <= 0 {
			copyChannel(data, out, width, height, channels, c)
			continue
		}
		kernel := CachedKernel(params.Radius[c], params.Sigma[c])
		radius := params.Radius[c]

		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				var acc float32
				for ky := -radius; ky <= radius; ky++ {
					sy := clampIndex(y+ky, height)
					wy := kernel[ky+radius]
					for kx := -radius; kx <= radius; kx++ {
						sx := clampIndex(x+kx, width)
						wx := kernel[kx+radius]
						acc += float32(data[(sy*width+sx)*channels+c]) * wy * wx
					}
				}
				out[(y*width+x)*channels+c] = clampUint8(acc)
			}
		}
	}

	return out
}

// blurChannelHorizontal convolves one channel along rows into temp.
func blurChannelHorizontal(src []byte, temp []float32, width, height, channels, c int, kernel []float32) {
	radius := len(kernel) / 2
	for y := 0; y < height; y++ {
		row := y * width
		for x := 0; x < width; x++ {
			var acc float32
			for k := range kernel {
				sx := clampIndex(x+k-radius, width)
				acc += float32(src[(row+sx)*channels+c]) * kernel[k]
			}
			temp[row+x] = acc
		}
	}
}

// blurChannelVertical convolves the temp plane along columns into dst.
func blurChannelVertical(temp []float32, dst []byte, width, height, channels, c int, kernel []float32) {
	radius := len(kernel) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var acc float32
			for k := range kernel {
				sy := clampIndex(y+k-radius, height)
				acc += temp[sy*width+x] * kernel[k]
			}
			dst[(y*width+x)*channels+c] = clampUint8(acc)
		}
	}
}

// copyChannel copies one interleaved channel from src to dst unchanged.
func copyChannel(src, dst []byte, width, height, channels, c int) {
	n := width * height
	for i := 0; i < n; i++ {
		dst[i*channels+c] = src[i*channels+c]
	}
}

// floatBuffer wraps a slice for sync.Pool to avoid allocation warnings.
type floatBuffer struct {
	data []float32
}

// Scratch plane pool for the horizontal pass. One float32 per pixel; the
// same plane is reused for every channel.
var tempBufferPool = sync.Pool{
	New: func() interface{} {
		return &floatBuffer{data: make([]float32, 1920*1080)}
	},
}

// getTempBuffer retrieves a scratch plane with at least width*height elements.
func getTempBuffer(width, height int) []float32 {
	size := width * height
	wrapper := tempBufferPool.Get().(*floatBuffer)

	if len(wrapper.data) < size {
		tempBufferPool.Put(wrapper)
		return make([]float32, size)
	}
	return wrapper.data[:size]
}

// putTempBuffer returns a scratch plane to the pool.
func putTempBuffer(buf []float32) {
	if cap(buf) <= 16*1024*1024 {
		tempBufferPool.Put(&floatBuffer{data: buf[:cap(buf)]})
	}
}

// clampIndex clamps a coordinate to [0, n) (clamp-to-edge addressing).
func clampIndex(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// clampUint8 clamps a float32 to [0, 255] and rounds to nearest.
func clampUint8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
