// Package filter holds the CPU implementation of the per-channel separable
// Gaussian blur. It is the numerical ground truth the GPU path is verified
// against, and the arbiter for the separability contract: a horizontal pass
// followed by a vertical pass must match the direct 2-D convolution.
package filter

import (
	"math"
	"sync"
)

// Kernel generates a 1D Gaussian kernel with 2*radius+1 taps for the given
// standard deviation. The kernel is normalized so all weights sum to 1.0,
// which keeps overall image brightness unchanged.
//
// Radius and sigma are independent: radius fixes the tap count, sigma the
// falloff. A tiny sigma concentrates nearly all weight in the center tap; a
// large sigma flattens the kernel toward a box.
//
// For radius <= 0, returns a single-element kernel [1.0] (identity).
func Kernel(radius int, sigma float64) []float32 {
	if radius <= 0 {
		return []float32{1.0}
	}
	if sigma <= 0 {
		// Degenerate sigma behaves as identity regardless of tap count.
		kernel := make([]float32, radius*2+1)
		kernel[radius] = 1.0
		return kernel
	}

	size := radius*2 + 1
	kernel := make([]float32, size)

	// G(x) = exp(-x²/(2σ²)); the 1/(σ√(2π)) constant cancels in the
	// normalization below.
	twoSigmaSq := 2 * sigma * sigma
	sum := float64(0)

	for i := 0; i < size; i++ {
		x := float64(i - radius)
		val := math.Exp(-(x * x) / twoSigmaSq)
		kernel[i] = float32(val)
		sum += val
	}

	if sum > 0 {
		invSum := float32(1.0 / sum)
		for i := range kernel {
			kernel[i] *= invSum
		}
	}

	return kernel
}

// Variance returns the discrete variance of a normalized kernel,
// sum(w_i * x_i²) around the center tap. Wider effective smoothing means
// larger variance, which makes it a usable monotonicity probe.
func Variance(kernel []float32) float64 {
	center := len(kernel) / 2
	v := 0.0
	for i, w := range kernel {
		x := float64(i - center)
		v += float64(w) * x * x
	}
	return v
}

// kernelKey identifies a cached kernel. Sigma is quantized to 0.001 to keep
// float precision out of the map key.
type kernelKey struct {
	radius   int
	sigmaMil int
}

// kernelCache caches computed Gaussian kernels to avoid recomputation when
// the same parameters are applied frame after frame.
type kernelCache struct {
	mu     sync.RWMutex
	cache  map[kernelKey][]float32
	maxLen int
}

var defaultKernelCache = newKernelCache(64)

func newKernelCache(maxLen int) *kernelCache {
	return &kernelCache{
		cache:  make(map[kernelKey][]float32),
		maxLen: maxLen,
	}
}

// get retrieves a kernel from cache or generates and caches it.
func (c *kernelCache) get(radius int, sigma float64) []float32 {
	key := kernelKey{radius: radius, sigmaMil: int(sigma * 1000)}

	c.mu.RLock()
	if kernel, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return kernel
	}
	c.mu.RUnlock()

	kernel := Kernel(radius, sigma)

	c.mu.Lock()
	if len(c.cache) >= c.maxLen {
		// Simple eviction: clear half the cache.
		count := 0
		for k := range c.cache {
			delete(c.cache, k)
			count++
			if count >= c.maxLen/2 {
				break
			}
		}
	}
	c.cache[key] = kernel
	c.mu.Unlock()

	return kernel
}

// CachedKernel returns a cached Gaussian kernel for the radius/sigma pair.
func CachedKernel(radius int, sigma float64) []float32 {
	return defaultKernelCache.get(radius, sigma)
}
