//go:build !windows

package chroma

// excludeSurfaceFromCapture reports failure on platforms without a
// display-affinity mechanism; the capture layer must skip the overlay
// surface itself.
func excludeSurfaceFromCapture(SurfaceHandle) bool {
	return false
}
