package chroma

import "errors"

// ErrStaleHandle is returned when pixels are requested from an output handle
// after a newer frame has been processed.
var ErrStaleHandle = errors.New("chroma: output handle superseded by a newer frame")

// OutputHandle refers to the processed result of a single frame. The blur
// engine retains ownership of the underlying GPU resources; a handle stays
// valid only until the engine processes the next frame.
type OutputHandle interface {
	// Size returns the output dimensions in pixels.
	Size() (width, height int)

	// Pixels reads the processed image back from the device as tightly
	// packed RGBA bytes. Readback stalls the GPU and is meant for
	// verification and offscreen presentation, not the steady-state path.
	// Returns ErrStaleHandle when a newer frame has been processed.
	Pixels() ([]byte, error)
}
