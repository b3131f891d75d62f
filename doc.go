// Package chroma implements a real-time desktop blur overlay: frames from a
// capture source are run through a GPU two-pass separable Gaussian blur with
// independently tunable per-channel radius and sigma, and the result is
// handed to a presentation sink.
//
// The root package holds the shared value types (Frame, PixelFormat,
// BlurParameters), the self-exclusion manager that keeps the overlay surface
// out of its own capture, and the logging configuration. The moving parts
// live in sub-packages:
//
//   - capture:  the frame source contract and a latest-frame hand-off slot
//   - pipeline: the per-frame controller (negotiation, pacing, telemetry)
//   - config:   the typed settings file loader
//   - sink:     presentation targets for processed frames
//
// GPU work is done in internal/gpu on top of wgpu's HAL; internal/filter
// carries the CPU reference implementation of the same convolution.
package chroma
