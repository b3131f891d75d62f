package chroma

import (
	"errors"
	"fmt"
	"time"
)

// Frame validation errors.
var (
	// ErrEmptyFrame is returned when a frame carries no pixel data.
	ErrEmptyFrame = errors.New("chroma: frame has no pixel data")

	// ErrBadDimensions is returned when a frame's width or height is not positive.
	ErrBadDimensions = errors.New("chroma: frame dimensions must be positive")

	// ErrBadChannelCount is returned when a frame is neither 3- nor 4-channel.
	ErrBadChannelCount = errors.New("chroma: frame must have 3 or 4 channels")

	// ErrShortFrame is returned when the pixel buffer is smaller than the
	// dimensions imply.
	ErrShortFrame = errors.New("chroma: frame data shorter than dimensions imply")
)

// ChannelOrder identifies the byte order of color channels within a pixel.
type ChannelOrder uint8

const (
	// OrderRGB stores channels as red, green, blue (alpha last when present).
	OrderRGB ChannelOrder = iota

	// OrderBGR stores channels as blue, green, red (alpha last when present).
	OrderBGR
)

// String returns the lowercase name of the channel order.
func (o ChannelOrder) String() string {
	if o == OrderBGR {
		return "bgr"
	}
	return "rgb"
}

// PixelFormat describes the pixel layout a pipeline has negotiated.
// It is derived once from the first captured frame and fixed for the
// lifetime of the pipeline.
type PixelFormat struct {
	// Channels is the number of interleaved channels per pixel (3 or 4).
	Channels int

	// Order is the color channel byte order.
	Order ChannelOrder
}

// String formats the pixel format as e.g. "rgb/3" or "bgr/4".
func (f PixelFormat) String() string {
	return fmt.Sprintf("%s/%d", f.Order, f.Channels)
}

// Frame is a single captured image. A frame is immutable once published:
// producers hand ownership to the consumer and never touch the buffer again.
type Frame struct {
	// Data holds interleaved pixel bytes, row-major, top-left origin.
	Data []byte

	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int

	// Channels is the number of bytes per pixel (3 or 4).
	Channels int

	// Order is the color channel byte order within each pixel.
	Order ChannelOrder

	// Stride is the number of bytes per row. Zero means tightly packed
	// (Width * Channels).
	Stride int

	// Timestamp records when the frame was acquired.
	Timestamp time.Time

	// TraceID correlates a frame across capture, processing, and telemetry.
	TraceID string
}

// Format returns the frame's pixel format.
func (f *Frame) Format() PixelFormat {
	return PixelFormat{Channels: f.Channels, Order: f.Order}
}

// Validate checks the frame's shape. It returns a nil error only when the
// frame can be safely processed.
func (f *Frame) Validate() error {
	if len(f.Data) == 0 {
		return ErrEmptyFrame
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadDimensions, f.Width, f.Height)
	}
	if f.Channels != 3 && f.Channels != 4 {
		return fmt.Errorf("%w: got %d", ErrBadChannelCount, f.Channels)
	}
	stride := f.Stride
	if stride == 0 {
		stride = f.Width * f.Channels
	}
	if len(f.Data) < stride*(f.Height-1)+f.Width*f.Channels {
		return fmt.Errorf("%w: have %d bytes", ErrShortFrame, len(f.Data))
	}
	return nil
}

// Contiguous reports whether the pixel rows are tightly packed with no
// per-row padding.
func (f *Frame) Contiguous() bool {
	return f.Stride == 0 || f.Stride == f.Width*f.Channels
}

// MakeContiguous returns a frame whose rows are tightly packed. When the
// frame is already contiguous it is returned unchanged; otherwise the rows
// are copied into a fresh buffer. The original frame is never modified.
func (f *Frame) MakeContiguous() *Frame {
	if f.Contiguous() {
		return f
	}
	rowBytes := f.Width * f.Channels
	packed := make([]byte, rowBytes*f.Height)
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*f.Stride : y*f.Stride+rowBytes]
		copy(packed[y*rowBytes:], src)
	}
	out := *f
	out.Data = packed
	out.Stride = 0
	return &out
}
