// Package sink presents processed frames. The Offscreen sink renders into
// an in-memory RGBA surface for verification runs and headless demos; a
// window-backed overlay sink plugs into the same pipeline contract.
package sink

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
)

// ErrClosed is returned by Present after RequestClose.
var ErrClosed = errors.New("sink: closed")

// Offscreen renders processed frames into an in-memory RGBA surface.
// Frames whose dimensions differ from the surface are scaled during
// Present, so the capture resolution never has to match the overlay size.
type Offscreen struct {
	mu       sync.Mutex
	surface  *image.RGBA
	fixed    bool
	closed   atomic.Bool
	presents uint64
}

// NewOffscreen returns a sink whose surface tracks the negotiated frame
// size: Resize reallocates the surface.
func NewOffscreen(width, height int) (*Offscreen, error) {
	return newOffscreen(width, height, false)
}

// NewFixedOffscreen returns a sink with a pinned surface size, the overlay
// configuration's logical size. Resize is accepted but the surface keeps
// its dimensions; Present scales content to fit.
func NewFixedOffscreen(width, height int) (*Offscreen, error) {
	return newOffscreen(width, height, true)
}

func newOffscreen(width, height int, fixed bool) (*Offscreen, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("sink: bad surface size %dx%d", width, height)
	}
	return &Offscreen{
		surface: image.NewRGBA(image.Rect(0, 0, width, height)),
		fixed:   fixed,
	}, nil
}

// SurfaceSize returns the current logical surface dimensions.
func (o *Offscreen) SurfaceSize() (width, height int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b := o.surface.Bounds()
	return b.Dx(), b.Dy()
}

// Resize adapts the surface to the negotiated frame size. Fixed sinks keep
// their surface and rely on Present-time scaling.
func (o *Offscreen) Resize(width, height int) error {
	if width < 1 || height < 1 {
		return fmt.Errorf("sink: bad resize to %dx%d", width, height)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fixed {
		return nil
	}
	b := o.surface.Bounds()
	if b.Dx() != width || b.Dy() != height {
		o.surface = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	return nil
}

// PollEvents is a no-op; an offscreen surface has no event queue.
func (o *Offscreen) PollEvents() {}

// Present reads the handle's pixels back and draws them onto the surface,
// scaling when the sizes differ.
func (o *Offscreen) Present(handle chroma.OutputHandle) error {
	if o.closed.Load() {
		return ErrClosed
	}
	pixels, err := handle.Pixels()
	if err != nil {
		return fmt.Errorf("sink: read handle pixels: %w", err)
	}
	w, h := handle.Size()
	src := &image.RGBA{Pix: pixels, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}

	o.mu.Lock()
	defer o.mu.Unlock()
	dst := o.surface.Bounds()
	if dst.Dx() == w && dst.Dy() == h {
		xdraw.Draw(o.surface, dst, src, image.Point{}, xdraw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(o.surface, dst, src, src.Bounds(), xdraw.Src, nil)
	}
	o.presents++
	return nil
}

// ShouldClose reports whether RequestClose was called.
func (o *Offscreen) ShouldClose() bool { return o.closed.Load() }

// RequestClose asks the pipeline to stop at the next iteration.
func (o *Offscreen) RequestClose() { o.closed.Store(true) }

// Presents returns the number of frames drawn so far.
func (o *Offscreen) Presents() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.presents
}

// Snapshot returns a copy of the current surface contents.
func (o *Offscreen) Snapshot() *image.RGBA {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := image.NewRGBA(o.surface.Bounds())
	copy(out.Pix, o.surface.Pix)
	return out
}
