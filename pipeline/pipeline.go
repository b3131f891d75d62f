// Package pipeline drives captured frames through the blur processor and
// into a presentation sink.
//
// The controller owns a small state machine: it waits for the first frame,
// negotiates the pixel format from it exactly once, then runs a paced
// single-threaded loop until the context is cancelled or the sink asks to
// close. Per-frame problems (channel drift, processor errors, present
// failures) are logged and dropped; only startup problems are fatal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
	"github.com/PhilipJohnsen/eyetracked-chromatic-filtering/capture"
)

// Controller errors.
var (
	ErrNilSource      = errors.New("pipeline: nil capture source")
	ErrNilSink        = errors.New("pipeline: nil sink")
	ErrNilFactory     = errors.New("pipeline: nil processor factory")
	ErrBadTargetFPS   = errors.New("pipeline: target fps must be at least 1")
	ErrBadFirstFrame  = errors.New("pipeline: first frame failed validation")
	ErrAlreadyRunning = errors.New("pipeline: already running")
)

// State tracks the controller lifecycle.
type State uint32

const (
	StateUninitialized State = iota
	StateAwaitingFirstFrame
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingFirstFrame:
		return "awaiting-first-frame"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// Processor blurs one frame at a time. The handle returned by Process stays
// valid until the next Process call.
type Processor interface {
	Process(*chroma.Frame) (chroma.OutputHandle, error)
	SetParameters(chroma.BlurParameters) error
	Teardown()
}

// ProcessorFactory builds the processor once the frame format is known.
// Construction happens lazily at first-frame negotiation, so the GPU
// surface set can be sized to the real capture dimensions.
type ProcessorFactory func(width, height int, format chroma.PixelFormat) (Processor, error)

// Sink presents processed frames. PollEvents and ShouldClose are called
// every iteration; Present failures are best-effort.
type Sink interface {
	SurfaceSize() (width, height int)
	Resize(width, height int) error
	PollEvents()
	Present(chroma.OutputHandle) error
	ShouldClose() bool
}

// Config carries the controller knobs.
type Config struct {
	// TargetFPS caps the presentation rate. Must be at least 1.
	TargetFPS int

	// Parameters are installed on the processor right after negotiation.
	Parameters chroma.BlurParameters

	// Exclusion, when set, feeds the overlay's capture-exclusion status
	// into the periodic telemetry line.
	Exclusion *chroma.ExclusionManager

	// MaxFrames stops the loop after that many presented frames. Zero
	// means run until cancelled; useful for bounded verification runs.
	MaxFrames int
}

// Stats is a snapshot of the controller counters.
type Stats struct {
	Presented uint64
	Dropped   uint64
}

// Controller runs the capture → blur → present loop.
type Controller struct {
	cfg     Config
	source  capture.Source
	sink    Sink
	factory ProcessorFactory

	state atomic.Uint32

	processor Processor
	format    chroma.PixelFormat
	width     int
	height    int

	presented atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
}

// New validates the wiring and returns an idle controller.
func New(source capture.Source, sink Sink, factory ProcessorFactory, cfg Config) (*Controller, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	if cfg.TargetFPS < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrBadTargetFPS, cfg.TargetFPS)
	}
	if err := cfg.Parameters.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, source: source, sink: sink, factory: factory}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Stats returns the presented/dropped counters.
func (c *Controller) Stats() Stats {
	return Stats{Presented: c.presented.Load(), Dropped: c.dropped.Load()}
}

// Run executes the frame loop until ctx is cancelled, the sink requests
// close, or MaxFrames is reached. Cancellation is cooperative: it is
// observed at the top of each iteration, never mid-flight. Returns nil on a
// clean stop and an error only for fatal startup failures.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.shutdown()

	c.state.Store(uint32(StateAwaitingFirstFrame))
	log := chroma.Logger()
	log.Info("pipeline: started", "target_fps", c.cfg.TargetFPS)

	interval := time.Second / time.Duration(c.cfg.TargetFPS)
	// Bounded sleep while the source has nothing; short enough to keep
	// first-frame latency low at any target rate.
	idle := interval / 4
	if idle <= 0 {
		idle = time.Millisecond
	}

	lastReport := time.Now()
	var reportedPresented, reportedDropped uint64

	for {
		if ctx.Err() != nil {
			log.Info("pipeline: context cancelled")
			return nil
		}
		c.sink.PollEvents()
		if c.sink.ShouldClose() {
			log.Info("pipeline: sink requested close")
			return nil
		}

		start := time.Now()
		frame := c.source.TryGetFrame()
		if frame == nil {
			time.Sleep(idle)
			continue
		}

		if c.State() == StateAwaitingFirstFrame {
			if err := c.negotiate(frame); err != nil {
				return err
			}
		}

		if ok := c.admit(frame, log); ok {
			c.processAndPresent(frame, log)
		}

		if c.cfg.MaxFrames > 0 && c.presented.Load() >= uint64(c.cfg.MaxFrames) {
			log.Info("pipeline: frame budget reached", "frames", c.presented.Load())
			return nil
		}

		if elapsed := time.Since(start); elapsed < interval {
			time.Sleep(interval - elapsed)
		}

		if now := time.Now(); now.Sub(lastReport) >= time.Second {
			presented, dropped := c.presented.Load(), c.dropped.Load()
			attrs := []any{
				"fps", float64(presented-reportedPresented) / now.Sub(lastReport).Seconds(),
				"presented", presented,
				"dropped", dropped - reportedDropped,
			}
			if c.cfg.Exclusion != nil {
				st := c.cfg.Exclusion.Status()
				attrs = append(attrs, "exclusion_attempted", st.Attempted, "exclusion_succeeded", st.Succeeded)
			}
			log.Info("pipeline: throughput", attrs...)
			lastReport = now
			reportedPresented, reportedDropped = presented, dropped
		}
	}
}

// negotiate fixes the pixel format from the first frame, sizes the sink,
// and constructs the processor. Any failure here is fatal startup.
func (c *Controller) negotiate(frame *chroma.Frame) error {
	log := chroma.Logger()
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadFirstFrame, err)
	}

	c.format = frame.Format()
	c.width, c.height = frame.Width, frame.Height

	if err := c.sink.Resize(c.width, c.height); err != nil {
		return fmt.Errorf("pipeline: sink resize to %dx%d: %w", c.width, c.height, err)
	}
	processor, err := c.factory(c.width, c.height, c.format)
	if err != nil {
		return fmt.Errorf("pipeline: construct processor: %w", err)
	}
	if err := processor.SetParameters(c.cfg.Parameters); err != nil {
		processor.Teardown()
		return fmt.Errorf("pipeline: install parameters: %w", err)
	}

	c.processor = processor
	c.state.Store(uint32(StateRunning))
	log.Info("pipeline: format negotiated",
		"width", c.width, "height", c.height, "format", c.format.String())
	return nil
}

// admit checks a frame against the negotiated format. A mismatch is a
// recoverable per-frame drop, the loop stays in Running.
func (c *Controller) admit(frame *chroma.Frame, log *slog.Logger) bool {
	if frame.Width != c.width || frame.Height != c.height ||
		frame.Channels != c.format.Channels {
		c.dropped.Add(1)
		log.Warn("pipeline: frame mismatches negotiated format, dropped",
			"got", frame.Format().String(), "want", c.format.String(),
			"trace_id", frame.TraceID)
		return false
	}
	return true
}

func (c *Controller) processAndPresent(frame *chroma.Frame, log *slog.Logger) {
	if !frame.Contiguous() {
		frame = frame.MakeContiguous()
	}

	handle, err := c.processor.Process(frame)
	if err != nil {
		c.dropped.Add(1)
		log.Warn("pipeline: process failed, frame dropped",
			"err", err, "trace_id", frame.TraceID)
		return
	}
	if err := c.sink.Present(handle); err != nil {
		// Best-effort: the frame was processed, only presentation lapsed.
		log.Warn("pipeline: present failed", "err", err, "trace_id", frame.TraceID)
		return
	}
	c.presented.Add(1)
}

// shutdown releases the current processor exactly once and parks the state
// machine. Clearing the field keeps a later Run from tearing the same
// processor down twice, while a rerun that negotiates a fresh processor
// still gets it released here.
func (c *Controller) shutdown() {
	c.state.Store(uint32(StateShuttingDown))
	if c.processor != nil {
		c.processor.Teardown()
		c.processor = nil
	}
	chroma.Logger().Info("pipeline: stopped",
		"presented", c.presented.Load(), "dropped", c.dropped.Load())
}
