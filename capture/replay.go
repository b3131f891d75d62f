package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
)

// Replay errors.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("capture: replay source already started")

	// ErrBadReplaySize is returned when the requested decode size is invalid.
	ErrBadReplaySize = errors.New("capture: replay dimensions must be positive")
)

// ReplaySource decodes a video file into RGB frames and publishes them to a
// LatestSlot at the configured rate, standing in for a live desktop capture
// backend during development and tests.
//
// The decoder runs in a background goroutine scoped to the context passed to
// Start; the pipeline consumes through TryGetFrame like any other Source.
type ReplaySource struct {
	path   string
	width  int
	height int
	cfg    Config

	slot *LatestSlot

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

var _ Source = (*ReplaySource)(nil)

// NewReplaySource creates a replay source that decodes path at width x height.
func NewReplaySource(path string, width, height int, cfg Config) (*ReplaySource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadReplaySize, width, height)
	}
	return &ReplaySource{
		path:   path,
		width:  width,
		height: height,
		cfg:    cfg,
		slot:   NewLatestSlot(),
	}, nil
}

// Start launches the decode goroutine. The source stops when ctx is
// cancelled, Stop is called, or the file is exhausted.
func (r *ReplaySource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	r.started = true
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		err := r.decodeLoop(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.mu.Lock()
			r.runErr = err
			r.mu.Unlock()
			chroma.Logger().Warn("replay decode stopped", "path", r.path, "error", err)
		}
	}()
	return nil
}

// Stop cancels the decode goroutine and waits for it to exit. Safe to call
// more than once and before Start.
func (r *ReplaySource) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Err returns the terminal decode error, if any. Valid after Stop or after
// the source drains the file.
func (r *ReplaySource) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// TryGetFrame returns the newest decoded frame, or nil when none is pending.
func (r *ReplaySource) TryGetFrame() *chroma.Frame {
	return r.slot.Take()
}

// Stats reports slot publish/drop counters.
func (r *ReplaySource) Stats() Stats {
	return r.slot.Stats()
}

// decodeLoop pipes raw rgb24 video out of ffmpeg and publishes one frame
// per tick until the stream ends or the context is cancelled.
func (r *ReplaySource) decodeLoop(ctx context.Context) error {
	pr, pw := io.Pipe()

	pixFmt := "rgb24"
	if r.cfg.Order == chroma.OrderBGR {
		pixFmt = "bgr24"
	}
	outArgs := ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": pixFmt,
		"s":       fmt.Sprintf("%dx%d", r.width, r.height),
	}
	if r.cfg.TargetFPS > 0 {
		outArgs["r"] = strconv.Itoa(r.cfg.TargetFPS)
	}

	cmd := ffmpeg.Input(r.path).
		Output("pipe:1", outArgs).
		WithOutput(pw)
	cmd.Context = ctx

	go func() {
		err := cmd.Run()
		// Close the read side with the decode error so the frame loop
		// terminates instead of blocking on a dead pipe.
		pw.CloseWithError(err)
	}()

	interval := time.Duration(0)
	if r.cfg.TargetFPS > 0 {
		interval = time.Second / time.Duration(r.cfg.TargetFPS)
	}

	frameBytes := r.width * r.height * 3
	next := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(pr, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		r.slot.Publish(&chroma.Frame{
			Data:      buf,
			Width:     r.width,
			Height:    r.height,
			Channels:  3,
			Order:     r.cfg.Order,
			Timestamp: time.Now(),
			TraceID:   uuid.NewString(),
		})

		if interval > 0 {
			next = next.Add(interval)
			if d := time.Until(next); d > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d):
				}
			} else {
				next = time.Now()
			}
		}
	}
}
