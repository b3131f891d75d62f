package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
)

type fakeSource struct {
	frames []*chroma.Frame
}

func (s *fakeSource) TryGetFrame() *chroma.Frame {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f
}

type fakeHandle struct {
	width  int
	height int
}

func (h *fakeHandle) Size() (int, int)        { return h.width, h.height }
func (h *fakeHandle) Pixels() ([]byte, error) { return nil, nil }

type fakeProcessor struct {
	processed []*chroma.Frame
	params    chroma.BlurParameters
	paramSets int
	teardowns int
	failNext  int // fail this many Process calls before succeeding
	failErr   error
}

func (p *fakeProcessor) Process(f *chroma.Frame) (chroma.OutputHandle, error) {
	if p.failNext > 0 {
		p.failNext--
		return nil, p.failErr
	}
	p.processed = append(p.processed, f)
	return &fakeHandle{width: f.Width, height: f.Height}, nil
}

func (p *fakeProcessor) SetParameters(params chroma.BlurParameters) error {
	p.params = params
	p.paramSets++
	return nil
}

func (p *fakeProcessor) Teardown() { p.teardowns++ }

type fakeSink struct {
	width     int
	height    int
	resizes   int
	presents  int
	polls     int
	closeNow  bool
	resizeErr error
}

func (s *fakeSink) SurfaceSize() (int, int) { return s.width, s.height }

func (s *fakeSink) Resize(w, h int) error {
	if s.resizeErr != nil {
		return s.resizeErr
	}
	s.width, s.height = w, h
	s.resizes++
	return nil
}

func (s *fakeSink) PollEvents() { s.polls++ }

func (s *fakeSink) Present(chroma.OutputHandle) error {
	s.presents++
	return nil
}

func (s *fakeSink) ShouldClose() bool { return s.closeNow }

func testFrame(width, height, channels int) *chroma.Frame {
	return &chroma.Frame{
		Data:     make([]byte, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
		Order:    chroma.OrderRGB,
	}
}

func newController(t *testing.T, source *fakeSource, sink *fakeSink, proc *fakeProcessor, cfg Config) (*Controller, *[]factoryCall) {
	t.Helper()
	var calls []factoryCall
	factory := func(w, h int, format chroma.PixelFormat) (Processor, error) {
		calls = append(calls, factoryCall{w, h, format})
		return proc, nil
	}
	c, err := New(source, sink, factory, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c, &calls
}

type factoryCall struct {
	width  int
	height int
	format chroma.PixelFormat
}

func TestNewRejectsBadWiring(t *testing.T) {
	sink := &fakeSink{}
	factory := func(int, int, chroma.PixelFormat) (Processor, error) { return &fakeProcessor{}, nil }
	cfg := Config{TargetFPS: 60, Parameters: chroma.DefaultBlurParameters()}

	if _, err := New(nil, sink, factory, cfg); !errors.Is(err, ErrNilSource) {
		t.Errorf("New(nil source) error = %v, want ErrNilSource", err)
	}
	if _, err := New(&fakeSource{}, nil, factory, cfg); !errors.Is(err, ErrNilSink) {
		t.Errorf("New(nil sink) error = %v, want ErrNilSink", err)
	}
	if _, err := New(&fakeSource{}, sink, nil, cfg); !errors.Is(err, ErrNilFactory) {
		t.Errorf("New(nil factory) error = %v, want ErrNilFactory", err)
	}
	cfg.TargetFPS = 0
	if _, err := New(&fakeSource{}, sink, factory, cfg); !errors.Is(err, ErrBadTargetFPS) {
		t.Errorf("New(fps 0) error = %v, want ErrBadTargetFPS", err)
	}
}

func TestFirstFrameNegotiation(t *testing.T) {
	source := &fakeSource{frames: []*chroma.Frame{testFrame(1920, 1080, 3)}}
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	params := chroma.BlurParameters{Radius: [3]int{0, 2, 6}, Sigma: [3]float64{0.001, 1.0, 3.0}}
	c, calls := newController(t, source, sink, proc, Config{
		TargetFPS: 240, Parameters: params, MaxFrames: 1,
	})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(*calls) != 1 {
		t.Fatalf("factory calls = %d, want 1", len(*calls))
	}
	call := (*calls)[0]
	if call.width != 1920 || call.height != 1080 {
		t.Errorf("factory size = %dx%d, want 1920x1080", call.width, call.height)
	}
	if call.format.Channels != 3 || call.format.Order != chroma.OrderRGB {
		t.Errorf("factory format = %v, want rgb/3", call.format)
	}
	if sink.resizes != 1 || sink.width != 1920 || sink.height != 1080 {
		t.Errorf("sink resized %d times to %dx%d, want once to 1920x1080", sink.resizes, sink.width, sink.height)
	}
	if proc.paramSets != 1 || proc.params != params {
		t.Errorf("processor params = %v (%d sets), want %v once", proc.params, proc.paramSets, params)
	}
	if sink.presents != 1 {
		t.Errorf("presents = %d, want 1", sink.presents)
	}
	if c.State() != StateShuttingDown {
		t.Errorf("State() = %v, want shutting-down", c.State())
	}
}

func TestChannelMismatchDroppedWhileRunning(t *testing.T) {
	source := &fakeSource{frames: []*chroma.Frame{
		testFrame(64, 32, 3),
		testFrame(64, 32, 4), // drifted channel count, must be dropped
		testFrame(64, 32, 3),
	}}
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	c, _ := newController(t, source, sink, proc, Config{
		TargetFPS: 240, Parameters: chroma.DefaultBlurParameters(), MaxFrames: 2,
	})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(proc.processed) != 2 {
		t.Errorf("processed frames = %d, want 2", len(proc.processed))
	}
	for _, f := range proc.processed {
		if f.Channels != 3 {
			t.Errorf("processed a %d-channel frame, want only 3-channel", f.Channels)
		}
	}
	stats := c.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Presented != 2 {
		t.Errorf("Stats().Presented = %d, want 2", stats.Presented)
	}
}

func TestFatalFirstFrameValidation(t *testing.T) {
	source := &fakeSource{frames: []*chroma.Frame{
		{Data: []byte{1, 2, 3}, Width: 0, Height: 1, Channels: 3},
	}}
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	c, calls := newController(t, source, sink, proc, Config{
		TargetFPS: 240, Parameters: chroma.DefaultBlurParameters(),
	})

	err := c.Run(context.Background())
	if !errors.Is(err, ErrBadFirstFrame) {
		t.Fatalf("Run() error = %v, want ErrBadFirstFrame", err)
	}
	if len(*calls) != 0 {
		t.Errorf("factory called %d times on fatal first frame, want 0", len(*calls))
	}
	if c.State() != StateShuttingDown {
		t.Errorf("State() = %v, want shutting-down", c.State())
	}
}

func TestProcessorErrorIsRecoverable(t *testing.T) {
	source := &fakeSource{frames: []*chroma.Frame{
		testFrame(8, 8, 3),
		testFrame(8, 8, 3),
	}}
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	c, _ := newController(t, source, sink, proc, Config{
		TargetFPS: 240, Parameters: chroma.DefaultBlurParameters(), MaxFrames: 1,
	})

	// First Process call fails, second succeeds.
	proc.failNext = 1
	proc.failErr = errors.New("transient device loss")

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if c.Stats().Presented != 1 {
		t.Errorf("Presented = %d, want 1", c.Stats().Presented)
	}
	if c.Stats().Dropped == 0 {
		t.Error("Dropped = 0, want at least 1 for the failed Process")
	}
}

func TestPacingHonorsTargetFPS(t *testing.T) {
	source := &fakeSource{frames: []*chroma.Frame{
		testFrame(8, 8, 3),
		testFrame(8, 8, 3),
	}}
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	c, _ := newController(t, source, sink, proc, Config{
		TargetFPS: 25, Parameters: chroma.DefaultBlurParameters(), MaxFrames: 2,
	})

	start := time.Now()
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	// Two frames at 25 fps means at least one full 40ms interval between
	// them (the second iteration returns before its pacing sleep).
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Run() took %v, want at least 40ms at 25 fps", elapsed)
	}
}

func TestTeardownExactlyOnce(t *testing.T) {
	source := &fakeSource{frames: []*chroma.Frame{testFrame(8, 8, 3)}}
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	c, _ := newController(t, source, sink, proc, Config{
		TargetFPS: 240, Parameters: chroma.DefaultBlurParameters(), MaxFrames: 1,
	})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if proc.teardowns != 1 {
		t.Fatalf("teardowns after first Run = %d, want 1", proc.teardowns)
	}

	// A second Run stops immediately (closed sink) and must not tear the
	// processor down again.
	sink.closeNow = true
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if proc.teardowns != 1 {
		t.Errorf("teardowns after second Run = %d, want still 1", proc.teardowns)
	}
}

func TestRerunTearsDownFreshProcessor(t *testing.T) {
	source := &fakeSource{frames: []*chroma.Frame{testFrame(8, 8, 3)}}
	sink := &fakeSink{}
	var procs []*fakeProcessor
	factory := func(int, int, chroma.PixelFormat) (Processor, error) {
		p := &fakeProcessor{}
		procs = append(procs, p)
		return p, nil
	}
	c, err := New(source, sink, factory, Config{
		TargetFPS: 240, Parameters: chroma.DefaultBlurParameters(), MaxFrames: 1,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	// Second run negotiates again and constructs a second processor; it
	// must be released on shutdown just like the first one.
	source.frames = []*chroma.Frame{testFrame(8, 8, 3)}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	if len(procs) != 2 {
		t.Fatalf("factory constructed %d processors, want 2", len(procs))
	}
	for i, p := range procs {
		if p.teardowns != 1 {
			t.Errorf("processor %d teardowns = %d, want 1", i, p.teardowns)
		}
	}
}

func TestContextCancellationStopsLoop(t *testing.T) {
	source := &fakeSource{} // never yields a frame
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	c, _ := newController(t, source, sink, proc, Config{
		TargetFPS: 60, Parameters: chroma.DefaultBlurParameters(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error after cancel = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}
}
