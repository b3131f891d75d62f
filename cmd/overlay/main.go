// Command overlay runs the chromatic blur pipeline headlessly: frames from
// a replay video are blurred on the GPU and presented into an offscreen
// surface, with an optional PNG snapshot at the end. The capture-exclusion
// capability is exercised the same way a window-backed overlay would use
// it.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
	"github.com/PhilipJohnsen/eyetracked-chromatic-filtering/capture"
	"github.com/PhilipJohnsen/eyetracked-chromatic-filtering/config"
	"github.com/PhilipJohnsen/eyetracked-chromatic-filtering/internal/gpu"
	"github.com/PhilipJohnsen/eyetracked-chromatic-filtering/pipeline"
	"github.com/PhilipJohnsen/eyetracked-chromatic-filtering/sink"
)

func main() {
	configPath := flag.String("config", "settings.txt", "settings file path")
	videoPath := flag.String("video", "", "video file used as the capture source")
	videoWidth := flag.Int("video-width", 1920, "decoded frame width")
	videoHeight := flag.Int("video-height", 1080, "decoded frame height")
	frames := flag.Int("frames", 0, "stop after this many presented frames (0 = run until interrupted)")
	snapshot := flag.String("snapshot", "", "write the final surface as PNG to this path")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if err := run(*configPath, *videoPath, *videoWidth, *videoHeight, *frames, *snapshot, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "overlay:", err)
		os.Exit(1)
	}
}

func run(configPath, videoPath string, videoWidth, videoHeight, frames int, snapshot string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	chroma.SetLogger(logger)

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if videoPath == "" {
		return fmt.Errorf("a -video replay source is required")
	}

	// A headless run has no real window; a placeholder handle still
	// exercises the exclusion protocol end to end.
	exclusion := chroma.NewExclusionManager(chroma.SurfaceHandle(1), nil)
	captureCfg := capture.Config{
		TargetFPS: settings.TargetFPS,
		Order:     settings.ChannelOrder,
	}
	if settings.ForceRGB {
		captureCfg.Order = chroma.OrderRGB
	}
	if guard, ok := exclusion.CaptureGuardHandle(); ok {
		captureCfg.GuardHandle = guard
	}

	source, err := capture.NewReplaySource(videoPath, videoWidth, videoHeight, captureCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := source.Start(ctx); err != nil {
		return err
	}
	defer source.Stop()

	dev, err := gpu.OpenDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	kernelSource, err := loadKernelSource(settings.KernelAssetPath)
	if err != nil {
		return err
	}
	if kernelSource != "" {
		logger.Info("using kernel asset from disk", "path", settings.KernelAssetPath)
	}

	factory := func(w, h int, format chroma.PixelFormat) (pipeline.Processor, error) {
		engine, err := gpu.NewBlurEngine(dev, w, h, format, kernelSource)
		if err != nil {
			return nil, err
		}
		engine.SetLogger(logger)
		if settings.DebugGPUSync {
			engine.EnableSyncDiagnostics(settings.GPUSyncInterval)
		}
		return engine, nil
	}

	surface, err := sink.NewFixedOffscreen(settings.SurfaceSize[0], settings.SurfaceSize[1])
	if err != nil {
		return err
	}

	controller, err := pipeline.New(source, surface, factory, pipeline.Config{
		TargetFPS:  settings.TargetFPS,
		Parameters: settings.BlurParameters(),
		Exclusion:  exclusion,
		MaxFrames:  frames,
	})
	if err != nil {
		return err
	}

	if err := controller.Run(ctx); err != nil {
		return err
	}
	if err := source.Err(); err != nil {
		logger.Warn("capture source finished with error", "err", err)
	}

	if snapshot != "" {
		if err := writeSnapshot(surface, snapshot); err != nil {
			return err
		}
		logger.Info("snapshot written", "path", snapshot)
	}

	stats := controller.Stats()
	logger.Info("done", "presented", stats.Presented, "dropped", stats.Dropped)
	return nil
}

// loadKernelSource reads the configured WGSL kernel. An empty path selects
// the built-in kernel; a configured path that cannot be read is a fatal
// startup error, never a silent substitution.
func loadKernelSource(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read kernel asset %s: %w", path, err)
	}
	return string(data), nil
}

func writeSnapshot(surface *sink.Offscreen, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, surface.Snapshot()); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Close()
}
