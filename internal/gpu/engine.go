// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
	"github.com/PhilipJohnsen/eyetracked-chromatic-filtering/internal/filter"
)

//go:embed shaders/blur.wgsl
var blurShaderSource string

// Engine errors.
var (
	ErrEngineClosed  = errors.New("gpu: engine closed")
	ErrFrameMismatch = errors.New("gpu: frame does not match negotiated format")
)

// kernelStride is the padded length of one per-channel kernel row in the
// GPU kernel buffer. Rows are centered at kernelStride/2 and zero-padded,
// so the tap pass count never depends on the row layout.
const kernelStride = 2*chroma.MaxBlurRadius + 1

// Tap pass flags. The first pass of an axis overwrites the accumulator,
// the last one quantizes it into the destination buffer.
const (
	tapFlagFirst = 1 << 0
	tapFlagLast  = 1 << 1
)

// blurFrameParams mirrors the Params uniform in shaders/blur.wgsl.
// Field order and padding must match the WGSL struct exactly.
type blurFrameParams struct {
	Width        uint32
	Height       uint32
	Axis         uint32 // 0 = horizontal, 1 = vertical
	Tap          int32  // offset from the kernel center
	KernelStride uint32
	Flags        uint32
	_            [2]uint32
}

// BlurEngine runs a two-pass separable Gaussian blur on the GPU with an
// independent kernel per color channel.
//
// Each axis is encoded as one compute pass per kernel tap, all in a single
// submission; naga SPIR-V bug #5 (loops only execute the first iteration)
// rules out looping over the taps inside the shader. The surface set
// (input, intermediate, output, staging, accumulator) is allocated once
// for the dimensions negotiated from the first frame; Process only uploads
// pixels and dispatches, it never reallocates. SetParameters rewrites the
// kernel buffer and rebuilds the per-tap pass bindings.
//
// All methods are safe for use from a single goroutine; the internal mutex
// exists so a stale OutputHandle read racing a Process call fails cleanly
// instead of tearing.
type BlurEngine struct {
	mu  sync.Mutex
	dev *Device

	width    int
	height   int
	channels int
	order    chroma.ChannelOrder

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	inputBuf        hal.Buffer
	intermediateBuf hal.Buffer
	outputBuf       hal.Buffer
	stagingBuf      hal.Buffer
	accumBuf        hal.Buffer
	kernelBuf       hal.Buffer

	// One uniform buffer and bind group per tap pass, horizontal taps
	// first. Rebuilt whenever SetParameters changes the largest radius.
	tapUniforms []hal.Buffer
	tapBinds    []hal.BindGroup

	params    chroma.BlurParameters
	maxRadius int

	packBuf []byte // reused RGBA upload scratch
	seq     uint64 // bumped on every Process; stale handles compare against it
	closed  bool

	shaderSource string
	syncEvery    int // log fence-wait timing every N frames; 0 disables
	frameCount   uint64
}

// NewBlurEngine allocates the full surface set and compute pipeline for the
// given dimensions and pixel format. The format comes from one-time
// negotiation against the first captured frame; frames passed to Process
// must match it. kernelSource overrides the embedded WGSL kernel when
// non-empty; a source that fails to compile is a construction error, there
// is no fallback filter. Parameters start at their defaults until
// SetParameters is called.
func NewBlurEngine(dev *Device, width, height int, format chroma.PixelFormat, kernelSource string) (*BlurEngine, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gpu: bad surface size %dx%d", width, height)
	}
	if format.Channels != 3 && format.Channels != 4 {
		return nil, fmt.Errorf("gpu: unsupported channel count %d", format.Channels)
	}
	if kernelSource == "" {
		kernelSource = blurShaderSource
	}

	e := &BlurEngine{
		dev:          dev,
		width:        width,
		height:       height,
		channels:     format.Channels,
		order:        format.Order,
		packBuf:      make([]byte, width*height*4),
		shaderSource: kernelSource,
	}
	if err := e.createPipeline(); err != nil {
		e.Teardown()
		return nil, err
	}
	if err := e.createSurfaceSet(); err != nil {
		e.Teardown()
		return nil, err
	}
	if err := e.SetParameters(chroma.DefaultBlurParameters()); err != nil {
		e.Teardown()
		return nil, err
	}
	slogger().Info("gpu: blur engine ready",
		"width", width, "height", height, "format", format.String())
	return e, nil
}

// SetLogger routes engine logging through the host's logger.
func (e *BlurEngine) SetLogger(l *slog.Logger) { setLogger(l) }

// EnableSyncDiagnostics logs fence-wait timing once every interval frames.
// Zero or negative disables it.
func (e *BlurEngine) EnableSyncDiagnostics(interval int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if interval < 0 {
		interval = 0
	}
	e.syncEvery = interval
}

func (e *BlurEngine) createPipeline() error {
	dev := e.dev.HalDevice()

	shader, err := dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "chroma_blur",
		Source: hal.ShaderSource{WGSL: e.shaderSource},
	})
	if err != nil {
		return fmt.Errorf("gpu: compile blur shader: %w", err)
	}
	e.shader = shader

	bindLayout, err := dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "chroma_blur_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 4, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group layout: %w", err)
	}
	e.bindLayout = bindLayout

	pipeLayout, err := dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "chroma_blur_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{e.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("gpu: create pipeline layout: %w", err)
	}
	e.pipeLayout = pipeLayout

	pipeline, err := dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "chroma_blur_pipeline", Layout: e.pipeLayout,
		Compute: hal.ComputeState{Module: e.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("gpu: create compute pipeline: %w", err)
	}
	e.pipeline = pipeline
	return nil
}

func (e *BlurEngine) createSurfaceSet() error {
	dev := e.dev.HalDevice()
	pixelBufSize := uint64(e.width) * uint64(e.height) * 4
	accumBufSize := uint64(e.width) * uint64(e.height) * 3 * 4
	kernelBufSize := uint64(3 * kernelStride * 4)

	var err error
	e.inputBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "chroma_input", Size: pixelBufSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create input buffer: %w", err)
	}
	e.intermediateBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "chroma_intermediate", Size: pixelBufSize,
		Usage: gputypes.BufferUsageStorage,
	})
	if err != nil {
		return fmt.Errorf("gpu: create intermediate buffer: %w", err)
	}
	e.outputBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "chroma_output", Size: pixelBufSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("gpu: create output buffer: %w", err)
	}
	e.stagingBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "chroma_staging", Size: pixelBufSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	e.accumBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "chroma_accum", Size: accumBufSize,
		Usage: gputypes.BufferUsageStorage,
	})
	if err != nil {
		return fmt.Errorf("gpu: create accumulator buffer: %w", err)
	}
	e.kernelBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "chroma_kernel", Size: kernelBufSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create kernel buffer: %w", err)
	}
	return nil
}

// makeTapParams builds the uniform contents for one tap pass. The first
// tap of an axis overwrites the accumulator, the last one quantizes it
// into the destination; at radius 0 the single tap does both.
func makeTapParams(width, height, axis uint32, tap, maxRadius int) blurFrameParams {
	var flags uint32
	if tap == -maxRadius {
		flags |= tapFlagFirst
	}
	if tap == maxRadius {
		flags |= tapFlagLast
	}
	return blurFrameParams{
		Width:        width,
		Height:       height,
		Axis:         axis,
		Tap:          int32(tap), //nolint:gosec // bounded by MaxBlurRadius
		KernelStride: kernelStride,
		Flags:        flags,
	}
}

// rebuildTapBindings creates one uniform buffer and bind group per tap
// pass, horizontal axis first. The new set is built completely before the
// old one is destroyed, so a creation failure leaves the engine on its
// previous parameters.
func (e *BlurEngine) rebuildTapBindings(maxRadius int) error {
	dev := e.dev.HalDevice()
	queue := e.dev.HalQueue()
	pixelBufSize := uint64(e.width) * uint64(e.height) * 4
	accumBufSize := uint64(e.width) * uint64(e.height) * 3 * 4
	kernelBufSize := uint64(3 * kernelStride * 4)
	uniformSize := uint64(unsafe.Sizeof(blurFrameParams{}))
	taps := 2*maxRadius + 1

	uniforms := make([]hal.Buffer, 0, 2*taps)
	binds := make([]hal.BindGroup, 0, 2*taps)
	fail := func(err error) error {
		e.destroyTapBindings(uniforms, binds)
		return err
	}

	for axis := uint32(0); axis < 2; axis++ {
		srcBuf, dstBuf := e.inputBuf, e.intermediateBuf
		if axis == 1 {
			srcBuf, dstBuf = e.intermediateBuf, e.outputBuf
		}
		for tap := -maxRadius; tap <= maxRadius; tap++ {
			params := makeTapParams(uint32(e.width), uint32(e.height), axis, tap, maxRadius) //nolint:gosec // validated positive int

			ub, err := dev.CreateBuffer(&hal.BufferDescriptor{
				Label: "chroma_tap_params", Size: uniformSize,
				Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
			})
			if err != nil {
				return fail(fmt.Errorf("gpu: create tap uniform buffer: %w", err))
			}
			uniforms = append(uniforms, ub)
			queue.WriteBuffer(ub, 0, structToBytes(unsafe.Pointer(&params), unsafe.Sizeof(params)))

			bg, err := dev.CreateBindGroup(&hal.BindGroupDescriptor{
				Label: "chroma_tap_bind", Layout: e.bindLayout,
				Entries: []gputypes.BindGroupEntry{
					{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: uniformSize}},
					{Binding: 1, Resource: gputypes.BufferBinding{Buffer: e.kernelBuf.NativeHandle(), Offset: 0, Size: kernelBufSize}},
					{Binding: 2, Resource: gputypes.BufferBinding{Buffer: srcBuf.NativeHandle(), Offset: 0, Size: pixelBufSize}},
					{Binding: 3, Resource: gputypes.BufferBinding{Buffer: e.accumBuf.NativeHandle(), Offset: 0, Size: accumBufSize}},
					{Binding: 4, Resource: gputypes.BufferBinding{Buffer: dstBuf.NativeHandle(), Offset: 0, Size: pixelBufSize}},
				},
			})
			if err != nil {
				return fail(fmt.Errorf("gpu: create tap bind group: %w", err))
			}
			binds = append(binds, bg)
		}
	}

	e.destroyTapBindings(e.tapUniforms, e.tapBinds)
	e.tapUniforms, e.tapBinds = uniforms, binds
	return nil
}

func (e *BlurEngine) destroyTapBindings(uniforms []hal.Buffer, binds []hal.BindGroup) {
	dev := e.dev.HalDevice()
	for _, bg := range binds {
		if bg != nil {
			dev.DestroyBindGroup(bg)
		}
	}
	for _, ub := range uniforms {
		if ub != nil {
			dev.DestroyBuffer(ub)
		}
	}
}

// SetParameters validates and installs new blur parameters. The kernel
// buffer is rewritten with three zero-padded rows (one per channel) and
// the per-tap pass bindings are rebuilt for the new largest radius. Takes
// effect from the next Process call.
func (e *BlurEngine) SetParameters(p chroma.BlurParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	rows, maxRadius := buildKernelRows(p)

	e.dev.HalQueue().WriteBuffer(e.kernelBuf, 0, rows)
	if err := e.rebuildTapBindings(maxRadius); err != nil {
		return err
	}

	e.params = p
	e.maxRadius = maxRadius
	slogger().Debug("gpu: blur parameters updated",
		"radius", p.Radius, "sigma", p.Sigma, "max_radius", maxRadius)
	return nil
}

// Parameters returns the currently installed blur parameters.
func (e *BlurEngine) Parameters() chroma.BlurParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Process uploads one frame, runs the horizontal and vertical passes in a
// single submission, and copies the result into the staging buffer. The
// returned handle reads back lazily via Pixels; it goes stale as soon as a
// newer frame is processed.
func (e *BlurEngine) Process(frame *chroma.Frame) (chroma.OutputHandle, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if frame.Width != e.width || frame.Height != e.height ||
		frame.Channels != e.channels || frame.Order != e.order {
		return nil, fmt.Errorf("%w: got %dx%d %s, want %dx%d %s",
			ErrFrameMismatch,
			frame.Width, frame.Height, frame.Format().String(),
			e.width, e.height, chroma.PixelFormat{Channels: e.channels, Order: e.order}.String())
	}

	packFrameRGBA(frame, e.packBuf)
	queue := e.dev.HalQueue()
	queue.WriteBuffer(e.inputBuf, 0, e.packBuf)

	if err := e.encodePasses(); err != nil {
		return nil, err
	}

	e.seq++
	return &FrameHandle{engine: e, width: e.width, height: e.height, seq: e.seq}, nil
}

func (e *BlurEngine) encodePasses() error {
	dev := e.dev.HalDevice()
	queue := e.dev.HalQueue()
	pixelBufSize := uint64(e.width) * uint64(e.height) * 4

	encoder, err := dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "chroma_blur_encoder"})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("chroma_blur"); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}

	groupsX := (uint32(e.width) + 7) / 8  //nolint:gosec // validated positive int
	groupsY := (uint32(e.height) + 7) / 8 //nolint:gosec // validated positive int

	// One pass per tap, horizontal taps then vertical; the implicit
	// storage barriers between passes order the accumulator and
	// intermediate buffer accesses.
	for _, bg := range e.tapBinds {
		computePass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "chroma_blur_pass"})
		computePass.SetPipeline(e.pipeline)
		computePass.SetBindGroup(0, bg, nil)
		computePass.Dispatch(groupsX, groupsY, 1)
		computePass.End()
	}

	encoder.CopyBufferToBuffer(e.outputBuf, e.stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: pixelBufSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	defer dev.FreeCommandBuffer(cmdBuf)

	fence, err := dev.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	defer dev.DestroyFence(fence)
	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	waitStart := time.Now()
	fenceOK, err := dev.Wait(fence, 1, 5*time.Second)
	if err != nil || !fenceOK {
		return fmt.Errorf("gpu: wait for blur passes: ok=%v err=%w", fenceOK, err)
	}

	e.frameCount++
	if e.syncEvery > 0 && e.frameCount%uint64(e.syncEvery) == 0 {
		slogger().Debug("gpu: sync diagnostics",
			"frame", e.frameCount, "fence_wait", time.Since(waitStart))
	}
	return nil
}

// readBack copies the staging buffer for the given sequence number into a
// fresh slice. Fails with chroma.ErrStaleHandle once a newer frame has been
// processed, and with ErrEngineClosed after Teardown.
func (e *BlurEngine) readBack(seq uint64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if seq != e.seq {
		return nil, chroma.ErrStaleHandle
	}
	out := make([]byte, e.width*e.height*4)
	if err := e.dev.HalQueue().ReadBuffer(e.stagingBuf, 0, out); err != nil {
		return nil, fmt.Errorf("gpu: readback: %w", err)
	}
	return out, nil
}

// Teardown releases every GPU resource the engine owns. Safe to call more
// than once; outstanding handles fail with ErrEngineClosed afterwards. The
// device itself is not touched, its owner closes it.
func (e *BlurEngine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true

	dev := e.dev.HalDevice()
	if dev == nil {
		return
	}
	e.destroyTapBindings(e.tapUniforms, e.tapBinds)
	e.tapUniforms, e.tapBinds = nil, nil
	for _, buf := range []hal.Buffer{
		e.inputBuf, e.intermediateBuf, e.outputBuf,
		e.stagingBuf, e.accumBuf, e.kernelBuf,
	} {
		if buf != nil {
			dev.DestroyBuffer(buf)
		}
	}
	if e.pipeline != nil {
		dev.DestroyComputePipeline(e.pipeline)
	}
	if e.pipeLayout != nil {
		dev.DestroyPipelineLayout(e.pipeLayout)
	}
	if e.bindLayout != nil {
		dev.DestroyBindGroupLayout(e.bindLayout)
	}
	if e.shader != nil {
		dev.DestroyShaderModule(e.shader)
	}
	slogger().Info("gpu: blur engine torn down")
}

// FrameHandle identifies one processed frame still resident in the staging
// buffer. Only the newest handle is readable.
type FrameHandle struct {
	engine *BlurEngine
	width  int
	height int
	seq    uint64
}

var _ chroma.OutputHandle = (*FrameHandle)(nil)

// Size returns the processed frame dimensions.
func (h *FrameHandle) Size() (width, height int) { return h.width, h.height }

// Pixels reads the blurred frame back from the GPU as tight RGBA.
func (h *FrameHandle) Pixels() ([]byte, error) {
	return h.engine.readBack(h.seq)
}

// buildKernelRows serializes one zero-padded kernel row per color channel
// for upload to the GPU kernel buffer. Taps are centered at kernelStride/2;
// a radius-0 channel gets a delta row, which makes the tap sequence an
// identity for it. Also returns the largest radius, which sets the number
// of tap passes per axis.
func buildKernelRows(p chroma.BlurParameters) ([]byte, int) {
	maxRadius := 0
	rows := make([]byte, 3*kernelStride*4)
	for c := 0; c < 3; c++ {
		taps := filter.CachedKernel(p.Radius[c], p.Sigma[c])
		if p.Radius[c] > maxRadius {
			maxRadius = p.Radius[c]
		}
		base := c*kernelStride + kernelStride/2 - len(taps)/2
		for i, w := range taps {
			binary.LittleEndian.PutUint32(rows[(base+i)*4:], math.Float32bits(w))
		}
	}
	return rows, maxRadius
}

func structToBytes(ptr unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), size) //nolint:gosec // safe struct serialization
}
