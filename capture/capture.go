// Package capture defines the frame acquisition contract for the blur
// pipeline and ships the hand-off primitive every source publishes through:
// a single-slot, overwrite-on-write mailbox. The consumer polls, never
// blocks, and only ever sees the newest frame; anything the pipeline was too
// slow to collect is dropped, not queued.
//
// A concrete source backed by video replay (ffmpeg decode at a paced rate)
// is included for development and testing. Desktop duplication backends plug
// in through the same Source interface.
package capture

import (
	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
)

// Source supplies frames to the pipeline controller.
//
// TryGetFrame never blocks. A nil result means "no new frame yet" and is
// the steady-state answer whenever capture runs slower than the pipeline;
// it is not an error.
type Source interface {
	TryGetFrame() *chroma.Frame
}

// Config holds the settings a capture source is constructed with.
type Config struct {
	// TargetFPS is the acquisition rate the source paces itself to.
	// Zero means capture as fast as the backend delivers.
	TargetFPS int

	// GuardHandle is the overlay surface the source must skip explicitly.
	// Non-zero only when OS-level capture exclusion failed; see
	// chroma.ExclusionManager.CaptureGuardHandle.
	GuardHandle chroma.SurfaceHandle

	// Order is the channel order frames are delivered in. Backends that
	// natively produce BGR keep it unless the host forces RGB.
	Order chroma.ChannelOrder
}

// Stats is a snapshot of a source's publish counters.
type Stats struct {
	// Published is the total number of frames handed to the slot.
	Published uint64

	// Dropped counts frames that were overwritten before the consumer
	// collected them.
	Dropped uint64
}
