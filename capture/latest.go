package capture

import (
	"sync"
	"sync/atomic"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
)

// LatestSlot is a single-slot frame mailbox with overwrite-on-publish
// semantics. The producer always succeeds immediately; the consumer always
// returns immediately with either the newest unconsumed frame or nil.
//
// Frames are immutable once published: the producer hands the buffer over
// and never writes to it again.
type LatestSlot struct {
	mu    sync.Mutex
	frame *chroma.Frame

	published uint64
	drops     uint64
}

// NewLatestSlot creates an empty slot.
func NewLatestSlot() *LatestSlot {
	return &LatestSlot{}
}

// Publish stores a frame, replacing any unconsumed predecessor. When a
// predecessor is replaced the drop counter is incremented.
func (s *LatestSlot) Publish(frame *chroma.Frame) {
	s.mu.Lock()
	if s.frame != nil {
		// Previous frame was never collected; new replaces old.
		atomic.AddUint64(&s.drops, 1)
	}
	s.frame = frame
	s.mu.Unlock()
	atomic.AddUint64(&s.published, 1)
}

// Take removes and returns the newest frame, or nil when no frame has been
// published since the last Take. Never blocks.
func (s *LatestSlot) Take() *chroma.Frame {
	s.mu.Lock()
	f := s.frame
	s.frame = nil
	s.mu.Unlock()
	return f
}

// Stats returns a snapshot of the publish and drop counters. Safe to call
// concurrently with Publish and Take.
func (s *LatestSlot) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&s.published),
		Dropped:   atomic.LoadUint64(&s.drops),
	}
}
