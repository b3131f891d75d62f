package chroma

// SurfaceHandle is an opaque OS-level identifier for the overlay surface
// (an HWND on Windows). The zero value means "no surface".
type SurfaceHandle uintptr

// ExcludeFunc asks the operating system to omit the given surface from
// desktop capture. It reports explicit success or failure; implementations
// must not panic or swallow errors.
type ExcludeFunc func(SurfaceHandle) bool

// ExclusionStatus records the one-time outcome of the self-exclusion attempt.
type ExclusionStatus struct {
	// Attempted is true once the exclusion call has been made.
	Attempted bool

	// Succeeded is true when the OS confirmed the surface is excluded
	// from capture.
	Succeeded bool
}

// ExclusionManager performs the anti-feedback protocol: before capture
// starts, the overlay surface is registered for exclusion from the desktop
// image so the blur never re-captures its own output.
//
// Exclusion failure is degraded-but-running, never fatal: the manager then
// hands the surface handle to the capture layer so it can skip the overlay
// explicitly.
type ExclusionManager struct {
	handle SurfaceHandle
	status ExclusionStatus
}

// NewExclusionManager attempts to exclude the surface from capture exactly
// once and records the outcome. A nil fn uses the platform default
// (SetWindowDisplayAffinity on Windows, unsupported elsewhere).
func NewExclusionManager(handle SurfaceHandle, fn ExcludeFunc) *ExclusionManager {
	if fn == nil {
		fn = excludeSurfaceFromCapture
	}
	m := &ExclusionManager{handle: handle}
	m.status.Attempted = true
	m.status.Succeeded = fn(handle)
	if m.status.Succeeded {
		Logger().Info("capture exclusion enabled", "surface", uintptr(handle))
	} else {
		Logger().Warn("capture exclusion unavailable, capture must skip the overlay surface",
			"surface", uintptr(handle))
	}
	return m
}

// Status returns the recorded exclusion outcome.
func (m *ExclusionManager) Status() ExclusionStatus {
	return m.status
}

// CaptureGuardHandle returns the surface handle the capture source must
// exclude explicitly, with ok=true only when OS-level exclusion failed.
// When exclusion succeeded the OS already keeps the surface out of the
// desktop image and no guard is needed.
func (m *ExclusionManager) CaptureGuardHandle() (SurfaceHandle, bool) {
	if m.status.Attempted && !m.status.Succeeded {
		return m.handle, true
	}
	return 0, false
}
