//go:build windows

package chroma

import "golang.org/x/sys/windows"

// WDA_EXCLUDEFROMCAPTURE omits the window from capture entirely; the
// captured desktop shows what is behind it. Requires Windows 10 2004.
const wdaExcludeFromCapture = 0x00000011

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procSetWindowDisplayAffinity = user32.NewProc("SetWindowDisplayAffinity")
)

// excludeSurfaceFromCapture flags the window so desktop duplication leaves
// it out of every captured frame. Returns false when the handle is zero or
// the call fails (older Windows, non-window handle).
func excludeSurfaceFromCapture(handle SurfaceHandle) bool {
	if handle == 0 {
		return false
	}
	ret, _, _ := procSetWindowDisplayAffinity.Call(uintptr(handle), wdaExcludeFromCapture)
	return ret != 0
}
