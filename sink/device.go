// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sink

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// DeviceHandle provides GPU device access from the host application.
//
// Window-backed sinks that render processed frames on the GPU receive the
// device from the host rather than creating their own, so the blur engine
// and the sink share one device and presentation can skip the CPU round
// trip.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, keeping this
// package's name for the interface while staying compatible with the
// gpucontext ecosystem.
type DeviceHandle = gpucontext.DeviceProvider

// GPUSink is implemented by sinks that can present directly from GPU
// memory when they share a device with the processor. Sinks without this
// capability fall back to handle readback.
type GPUSink interface {
	// SetDeviceHandle installs the shared device before the first Present.
	SetDeviceHandle(handle DeviceHandle) error
}

// NullDeviceHandle is a DeviceHandle that provides nil implementations.
// Useful for tests and CPU-only presentation paths.
type NullDeviceHandle struct{}

// Device returns nil.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns the zero texture format.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormat(0)
}

// Ensure NullDeviceHandle implements DeviceHandle.
var _ DeviceHandle = NullDeviceHandle{}
