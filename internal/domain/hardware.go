package domain

import "time"

// DeviceKind enumerates the accelerator families the selection policy (C3)
// reasons about.
type DeviceKind string

const (
	DeviceCPU   DeviceKind = "CPU"
	DeviceCUDA  DeviceKind = "CUDA"
	DeviceMetal DeviceKind = "METAL"
	DeviceROCm  DeviceKind = "ROCM"
	DeviceTPU   DeviceKind = "TPU"
	DeviceNPU   DeviceKind = "NPU"
)

// Device describes one detected accelerator or CPU.
type Device struct {
	Kind     DeviceKind
	ID       string
	MemBytes uint64
}

// HardwareCapabilities is the Hardware Probe's (C1) result: a snapshot of
// what this host can run inference on. A probe failure is non-fatal — the
// caller always gets at least {CPU}.
type HardwareCapabilities struct {
	TotalMemBytes  uint64
	AvailMemBytes  uint64
	Devices        []Device
	CUDAAvailable  bool
	MetalAvailable bool
	DetectedAt     time.Time
}

// HasDevice reports whether any detected device matches kind.
func (h HardwareCapabilities) HasDevice(kind DeviceKind) bool {
	for _, d := range h.Devices {
		if d.Kind == kind {
			return true
		}
	}
	return false
}
