// Package hardware implements the Hardware Probe (C1): detection of
// available devices, memory, and accelerators for the selection policy.
package hardware

import (
	"bufio"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/infercore/infercore/internal/domain"
)

// cacheTTL bounds how often detect() re-probes the host (§4.1: "cached for
// a short interval, ≈30s, to avoid repeated syscalls").
const cacheTTL = 30 * time.Second

// Probe detects hardware capabilities, caching the result briefly.
// Probe failures are non-fatal: a minimum {CPU} capability is always
// returned, mirroring the sensor stubs' "safe default" convention.
type Probe struct {
	mu       sync.Mutex
	cached   domain.HardwareCapabilities
	cachedAt time.Time
	now      func() time.Time
}

// New creates a Probe with no cached state.
func New() *Probe {
	return &Probe{now: time.Now}
}

// Detect returns the current hardware capability snapshot, using the cache
// when still fresh.
func (p *Probe) Detect() domain.HardwareCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.cachedAt.IsZero() && now.Sub(p.cachedAt) < cacheTTL {
		return p.cached
	}

	caps := detectOnce(now)
	p.cached = caps
	p.cachedAt = now
	return caps
}

func detectOnce(now time.Time) domain.HardwareCapabilities {
	caps := domain.HardwareCapabilities{
		Devices:    []domain.Device{{Kind: domain.DeviceCPU, ID: "cpu0"}},
		DetectedAt: now,
	}

	total, avail := readMeminfo()
	if total == 0 {
		// /proc/meminfo unreadable (non-Linux, or permissions) — fall back
		// to the Go runtime's view, which is always available.
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		total = ms.Sys
		avail = ms.Sys - ms.HeapInuse
	}
	caps.TotalMemBytes = total
	caps.AvailMemBytes = avail

	if cudaAvailable() {
		caps.CUDAAvailable = true
		caps.Devices = append(caps.Devices, domain.Device{Kind: domain.DeviceCUDA, ID: "cuda0"})
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		caps.MetalAvailable = true
		caps.Devices = append(caps.Devices, domain.Device{Kind: domain.DeviceMetal, ID: "metal0"})
	}

	return caps
}

// readMeminfo parses /proc/meminfo for MemTotal/MemAvailable, in bytes.
// Returns (0, 0) when the file is absent (non-Linux hosts).
func readMeminfo() (total, avail uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			avail = kb * 1024
		}
	}
	return total, avail
}

// cudaAvailable probes for nvidia-smi on PATH. Failure to find or run it is
// treated as "no CUDA device", never as a probe error.
func cudaAvailable() bool {
	path, err := exec.LookPath("nvidia-smi")
	return err == nil && path != ""
}
