// Package device chooses the compute backend the generative model is bound to.
package device

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Device is one of a closed set of compute backends.
type Device string

const (
	// MPS is Apple's Metal Performance Shaders backend on Apple Silicon.
	MPS Device = "mps"
	// CUDA is an NVIDIA general-purpose GPU.
	CUDA Device = "cuda"
	// CPU is the fallback that always exists.
	CPU Device = "cpu"
)

// nvidiaDeviceNode is present on Linux hosts with a loaded NVIDIA driver.
const nvidiaDeviceNode = "/dev/nvidia0"

// Parse maps a configured device name onto a Device. The second return value
// is false for names outside the known set.
func Parse(name string) (Device, bool) {
	switch Device(strings.ToLower(strings.TrimSpace(name))) {
	case MPS:
		return MPS, true
	case CUDA:
		return CUDA, true
	case CPU:
		return CPU, true
	default:
		return "", false
	}
}

// Probes reports which accelerators the host can use.
type Probes struct {
	HasMPS  func() bool
	HasCUDA func() bool
}

// HostProbes inspects the running host.
func HostProbes() Probes {
	return Probes{
		HasMPS:  hostHasMPS,
		HasCUDA: hostHasCUDA,
	}
}

func hostHasMPS() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

func hostHasCUDA() bool {
	if _, err := os.Stat(nvidiaDeviceNode); err == nil {
		return true
	}

	_, err := exec.LookPath("nvidia-smi")

	return err == nil
}

// Selector picks the preferred device once and caches the answer for the
// lifetime of the process, since the model is bound to it exactly once.
type Selector struct {
	override string
	probes   Probes

	once     sync.Once
	selected Device
}

// NewSelector creates a Selector. A non-empty override naming a known device
// bypasses probing; unknown names are ignored.
func NewSelector(override string, probes Probes) *Selector {
	return &Selector{
		override: override,
		probes:   probes,
	}
}

// Select returns the cached device choice: mps, then cuda, then cpu.
func (s *Selector) Select() Device {
	s.once.Do(func() {
		s.selected = s.probe()
	})

	return s.selected
}

func (s *Selector) probe() Device {
	if dev, ok := Parse(s.override); ok {
		return dev
	}

	if s.probes.HasMPS != nil && s.probes.HasMPS() {
		return MPS
	}

	if s.probes.HasCUDA != nil && s.probes.HasCUDA() {
		return CUDA
	}

	return CPU
}
