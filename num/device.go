// Package num describes the compute devices and the convolution backends which can run a network on them.
package num

import (
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/jnb666/fundus/num/cuda"
)

// DeviceKind is the class of the active compute device.
type DeviceKind int

const (
	CPU DeviceKind = iota
	GPU
)

func (k DeviceKind) String() string {
	if k == GPU {
		return "gpu"
	}
	return "cpu"
}

// Descriptor describes the device which the network will run on.
type Descriptor struct {
	Kind     DeviceKind
	Name     string
	Threads  int
	Features []string
}

// Probe answers the hardware questions asked once at the start of a run.
type Probe interface {
	// Device returns the active compute device.
	Device() Descriptor
	// FastConvAvailable reports if a fast convolution library is installed on this node.
	FastConvAvailable() bool
	// LoadFastConv checks that the fast convolution library can actually be loaded.
	LoadFastConv() error
}

// SystemProbe inspects the local host. Mode is one of auto, cpu or gpu and has the same
// meaning as the device flag of the numeric library: cpu never uses a GPU even if present.
type SystemProbe struct {
	Mode    string
	LibDirs []string
	once    sync.Once
	desc    Descriptor
	libPath string
	found   bool
}

// NewSystemProbe returns a probe for the given device mode.
func NewSystemProbe(mode string) *SystemProbe {
	return &SystemProbe{Mode: strings.ToLower(mode), LibDirs: cuda.LibDirs()}
}

func (p *SystemProbe) init() {
	p.once.Do(func() {
		p.desc = Descriptor{
			Kind:     CPU,
			Name:     cpuid.CPU.BrandName,
			Threads:  cpuid.CPU.LogicalCores,
			Features: cpuFeatures(),
		}
		if p.desc.Threads < 1 {
			p.desc.Threads = 1
		}
		if p.Mode == "cpu" {
			return
		}
		n, err := cuda.DeviceCount()
		if err != nil || n < 1 {
			if p.Mode == "gpu" {
				log.WithError(err).Warn("gpu device requested but none found - using cpu")
			}
			return
		}
		p.desc.Kind = GPU
		if name, err := cuda.DeviceName(0); err == nil {
			p.desc.Name = name
		}
		p.libPath, p.found = cuda.FindCuDNN(p.LibDirs)
	})
}

// Device implements the Probe interface.
func (p *SystemProbe) Device() Descriptor {
	p.init()
	return p.desc
}

// FastConvAvailable implements the Probe interface.
func (p *SystemProbe) FastConvAvailable() bool {
	p.init()
	return p.found
}

// LoadFastConv implements the Probe interface.
func (p *SystemProbe) LoadFastConv() error {
	p.init()
	if !p.found {
		return ErrBackendUnavailable
	}
	return cuda.LoadCuDNN(p.libPath)
}

func cpuFeatures() []string {
	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	return feats
}
