package num

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrBackendUnavailable is returned when the fast convolution library cannot be loaded.
var ErrBackendUnavailable = errors.New("fast convolution backend unavailable")

// BackendKind identifies one of the convolution and pooling implementation pairs.
type BackendKind int

const (
	Generic BackendKind = iota
	Fast
	Legacy
)

var backendNames = map[BackendKind]string{
	Generic: "generic",
	Fast:    "cudnn",
	Legacy:  "cuda_convnet",
}

func (k BackendKind) String() string {
	return backendNames[k]
}

// ConvGeom is the geometry of one convolution layer.
type ConvGeom struct {
	Channels, Height, Width int
	Filters, Size, Stride   int
	Same                    bool
}

// PoolGeom is the geometry of one max pooling layer.
type PoolGeom struct {
	Channels, Height, Width int
	Size, Stride            int
}

// ConvBackend implements convolution layers on a device.
type ConvBackend interface {
	Name() string
	CheckConv(g ConvGeom) error
}

// PoolBackend implements max pooling layers on a device.
type PoolBackend interface {
	Name() string
	CheckPool(g PoolGeom) error
}

// Backend is the pair of layer implementations chosen for a run.
type Backend struct {
	Kind BackendKind
	Conv ConvBackend
	Pool PoolBackend
	// Fallback is set if the fast backend was probed but could not be loaded.
	Fallback error
}

func (b Backend) String() string {
	return fmt.Sprintf("%s (conv=%s pool=%s)", b.Kind, b.Conv.Name(), b.Pool.Name())
}

// NewBackend returns the implementation pair for the given kind.
func NewBackend(kind BackendKind) Backend {
	switch kind {
	case Fast:
		return Backend{Kind: Fast, Conv: dnnConv{}, Pool: dnnPool{}}
	case Legacy:
		return Backend{Kind: Legacy, Conv: ccConv{}, Pool: ccPool{}}
	default:
		return Backend{Kind: Generic, Conv: genericConv{}, Pool: genericPool{}}
	}
}

// SelectBackend chooses the convolution and pooling implementations for the device.
// The order of the checks matters: only some GPU nodes support the fast library, the
// others must use the legacy GPU kernels.
func SelectBackend(p Probe, disableFast bool) Backend {
	dev := p.Device()
	logger := log.WithFields(log.Fields{"component": "backend", "device": dev.Kind, "name": dev.Name, "features": dev.Features})
	if dev.Kind != GPU {
		b := NewBackend(Generic)
		logger.Infof("selected %s", b)
		return b
	}
	if p.FastConvAvailable() && !disableFast {
		err := p.LoadFastConv()
		if err == nil {
			b := NewBackend(Fast)
			logger.Infof("selected %s", b)
			return b
		}
		b := NewBackend(Legacy)
		if errors.Cause(err) == ErrBackendUnavailable {
			b.Fallback = err
		} else {
			b.Fallback = errors.Wrap(ErrBackendUnavailable, err.Error())
		}
		logger.WithError(err).Warnf("fast backend failed to load - selected %s", b)
		return b
	}
	b := NewBackend(Legacy)
	logger.WithField("disabled", disableFast).Infof("selected %s", b)
	return b
}

func checkGeom(h, w, size, stride int) error {
	if size < 1 || stride < 1 {
		return fmt.Errorf("invalid window %dx%d stride %d", size, size, stride)
	}
	if size > h || size > w {
		return fmt.Errorf("window size %d larger than input %dx%d", size, h, w)
	}
	return nil
}

type genericConv struct{}

func (genericConv) Name() string { return "conv2d" }

func (genericConv) CheckConv(g ConvGeom) error {
	return checkGeom(g.Height, g.Width, g.Size, g.Stride)
}

type genericPool struct{}

func (genericPool) Name() string { return "maxpool2d" }

func (genericPool) CheckPool(g PoolGeom) error {
	return checkGeom(g.Height, g.Width, g.Size, g.Stride)
}

type dnnConv struct{}

func (dnnConv) Name() string { return "conv2d_dnn" }

func (dnnConv) CheckConv(g ConvGeom) error {
	return checkGeom(g.Height, g.Width, g.Size, g.Stride)
}

type dnnPool struct{}

func (dnnPool) Name() string { return "maxpool2d_dnn" }

func (dnnPool) CheckPool(g PoolGeom) error {
	return checkGeom(g.Height, g.Width, g.Size, g.Stride)
}

// cuda-convnet kernels only handle a restricted set of layer shapes
type ccConv struct{}

func (ccConv) Name() string { return "conv2d_cc" }

func (ccConv) CheckConv(g ConvGeom) error {
	if err := checkGeom(g.Height, g.Width, g.Size, g.Stride); err != nil {
		return err
	}
	if g.Height != g.Width {
		return fmt.Errorf("cuda_convnet: input must be square, got %dx%d", g.Height, g.Width)
	}
	if g.Filters%16 != 0 {
		return fmt.Errorf("cuda_convnet: number of filters %d must be a multiple of 16", g.Filters)
	}
	if g.Channels > 3 && g.Channels%4 != 0 {
		return fmt.Errorf("cuda_convnet: input channels %d must be <= 3 or a multiple of 4", g.Channels)
	}
	return nil
}

type ccPool struct{}

func (ccPool) Name() string { return "maxpool2d_cc" }

func (ccPool) CheckPool(g PoolGeom) error {
	if err := checkGeom(g.Height, g.Width, g.Size, g.Stride); err != nil {
		return err
	}
	if g.Height != g.Width {
		return fmt.Errorf("cuda_convnet: input must be square, got %dx%d", g.Height, g.Width)
	}
	if g.Stride > g.Size {
		return fmt.Errorf("cuda_convnet: pool stride %d larger than size %d", g.Stride, g.Size)
	}
	return nil
}
