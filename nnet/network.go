// Package nnet contains routines for constructing and training the bilateral fundus network.
package nnet

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jnb666/fundus/num"
)

// fixed architecture of the convolution stages
var convStages = []struct {
	nfeats, size, stride int
	pad                  bool
}{
	{16, 5, 2, false},
	{32, 3, 1, true},
	{64, 3, 1, true},
	{96, 3, 1, true},
	{128, 3, 1, true},
}

const (
	leakiness   = 0.1
	hiddenUnits = 1024
	maxoutSize  = 2
	dropoutProb = 0.5
	poolSize    = 2
)

// Network type is the ordered list of layers for a run. It is built once and not modified afterwards.
type Network struct {
	Layers     []LayerSpec
	Backend    string
	Regression bool
}

// Build constructs the layer graph for the bilateral network using the given convolution and pooling backend.
func Build(conf Config, backend num.Backend) (*Network, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	n := &Network{Backend: backend.Kind.String(), Regression: conf.Regression}
	b := &builder{net: n, backend: backend}
	in := Input{Shape: []int{conf.Channels, conf.Pixels, conf.Pixels}}
	b.add("input", in)
	b.add("input2", in)
	b.add("merge", Merge{Incomings: []string{"input", "input2"}, Axis: 0})
	for i, st := range convStages {
		b.add(fmt.Sprintf("conv%d", i), Conv{
			Nfeats:     st.nfeats,
			Size:       st.size,
			Stride:     st.stride,
			Pad:        st.pad,
			Activation: LeakyRectify(leakiness),
			Impl:       backend.Conv.Name(),
		})
		b.add(fmt.Sprintf("pool%d", i), MaxPool{Size: poolSize, Stride: poolSize, Impl: backend.Pool.Name()})
	}
	b.add("merge2", BatchConcat{Groups: 2})
	for i := 1; i <= 2; i++ {
		b.add(fmt.Sprintf("dropouthidden%d", i), Dropout{P: dropoutProb})
		b.add(fmt.Sprintf("hidden%d", i), Dense{Nout: hiddenUnits, Activation: LeakyRectify(leakiness)})
		b.add(fmt.Sprintf("maxout%d", i), FeaturePool{PoolSize: maxoutSize})
	}
	b.add("dropouthidden3", Dropout{P: dropoutProb})
	if conf.Regression {
		b.add("output", Output{Nout: 1, Activation: Identity})
	} else {
		b.add("output", Output{Nout: conf.Classes(), Activation: Softmax})
	}
	if b.err != nil {
		return nil, b.err
	}
	return n, nil
}

// FromConfig rebuilds a network from its serialised layers, e.g. as stored in a checkpoint.
func FromConfig(layers []LayerConfig, backend num.Backend, regression bool) (*Network, error) {
	n := &Network{Backend: backend.Kind.String(), Regression: regression}
	b := &builder{net: n, backend: backend}
	for _, l := range layers {
		p, err := l.Unmarshal()
		if err != nil {
			return nil, err
		}
		b.add(l.Name, p)
	}
	if b.err != nil {
		return nil, b.err
	}
	return n, nil
}

type builder struct {
	net     *Network
	backend num.Backend
	err     error
}

func (b *builder) add(name string, p LayerParams) {
	if b.err != nil {
		return
	}
	var inShape []int
	rows := 1
	if len(b.net.Layers) > 0 {
		prev := b.net.Layers[len(b.net.Layers)-1]
		inShape, rows = prev.OutShape, prev.Rows
	} else if p.Kind() != InputLayer {
		b.err = errors.Wrapf(ErrConfig, "layer %s: first layer must be an input", name)
		return
	}
	outShape, outRows, err := p.outShape(inShape, rows)
	if err == nil {
		err = b.check(p, inShape, outShape)
	}
	if err != nil {
		b.err = errors.Wrapf(ErrConfig, "layer %s: %s", name, err)
		return
	}
	b.net.Layers = append(b.net.Layers, LayerSpec{Name: name, Params: p, InShape: inShape, OutShape: outShape, Rows: outRows})
}

// validate the layer geometry against the selected backend
func (b *builder) check(p LayerParams, inShape, outShape []int) error {
	switch l := p.(type) {
	case Conv:
		return b.backend.Conv.CheckConv(num.ConvGeom{
			Channels: inShape[0], Height: inShape[1], Width: inShape[2],
			Filters: l.Nfeats, Size: l.Size, Stride: l.Stride, Same: l.Pad,
		})
	case MaxPool:
		return b.backend.Pool.CheckPool(num.PoolGeom{
			Channels: inShape[0], Height: inShape[1], Width: inShape[2],
			Size: l.Size, Stride: l.Stride,
		})
	}
	return nil
}

// Accessor for output layer
func (n *Network) OutLayer() Output {
	return n.Layers[len(n.Layers)-1].Params.(Output)
}

// Layer returns the named layer.
func (n *Network) Layer(name string) (LayerSpec, bool) {
	for _, l := range n.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return LayerSpec{}, false
}

// InputShape returns the channels, height and width of each input stream.
func (n *Network) InputShape() []int {
	return n.Layers[0].OutShape
}

// Marshal returns the serialised layer list.
func (n *Network) Marshal() []LayerConfig {
	cfg := make([]LayerConfig, len(n.Layers))
	for i, l := range n.Layers {
		cfg[i] = l.Marshal()
	}
	return cfg
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %s", i, layer)
	}
	return fmt.Sprintf("== Network [%s] ==\n%s", n.Backend, strings.Join(s, "\n"))
}
