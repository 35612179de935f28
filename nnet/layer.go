package nnet

import (
	"encoding/json"
	"fmt"

	"github.com/jnb666/fundus/num"
)

// LayerKind tags the type of each layer in the network.
type LayerKind int

const (
	InputLayer LayerKind = iota
	MergeLayer
	ConvLayer
	PoolLayer
	ConcatLayer
	DropoutLayer
	DenseLayer
	FeaturePoolLayer
	OutputLayer
)

var kindNames = map[LayerKind]string{
	InputLayer:       "input",
	MergeLayer:       "merge",
	ConvLayer:        "conv",
	PoolLayer:        "maxPool",
	ConcatLayer:      "batchConcat",
	DropoutLayer:     "dropout",
	DenseLayer:       "dense",
	FeaturePoolLayer: "featurePool",
	OutputLayer:      "output",
}

func (k LayerKind) String() string { return kindNames[k] }

// Activation function applied to the layer output.
type Activation struct {
	Atype string
	Leak  float64 `json:",omitempty"`
}

var (
	Identity = Activation{Atype: "identity"}
	Softmax  = Activation{Atype: "softmax"}
)

// LeakyRectify returns a rectified linear activation with the given slope for negative inputs.
func LeakyRectify(leak float64) Activation {
	return Activation{Atype: "leaky_rectify", Leak: leak}
}

func (a Activation) String() string {
	if a.Atype == "leaky_rectify" {
		return fmt.Sprintf("%s(%g)", a.Atype, a.Leak)
	}
	return a.Atype
}

func (a Activation) validate() error {
	switch a.Atype {
	case "identity", "softmax":
		return nil
	case "leaky_rectify":
		if a.Leak < 0 || a.Leak >= 1 {
			return fmt.Errorf("leaky rectify slope %g out of range", a.Leak)
		}
		return nil
	}
	return fmt.Errorf("activation type %q invalid", a.Atype)
}

// LayerParams is implemented by the typed hyperparameters of each kind of layer.
type LayerParams interface {
	Kind() LayerKind
	ToString() string
	// outShape returns the per sample output shape and number of rows per subject
	outShape(inShape []int, rows int) ([]int, int, error)
}

// Input layer for one stream of images, Shape is channels, height, width.
type Input struct {
	Shape []int
}

func (c Input) Kind() LayerKind { return InputLayer }

func (c Input) ToString() string { return fmt.Sprintf("input %v", c.Shape) }

func (c Input) outShape(inShape []int, rows int) ([]int, int, error) {
	if len(c.Shape) != 3 || num.Prod(c.Shape) <= 0 {
		return nil, 0, fmt.Errorf("input shape %v invalid", c.Shape)
	}
	return c.Shape, 1, nil
}

// Merge joins the input streams along the batch axis, so both eyes share the layers which follow.
type Merge struct {
	Incomings []string
	Axis      int
}

func (c Merge) Kind() LayerKind { return MergeLayer }

func (c Merge) ToString() string { return fmt.Sprintf("merge %v axis=%d", c.Incomings, c.Axis) }

func (c Merge) outShape(inShape []int, rows int) ([]int, int, error) {
	if c.Axis != 0 || len(c.Incomings) < 2 {
		return nil, 0, fmt.Errorf("merge must join at least 2 inputs along the batch axis")
	}
	return inShape, rows * len(c.Incomings), nil
}

// Conv is a 2d convolution layer. Pad selects same size padding. Impl is the backend implementation.
type Conv struct {
	Nfeats, Size, Stride int
	Pad                  bool
	Activation           Activation
	Impl                 string
}

func (c Conv) Kind() LayerKind { return ConvLayer }

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %dx%d nfeats=%d stride=%d pad=%v %s [%s]", c.Size, c.Size, c.Nfeats, c.Stride, c.Pad, c.Activation, c.Impl)
}

func (c Conv) outShape(inShape []int, rows int) ([]int, int, error) {
	if len(inShape) != 3 {
		return nil, 0, fmt.Errorf("conv: expect 3 dimensional input, got %v", inShape)
	}
	if c.Nfeats <= 0 {
		return nil, 0, fmt.Errorf("conv: number of features must be positive")
	}
	if err := c.Activation.validate(); err != nil {
		return nil, 0, err
	}
	h, _, err := num.OutSize(inShape[1], c.Size, c.Stride, c.Pad)
	if err != nil {
		return nil, 0, err
	}
	w, _, err := num.OutSize(inShape[2], c.Size, c.Stride, c.Pad)
	if err != nil {
		return nil, 0, err
	}
	return []int{c.Nfeats, h, w}, rows, nil
}

// MaxPool is a 2d max pooling layer, partial windows at the border are dropped.
type MaxPool struct {
	Size, Stride int
	Impl         string
}

func (c MaxPool) Kind() LayerKind { return PoolLayer }

func (c MaxPool) ToString() string {
	return fmt.Sprintf("maxPool %dx%d stride=%d [%s]", c.Size, c.Size, c.Stride, c.Impl)
}

func (c MaxPool) outShape(inShape []int, rows int) ([]int, int, error) {
	if len(inShape) != 3 {
		return nil, 0, fmt.Errorf("maxPool: expect 3 dimensional input, got %v", inShape)
	}
	h, _, err := num.OutSize(inShape[1], c.Size, c.Stride, false)
	if err != nil {
		return nil, 0, err
	}
	w, _, err := num.OutSize(inShape[2], c.Size, c.Stride, false)
	if err != nil {
		return nil, 0, err
	}
	return []int{inShape[0], h, w}, rows, nil
}

// BatchConcat splits the batch into Groups parts and joins them along the feature axis.
// It undoes the batch axis merge so the features from both eyes of a subject end up in one row.
type BatchConcat struct {
	Groups int
}

func (c BatchConcat) Kind() LayerKind { return ConcatLayer }

func (c BatchConcat) ToString() string { return fmt.Sprintf("batchConcat groups=%d", c.Groups) }

func (c BatchConcat) outShape(inShape []int, rows int) ([]int, int, error) {
	if c.Groups < 2 || rows%c.Groups != 0 {
		return nil, 0, fmt.Errorf("batchConcat: %d rows per subject cannot be split into %d groups", rows, c.Groups)
	}
	return []int{num.Prod(inShape) * c.Groups}, rows / c.Groups, nil
}

// Dropout layer with probability P of zeroing each input during training.
type Dropout struct {
	P float64
}

func (c Dropout) Kind() LayerKind { return DropoutLayer }

func (c Dropout) ToString() string { return fmt.Sprintf("dropout p=%g", c.P) }

func (c Dropout) outShape(inShape []int, rows int) ([]int, int, error) {
	if c.P < 0 || c.P >= 1 {
		return nil, 0, fmt.Errorf("dropout: probability %g out of range", c.P)
	}
	return inShape, rows, nil
}

// Dense fully connected layer.
type Dense struct {
	Nout       int
	Activation Activation
}

func (c Dense) Kind() LayerKind { return DenseLayer }

func (c Dense) ToString() string { return fmt.Sprintf("dense nout=%d %s", c.Nout, c.Activation) }

func (c Dense) outShape(inShape []int, rows int) ([]int, int, error) {
	if c.Nout <= 0 {
		return nil, 0, fmt.Errorf("dense: number of outputs must be positive")
	}
	if err := c.Activation.validate(); err != nil {
		return nil, 0, err
	}
	return []int{c.Nout}, rows, nil
}

// FeaturePool takes the maximum over groups of PoolSize adjacent features (maxout).
type FeaturePool struct {
	PoolSize int
}

func (c FeaturePool) Kind() LayerKind { return FeaturePoolLayer }

func (c FeaturePool) ToString() string { return fmt.Sprintf("featurePool size=%d", c.PoolSize) }

func (c FeaturePool) outShape(inShape []int, rows int) ([]int, int, error) {
	n := num.Prod(inShape)
	if c.PoolSize < 1 || n%c.PoolSize != 0 {
		return nil, 0, fmt.Errorf("featurePool: size %d does not divide %d features", c.PoolSize, n)
	}
	return []int{n / c.PoolSize}, rows, nil
}

// Output layer, identity activation for regression or softmax for classification.
type Output struct {
	Nout       int
	Activation Activation
}

func (c Output) Kind() LayerKind { return OutputLayer }

func (c Output) ToString() string { return fmt.Sprintf("output nout=%d %s", c.Nout, c.Activation) }

func (c Output) outShape(inShape []int, rows int) ([]int, int, error) {
	if c.Nout <= 0 {
		return nil, 0, fmt.Errorf("output: number of outputs must be positive")
	}
	if err := c.Activation.validate(); err != nil {
		return nil, 0, err
	}
	if c.Activation.Atype == "softmax" && c.Nout < 2 {
		return nil, 0, fmt.Errorf("output: softmax needs at least 2 outputs")
	}
	return []int{c.Nout}, rows, nil
}

// LayerSpec is one named layer in the network.
type LayerSpec struct {
	Name     string
	Params   LayerParams
	InShape  []int
	OutShape []int
	// Rows is the number of output rows per subject: 2 between the merge and batch concat layers.
	Rows int
}

// Kind returns the type of layer.
func (l LayerSpec) Kind() LayerKind { return l.Params.Kind() }

func (l LayerSpec) String() string {
	return fmt.Sprintf("%-15s %-55s %v x%d", l.Name, l.Params.ToString(), l.OutShape, l.Rows)
}

// Layer configuration details in serialised form.
type LayerConfig struct {
	Name string
	Type string
	Data json.RawMessage
}

// Marshal the layer to JSON
func (l LayerSpec) Marshal() LayerConfig {
	return LayerConfig{Name: l.Name, Type: l.Kind().String(), Data: marshal(l.Params)}
}

// Unmarshal JSON data and construct the layer parameters.
func (l LayerConfig) Unmarshal() (LayerParams, error) {
	var p LayerParams
	switch l.Type {
	case "input":
		p = &Input{}
	case "merge":
		p = &Merge{}
	case "conv":
		p = &Conv{}
	case "maxPool":
		p = &MaxPool{}
	case "batchConcat":
		p = &BatchConcat{}
	case "dropout":
		p = &Dropout{}
	case "dense":
		p = &Dense{}
	case "featurePool":
		p = &FeaturePool{}
	case "output":
		p = &Output{}
	default:
		return nil, fmt.Errorf("invalid layer type: %s", l.Type)
	}
	if err := json.Unmarshal(l.Data, p); err != nil {
		return nil, fmt.Errorf("layer %s: %s", l.Name, err)
	}
	return deref(p), nil
}

func deref(p LayerParams) LayerParams {
	switch v := p.(type) {
	case *Input:
		return *v
	case *Merge:
		return *v
	case *Conv:
		return *v
	case *MaxPool:
		return *v
	case *BatchConcat:
		return *v
	case *Dropout:
		return *v
	case *Dense:
		return *v
	case *FeaturePool:
		return *v
	case *Output:
		return *v
	}
	return p
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
