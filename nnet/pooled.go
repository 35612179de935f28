package nnet

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/jnb666/fundus/img"
)

// PooledModel is a small CPU reference model for the bilateral network. Each eye image is
// reduced to its per channel mean, the features of both eyes are concatenated as in the
// merge2 layer and fed to a dense output layer trained with Nesterov momentum.
type PooledModel struct {
	Channels   int
	Outputs    int
	Regression bool
	W          *mat.Dense
	v          *mat.Dense
}

type pooledWeights struct {
	Channels, Outputs int
	Regression        bool
	Weights           []float64
}

// NewPooledModel creates a model with small random initial weights for the given network.
func NewPooledModel(net *Network, rng *rand.Rand) *PooledModel {
	m := &PooledModel{
		Channels:   net.InputShape()[0],
		Outputs:    net.OutLayer().Nout,
		Regression: net.Regression,
	}
	m.init()
	data := m.W.RawMatrix().Data
	for i := range data {
		data[i] = rng.NormFloat64() * 0.01
	}
	return m
}

func (m *PooledModel) init() {
	m.W = mat.NewDense(m.Outputs, m.nfeat(), nil)
	m.v = mat.NewDense(m.Outputs, m.nfeat(), nil)
}

// two eyes times channels plus bias
func (m *PooledModel) nfeat() int { return 2*m.Channels + 1 }

func (m *PooledModel) features(b *Batch) (*mat.Dense, error) {
	if len(b.Shape) != 3 || b.Shape[0] != m.Channels {
		return nil, fmt.Errorf("pooled model: input shape %v does not match %d channels", b.Shape, m.Channels)
	}
	plane := b.Shape[1] * b.Shape[2]
	x := mat.NewDense(b.Len(), m.nfeat(), nil)
	for i := 0; i < b.Len(); i++ {
		for _, eye := range []img.Eye{img.Left, img.Right} {
			in := b.Input(eye, i)
			for ch := 0; ch < m.Channels; ch++ {
				var sum float64
				for _, v := range in[ch*plane : (ch+1)*plane] {
					sum += float64(v)
				}
				x.Set(i, int(eye)*m.Channels+ch, sum/float64(plane))
			}
		}
		x.Set(i, 2*m.Channels, 1)
	}
	return x, nil
}

// returns outputs and the mean loss with its gradient wrt the pre-activation outputs
func (m *PooledModel) forward(x *mat.Dense, labels []float32) (out, grad *mat.Dense, loss float64) {
	n, _ := x.Dims()
	out = mat.NewDense(n, m.Outputs, nil)
	out.Mul(x, m.W.T())
	grad = mat.NewDense(n, m.Outputs, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		if m.Regression {
			d := row[0] - float64(labels[i])
			loss += d * d
			grad.Set(i, 0, 2*d/float64(n))
			continue
		}
		softmax(row)
		y := clipClass(labels[i], m.Outputs)
		loss -= math.Log(math.Max(row[y], 1e-12))
		for j, p := range row {
			if j == y {
				p -= 1
			}
			grad.Set(i, j, p/float64(n))
		}
	}
	return out, grad, loss / float64(n)
}

func softmax(row []float64) {
	top := row[0]
	for _, v := range row[1:] {
		top = math.Max(top, v)
	}
	var sum float64
	for j, v := range row {
		row[j] = math.Exp(v - top)
		sum += row[j]
	}
	for j := range row {
		row[j] /= sum
	}
}

// TrainBatch implements the Model interface.
func (m *PooledModel) TrainBatch(b *Batch, h Hyper) (float64, error) {
	x, err := m.features(b)
	if err != nil {
		return 0, err
	}
	_, grad, loss := m.forward(x, b.Labels)
	var g mat.Dense
	g.Mul(grad.T(), x)
	// v = mu*v - lr*g; w += mu*v - lr*g
	g.Scale(-h.LearningRate, &g)
	m.v.Scale(h.Momentum, m.v)
	m.v.Add(m.v, &g)
	var step mat.Dense
	step.Scale(h.Momentum, m.v)
	step.Add(&step, &g)
	m.W.Add(m.W, &step)
	return loss, nil
}

// Evaluate implements the Model interface.
func (m *PooledModel) Evaluate(b *Batch) (float64, []float32, error) {
	x, err := m.features(b)
	if err != nil {
		return 0, nil, err
	}
	out, _, loss := m.forward(x, b.Labels)
	raw := out.RawMatrix().Data
	res := make([]float32, len(raw))
	for i, v := range raw {
		res[i] = float32(v)
	}
	return loss, res, nil
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (m *PooledModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := pooledWeights{Channels: m.Channels, Outputs: m.Outputs, Regression: m.Regression}
	w.Weights = append(w.Weights, m.W.RawMatrix().Data...)
	err := gob.NewEncoder(&buf).Encode(w)
	return buf.Bytes(), err
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (m *PooledModel) UnmarshalBinary(data []byte) error {
	var w pooledWeights
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	if len(w.Weights) != w.Outputs*(2*w.Channels+1) {
		return fmt.Errorf("pooled model: got %d weights for %d outputs and %d channels", len(w.Weights), w.Outputs, w.Channels)
	}
	m.Channels, m.Outputs, m.Regression = w.Channels, w.Outputs, w.Regression
	m.init()
	copy(m.W.RawMatrix().Data, w.Weights)
	return nil
}
