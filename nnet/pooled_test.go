package nnet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnb666/fundus/num"
)

// batch where both eyes of each subject are filled with a value derived from its label
func pooledBatch(labels []float32, value func(y float32) float32) *Batch {
	shape := []int{3, 2, 2}
	n := num.Prod(shape)
	b := &Batch{Epoch: 1, Labels: labels, Shape: shape}
	for i, y := range labels {
		b.Index = append(b.Index, i)
		for eye := range b.Inputs {
			for j := 0; j < n; j++ {
				b.Inputs[eye] = append(b.Inputs[eye], value(y)+0.1*float32(eye))
			}
		}
	}
	return b
}

func TestPooledModelClassify(t *testing.T) {
	net, err := Build(testConfig(t, nil), num.NewBackend(num.Generic))
	require.NoError(t, err)
	m := NewPooledModel(net, rand.New(rand.NewSource(1)))
	assert.Equal(t, 3, m.Channels)
	assert.Equal(t, 5, m.Outputs)

	labels := []float32{0, 1, 2, 0, 1, 2, 0, 1}
	b := pooledBatch(labels, func(y float32) float32 { return y - 1 })
	h := Hyper{LearningRate: 0.1, Momentum: 0.9}
	first, err := m.TrainBatch(b, h)
	require.NoError(t, err)
	var loss float64
	for i := 0; i < 2000; i++ {
		loss, err = m.TrainBatch(b, h)
		require.NoError(t, err)
	}
	t.Logf("loss %.4f => %.4f", first, loss)
	assert.Less(t, loss, first)

	vloss, out, err := m.Evaluate(b)
	require.NoError(t, err)
	assert.InDelta(t, loss, vloss, 0.1)
	require.Len(t, out, len(labels)*5)
	assert.Equal(t, LabelClasses(labels, 5), Decode(out, 5, 5))

	b.Shape = []int{1, 2, 2}
	_, err = m.TrainBatch(b, h)
	assert.Error(t, err)
}

func TestPooledModelRegression(t *testing.T) {
	net, err := Build(testConfig(t, map[string]string{"regression": "true"}), num.NewBackend(num.Generic))
	require.NoError(t, err)
	m := NewPooledModel(net, rand.New(rand.NewSource(1)))
	assert.Equal(t, 1, m.Outputs)
	labels := []float32{0, 1, 2, 3, 4, 2}
	b := pooledBatch(labels, func(y float32) float32 { return y / 4 })
	h := Hyper{LearningRate: 0.05, Momentum: 0.9}
	first, err := m.TrainBatch(b, h)
	require.NoError(t, err)
	var loss float64
	for i := 0; i < 500; i++ {
		loss, err = m.TrainBatch(b, h)
		require.NoError(t, err)
	}
	t.Logf("loss %.4f => %.4f", first, loss)
	assert.Less(t, loss, first)
}

func TestPooledModelMarshal(t *testing.T) {
	net, err := Build(testConfig(t, nil), num.NewBackend(num.Generic))
	require.NoError(t, err)
	m := NewPooledModel(net, rand.New(rand.NewSource(2)))
	b := pooledBatch([]float32{0, 3, 4}, func(y float32) float32 { return y })
	_, err = m.TrainBatch(b, Hyper{LearningRate: 0.1, Momentum: 0.9})
	require.NoError(t, err)

	data, err := m.MarshalBinary()
	require.NoError(t, err)
	m2 := new(PooledModel)
	require.NoError(t, m2.UnmarshalBinary(data))
	assert.Equal(t, m.W.RawMatrix().Data, m2.W.RawMatrix().Data)
	loss1, out1, err := m.Evaluate(b)
	require.NoError(t, err)
	loss2, out2, err := m2.Evaluate(b)
	require.NoError(t, err)
	assert.Equal(t, loss1, loss2)
	assert.Equal(t, out1, out2)

	assert.Error(t, m2.UnmarshalBinary([]byte("junk")))
}
