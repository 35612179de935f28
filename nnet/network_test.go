package nnet

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnb666/fundus/num"
)

var layerOrder = []struct {
	name string
	kind LayerKind
}{
	{"input", InputLayer}, {"input2", InputLayer}, {"merge", MergeLayer},
	{"conv0", ConvLayer}, {"pool0", PoolLayer},
	{"conv1", ConvLayer}, {"pool1", PoolLayer},
	{"conv2", ConvLayer}, {"pool2", PoolLayer},
	{"conv3", ConvLayer}, {"pool3", PoolLayer},
	{"conv4", ConvLayer}, {"pool4", PoolLayer},
	{"merge2", ConcatLayer},
	{"dropouthidden1", DropoutLayer}, {"hidden1", DenseLayer}, {"maxout1", FeaturePoolLayer},
	{"dropouthidden2", DropoutLayer}, {"hidden2", DenseLayer}, {"maxout2", FeaturePoolLayer},
	{"dropouthidden3", DropoutLayer}, {"output", OutputLayer},
}

func testConfig(t *testing.T, overrides map[string]string) Config {
	conf, err := Resolve(DefaultConfig(), overrides)
	require.NoError(t, err)
	return conf
}

func TestBuild(t *testing.T) {
	conf := testConfig(t, nil)
	for _, kind := range []num.BackendKind{num.Generic, num.Fast, num.Legacy} {
		backend := num.NewBackend(kind)
		net, err := Build(conf, backend)
		require.NoError(t, err)
		t.Log(net)
		require.Len(t, net.Layers, len(layerOrder))
		for i, l := range layerOrder {
			assert.Equal(t, l.name, net.Layers[i].Name)
			assert.Equal(t, l.kind, net.Layers[i].Kind())
		}
		conv0 := net.Layers[3].Params.(Conv)
		assert.Equal(t, backend.Conv.Name(), conv0.Impl)
		assert.Equal(t, backend.Pool.Name(), net.Layers[4].Params.(MaxPool).Impl)
	}
}

func TestBuildShapes(t *testing.T) {
	net, err := Build(testConfig(t, nil), num.NewBackend(num.Generic))
	require.NoError(t, err)
	expect := map[string]struct {
		shape []int
		rows  int
	}{
		"input":   {[]int{3, 512, 512}, 1},
		"merge":   {[]int{3, 512, 512}, 2},
		"conv0":   {[]int{16, 254, 254}, 2},
		"pool0":   {[]int{16, 127, 127}, 2},
		"conv1":   {[]int{32, 127, 127}, 2},
		"pool4":   {[]int{128, 7, 7}, 2},
		"merge2":  {[]int{2 * 128 * 7 * 7}, 1},
		"hidden1": {[]int{1024}, 1},
		"maxout1": {[]int{512}, 1},
		"maxout2": {[]int{512}, 1},
		"output":  {[]int{5}, 1},
	}
	for name, e := range expect {
		l, ok := net.Layer(name)
		require.True(t, ok, name)
		assert.Equal(t, e.shape, l.OutShape, name)
		assert.Equal(t, e.rows, l.Rows, name)
	}
	filters := []int{}
	for _, l := range net.Layers {
		if c, ok := l.Params.(Conv); ok {
			filters = append(filters, c.Nfeats)
			assert.Equal(t, LeakyRectify(0.1), c.Activation)
		}
		if d, ok := l.Params.(Dropout); ok {
			assert.Equal(t, 0.5, d.P)
		}
	}
	assert.Equal(t, []int{16, 32, 64, 96, 128}, filters)
	assert.Equal(t, []int{3, 512, 512}, net.InputShape())
}

func TestBuildOutputLayer(t *testing.T) {
	for _, regression := range []bool{false, true} {
		for _, pixels := range []string{"512", "256"} {
			conf := testConfig(t, map[string]string{"regression": boolString(regression), "pixels": pixels})
			net, err := Build(conf, num.NewBackend(num.Legacy))
			require.NoError(t, err)
			out := net.OutLayer()
			t.Logf("regression=%v pixels=%s => %s", regression, pixels, out.ToString())
			if regression {
				assert.Equal(t, 1, out.Nout)
				assert.Equal(t, Identity, out.Activation)
			} else {
				assert.Equal(t, 5, out.Nout)
				assert.Equal(t, Softmax, out.Activation)
			}
		}
	}
}

func TestBuildErrors(t *testing.T) {
	// too small for the five pooling stages
	_, err := Build(testConfig(t, map[string]string{"pixels": "32"}), num.NewBackend(num.Generic))
	t.Log(err)
	require.Error(t, err)
	assert.Equal(t, ErrConfig, errors.Cause(err))

	// images are decoded as gray or RGB only
	conf := testConfig(t, nil)
	conf.Channels = 4
	for _, kind := range []num.BackendKind{num.Generic, num.Fast, num.Legacy} {
		_, err = Build(conf, num.NewBackend(kind))
		t.Log(err)
		assert.Equal(t, ErrConfig, errors.Cause(err))
	}
	conf.Channels = 1
	_, err = Build(conf, num.NewBackend(num.Legacy))
	assert.NoError(t, err)
}

func TestNetworkMarshal(t *testing.T) {
	backend := num.NewBackend(num.Fast)
	net, err := Build(testConfig(t, nil), backend)
	require.NoError(t, err)
	net2, err := FromConfig(net.Marshal(), backend, false)
	require.NoError(t, err)
	assert.Equal(t, net, net2)

	_, err = LayerConfig{Name: "x", Type: "lstm"}.Unmarshal()
	assert.Error(t, err)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
