package num

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	kind      DeviceKind
	fast      bool
	loadErr   error
	loadCalls int
}

func (p *fakeProbe) Device() Descriptor {
	return Descriptor{Kind: p.kind, Name: "fake", Threads: 4, Features: []string{"avx2"}}
}
func (p *fakeProbe) FastConvAvailable() bool { return p.fast }
func (p *fakeProbe) LoadFastConv() error {
	p.loadCalls++
	return p.loadErr
}

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		probe   *fakeProbe
		disable bool
		kind    BackendKind
		conv    string
		pool    string
	}{
		{probe: &fakeProbe{kind: CPU}, kind: Generic, conv: "conv2d", pool: "maxpool2d"},
		{probe: &fakeProbe{kind: CPU, fast: true}, kind: Generic, conv: "conv2d", pool: "maxpool2d"},
		{probe: &fakeProbe{kind: GPU, fast: true}, kind: Fast, conv: "conv2d_dnn", pool: "maxpool2d_dnn"},
		{probe: &fakeProbe{kind: GPU, fast: true}, disable: true, kind: Legacy, conv: "conv2d_cc", pool: "maxpool2d_cc"},
		{probe: &fakeProbe{kind: GPU}, kind: Legacy, conv: "conv2d_cc", pool: "maxpool2d_cc"},
	}
	for _, test := range tests {
		b := SelectBackend(test.probe, test.disable)
		t.Logf("device=%s fast=%v disable=%v => %s", test.probe.kind, test.probe.fast, test.disable, b)
		assert.Equal(t, test.kind, b.Kind)
		assert.Equal(t, test.conv, b.Conv.Name())
		assert.Equal(t, test.pool, b.Pool.Name())
		assert.NoError(t, b.Fallback)
	}
}

func TestSelectBackendLogsDevice(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	SelectBackend(&fakeProbe{kind: CPU}, false)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	t.Log(entry.Message, entry.Data)
	assert.Equal(t, CPU, entry.Data["device"])
	assert.Equal(t, []string{"avx2"}, entry.Data["features"])
}

func TestSelectBackendNotLoadedWhenDisabled(t *testing.T) {
	p := &fakeProbe{kind: GPU, fast: true}
	SelectBackend(p, true)
	assert.Equal(t, 0, p.loadCalls)
}

func TestSelectBackendFallback(t *testing.T) {
	for _, loadErr := range []error{fmt.Errorf("undefined symbol"), ErrBackendUnavailable} {
		p := &fakeProbe{kind: GPU, fast: true, loadErr: loadErr}
		b := SelectBackend(p, false)
		t.Log(b, b.Fallback)
		assert.Equal(t, Legacy, b.Kind)
		require.Error(t, b.Fallback)
		assert.True(t, errors.Is(b.Fallback, ErrBackendUnavailable))
	}
}

func TestLegacyConstraints(t *testing.T) {
	b := NewBackend(Legacy)
	ok := ConvGeom{Channels: 3, Height: 512, Width: 512, Filters: 16, Size: 5, Stride: 2}
	assert.NoError(t, b.Conv.CheckConv(ok))

	bad := ok
	bad.Filters = 24
	assert.Error(t, b.Conv.CheckConv(bad))
	bad = ok
	bad.Channels = 6
	assert.Error(t, b.Conv.CheckConv(bad))
	bad = ok
	bad.Width = 256
	assert.Error(t, b.Conv.CheckConv(bad))

	// the generic backend accepts any valid window
	assert.NoError(t, NewBackend(Generic).Conv.CheckConv(bad))

	assert.NoError(t, b.Pool.CheckPool(PoolGeom{Channels: 16, Height: 254, Width: 254, Size: 2, Stride: 2}))
	assert.Error(t, b.Pool.CheckPool(PoolGeom{Channels: 16, Height: 254, Width: 254, Size: 2, Stride: 3}))
	assert.Error(t, NewBackend(Fast).Pool.CheckPool(PoolGeom{Channels: 16, Height: 1, Width: 1, Size: 2, Stride: 2}))
}
