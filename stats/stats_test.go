package stats

import (
	"bufio"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverage(t *testing.T) {
	var s Average
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(x)
	}
	t.Log(&s)
	assert.Equal(t, 8.0, s.Count)
	assert.InDelta(t, 5, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7), s.StdDev, 1e-12)
}

func TestAverageEmpty(t *testing.T) {
	var s Average
	assert.Equal(t, "-", s.String())
	s.Add(12)
	assert.Equal(t, "12.0", s.String())
}

func TestEMA(t *testing.T) {
	assert.Equal(t, 3.0, EMA(0).Add(3, 10))
	assert.InDelta(t, 1+2.0/11, EMA(1).Add(2, 10), 1e-12)
}

func TestQuadraticKappa(t *testing.T) {
	tests := []struct {
		a, b  []int
		kappa float64
	}{
		{[]int{0, 1, 2, 3, 4}, []int{0, 1, 2, 3, 4}, 1},
		{[]int{0, 0, 4, 4}, []int{4, 4, 0, 0}, -1},
		{[]int{2, 2, 2}, []int{2, 2, 2}, 1},
		// weighted disagreement observed 1/16, expected 5/16
		{[]int{0, 1, 1, 2}, []int{0, 1, 2, 2}, 0.8},
	}
	for _, test := range tests {
		k, err := QuadraticKappa(test.a, test.b, 5)
		require.NoError(t, err)
		t.Logf("%v %v => %.4f", test.a, test.b, k)
		assert.InDelta(t, test.kappa, k, 1e-9)
	}
	_, err := QuadraticKappa([]int{1}, []int{1, 2}, 5)
	assert.Error(t, err)
	_, err = QuadraticKappa([]int{5}, []int{1}, 5)
	assert.Error(t, err)
	_, err = QuadraticKappa(nil, nil, 5)
	assert.Error(t, err)
}

func TestMultiSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	mem := &MemorySink{}
	m := MultiSink{failSink{}, NewLogSink(log.NewEntry(logger)), mem, failSink{}}
	rec := EpochRecord{Epoch: 1, TrainLoss: 1.5, ValidLoss: 1.25, Score: 0.3, Best: true, Elapsed: time.Second}
	err := m.Record(rec)
	t.Log(err)
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "sink failed"))
	// later sinks still called
	assert.Equal(t, []EpochRecord{rec}, mem.Records)
	require.Len(t, hook.AllEntries(), 1)
	assert.Contains(t, hook.LastEntry().Message, "kappa = 0.3000 *")
}

func TestJSONSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	s, err := NewJSONSink(path)
	require.NoError(t, err)
	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, s.Record(EpochRecord{Epoch: epoch, Score: float64(epoch) / 10}))
	}
	require.NoError(t, s.Close())
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scan := bufio.NewScanner(f)
	n := 0
	for scan.Scan() {
		var rec EpochRecord
		require.NoError(t, json.Unmarshal(scan.Bytes(), &rec))
		n++
		assert.Equal(t, n, rec.Epoch)
	}
	assert.Equal(t, 3, n)
}

func TestPlotSink(t *testing.T) {
	s := NewPlotSink(t.TempDir(), "net")
	for epoch := 1; epoch <= 4; epoch++ {
		require.NoError(t, s.Record(EpochRecord{Epoch: epoch, TrainLoss: 2 / float64(epoch), ValidLoss: 2.5 / float64(epoch), Score: 0.1 * float64(epoch)}))
	}
	require.NoError(t, s.Record(EpochRecord{Epoch: 5, ValidLoss: math.NaN(), Score: math.NaN()}))
	loss, kappa := s.Files()
	for _, path := range []string{loss, kappa} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "<svg")
	}
	require.NoError(t, s.Close())
}

type failSink struct{}

func (failSink) Record(EpochRecord) error { return errors.New("sink failed") }

func (failSink) Close() error { return nil }
