package nnet

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLabels(t *testing.T) {
	data := "image,level\n10_left,0\n10_right,2\n13_left,1\n13_right,0\n15_left,4\n"
	lt, err := ReadLabels(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "13", "15"}, lt.Keys)
	assert.Equal(t, []float32{2, 1, 4}, lt.Labels)
	assert.Equal(t, []int{0, 1, 2}, lt.Index())
	assert.NoError(t, lt.CheckClasses(5))
	assert.Error(t, lt.CheckClasses(4))

	lt, err = ReadLabels(strings.NewReader("Subject, Label\na,0.5\nb,3.25\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lt.Keys)
	assert.Equal(t, []float32{0.5, 3.25}, lt.Labels)
	assert.Error(t, lt.CheckClasses(5))

	for _, bad := range []string{"", "name,grade\na,1\n", "image,level\na,x\n", "image,level\n"} {
		_, err := ReadLabels(strings.NewReader(bad))
		t.Logf("%q => %v", bad, err)
		assert.Error(t, err)
	}
}

func TestLabelSubset(t *testing.T) {
	lt := &LabelTable{Keys: subjectKeys(10), Labels: make([]float32, 10)}
	assert.Equal(t, 4, lt.Subset(4).Len())
	assert.Equal(t, []string{"s0", "s1", "s2", "s3"}, lt.Subset(4).Keys)
	assert.Same(t, lt, lt.Subset(0))
	assert.Same(t, lt, lt.Subset(20))
}

func TestLoadLabels(t *testing.T) {
	dir := writeTestData(t, 7)
	lt, err := LoadLabels(filepath.Join(dir, "trainLabels.csv"))
	require.NoError(t, err)
	assert.Equal(t, 7, lt.Len())
	for i, y := range lt.Labels {
		assert.Equal(t, float32(i%5), y)
	}
	_, err = LoadLabels(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestRandomSplitStratified(t *testing.T) {
	counts := []int{73, 7, 15, 3, 2}
	var labels []float32
	for c, n := range counts {
		for i := 0; i < n; i++ {
			labels = append(labels, float32(c))
		}
	}
	rand.New(rand.NewSource(1)).Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	p := RandomSplit(labels, 0.1, true, rand.New(rand.NewSource(42)))
	t.Log(p)
	require.NoError(t, p.Validate(len(labels)))
	assert.Len(t, p.XValid, 10)
	assert.Len(t, p.XTrain, 90)
	valid := make([]int, 5)
	for i, ix := range p.XValid {
		assert.Equal(t, labels[ix], p.YValid[i])
		valid[int(p.YValid[i])]++
	}
	assert.Equal(t, []int{7, 1, 2, 0, 0}, valid)
	for i, ix := range p.XTrain {
		assert.Equal(t, labels[ix], p.YTrain[i])
	}

	p2 := RandomSplit(labels, 0.1, true, rand.New(rand.NewSource(42)))
	assert.Equal(t, p, p2)
}

func TestRandomSplitSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 10; n <= 60; n++ {
		labels := make([]float32, n)
		for i := range labels {
			labels[i] = float32(rng.Intn(5))
		}
		for _, stratify := range []bool{false, true} {
			for _, evalSize := range []float64{0.1, 0.2, 0.25} {
				p := RandomSplit(labels, evalSize, stratify, rng)
				require.NoError(t, p.Validate(n))
				assert.Equal(t, int(math.Round(evalSize*float64(n))), len(p.XValid), "n=%d eval=%g stratify=%v", n, evalSize, stratify)
				assert.Equal(t, n, len(p.XTrain)+len(p.XValid))
			}
		}
	}
}

func TestPartitionValidate(t *testing.T) {
	ok := Partition{XTrain: []int{0, 2}, YTrain: []float32{0, 1}, XValid: []int{1}, YValid: []float32{2}}
	assert.NoError(t, ok.Validate(3))
	tests := []Partition{
		{XTrain: []int{0, 1}, YTrain: []float32{0, 1}, XValid: []int{1}, YValid: []float32{2}},
		{XTrain: []int{0, 5}, YTrain: []float32{0, 1}, XValid: []int{1}, YValid: []float32{2}},
		{XTrain: []int{0, 2}, YTrain: []float32{0}, XValid: []int{1}, YValid: []float32{2}},
		{XTrain: []int{0, 2}, YTrain: []float32{0, 1}},
	}
	for _, p := range tests {
		err := p.Validate(3)
		t.Log(err)
		assert.Error(t, err)
	}
}

func TestPartitionFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadPartition(dir)
	t.Log(err)
	require.Error(t, err)
	assert.Equal(t, ErrMissingSplitFiles, errors.Cause(err))

	p := Partition{XTrain: []int{0, 3, 4, 7}, YTrain: []float32{0, 3, 4, 2}, XValid: []int{1, 2}, YValid: []float32{1, 2}}
	require.NoError(t, p.Save(dir))
	p2, err := LoadPartition(dir)
	require.NoError(t, err)
	assert.Equal(t, p, p2)

	require.NoError(t, os.Remove(filepath.Join(dir, "y_valid.npy")))
	_, err = LoadPartition(dir)
	assert.Equal(t, ErrMissingSplitFiles, errors.Cause(err))
	assert.Contains(t, err.Error(), "y_valid.npy")
}
