package nnet

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jnb666/fundus/img"
	"github.com/jnb666/fundus/num"
)

// memSource returns constant images: subject sN has value N in the left eye and N+0.5 in the right
type memSource struct {
	channels, pixels int
	fail             string
	mu               sync.Mutex
	loads            int
}

func (s *memSource) Load(key string, eye img.Eye) (*img.Image, error) {
	if key == s.fail {
		return nil, fmt.Errorf("cannot read %s", key)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(key, "s"))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	m := img.NewImage(s.channels, s.pixels, s.pixels)
	for i := range m.Pix {
		m.Pix[i] = float32(id) + 0.5*float32(eye)
	}
	return m, nil
}

var unitNorm = img.NormStats{Mean: []float32{0, 0, 0}, StdDev: []float32{1, 1, 1}}

func subjectKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("s%d", i)
	}
	return keys
}

type testProbe struct {
	kind num.DeviceKind
	fast bool
}

func (p testProbe) Device() num.Descriptor {
	return num.Descriptor{Kind: p.kind, Name: "test", Threads: 2}
}

func (p testProbe) FastConvAvailable() bool { return p.fast }

func (p testProbe) LoadFastConv() error { return nil }

// writes a label file with n subjects, two rows per subject, and the normalisation stats
func writeTestData(t *testing.T, n int) string {
	dir := t.TempDir()
	lines := []string{"image,level"}
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf("s%d_left,%d", i, i%5), fmt.Sprintf("s%d_right,%d", i, (i+1)%5/2))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trainLabels.csv"), []byte(strings.Join(lines, "\n")+"\n"), 0644))
	require.NoError(t, unitNorm.Save(dir, false))
	require.NoError(t, img.NormStats{Mean: []float32{1, 1, 1}, StdDev: []float32{2, 2, 2}}.Save(dir, true))
	return dir
}

func testRunConfig(t *testing.T, dir string, overrides map[string]string) Config {
	o := map[string]string{
		"image_source": dir,
		"label_file":   filepath.Join(dir, "trainLabels.csv"),
		"pixels":       "128",
		"batch_size":   "4",
		"max_epochs":   "3",
		"augment":      "false",
	}
	for k, v := range overrides {
		o[k] = v
	}
	return testConfig(t, o)
}
