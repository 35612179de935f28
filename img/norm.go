package img

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jnb666/fundus/stats"
)

// NormStats holds the per channel mean and standard deviation of the training images.
// It is read only once loaded and may be shared between goroutines.
type NormStats struct {
	Mean   []float32 `json:"mean"`
	StdDev []float32 `json:"std"`
}

// StatsFile returns the path to the mean and stddev file under dir.
func StatsFile(dir string, circularized bool) string {
	if circularized {
		return filepath.Join(dir, "mean_std_circ.json")
	}
	return filepath.Join(dir, "mean_std.json")
}

// LoadNormStats reads the stats file written by Save.
func LoadNormStats(dir string, circularized bool) (NormStats, error) {
	var s NormStats
	path := StatsFile(dir, circularized)
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err = json.Unmarshal(data, &s); err != nil {
		return s, errors.Wrapf(err, "parse %s", path)
	}
	return s, s.validate(len(s.Mean))
}

// Save writes the stats to a JSON file under dir.
func (s NormStats) Save(dir string, circularized bool) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(StatsFile(dir, circularized), data, 0644)
}

func (s NormStats) validate(channels int) error {
	if channels == 0 || len(s.Mean) != channels || len(s.StdDev) != channels {
		return fmt.Errorf("normalisation stats have %d mean and %d stddev values, expecting %d",
			len(s.Mean), len(s.StdDev), channels)
	}
	for _, sd := range s.StdDev {
		if sd <= 0 {
			return fmt.Errorf("normalisation stddev must be positive: %v", s.StdDev)
		}
	}
	return nil
}

// Normalise writes (pixel - mean) / stddev for each channel of src to dst, which must have
// the same number of elements as src.
func (s NormStats) Normalise(src *Image, dst []float32) error {
	if err := s.validate(src.Channels); err != nil {
		return err
	}
	if len(dst) != len(src.Pix) {
		return fmt.Errorf("normalise: buffer size %d does not match image size %d", len(dst), len(src.Pix))
	}
	plane := src.Width * src.Height
	for ch := 0; ch < src.Channels; ch++ {
		out := dst[ch*plane : (ch+1)*plane]
		for i, val := range src.Pixels(ch) {
			out[i] = (val - s.Mean[ch]) / s.StdDev[ch]
		}
	}
	return nil
}

// GetStats calculates the mean and stddev from a set of images. If circularized is set only
// pixels inside the circle inscribed in the image, i.e. the fundus itself, are included.
func GetStats(images []*Image, circularized bool) NormStats {
	if len(images) == 0 {
		return NormStats{}
	}
	channels := images[0].Channels
	stat := make([]*stats.Average, channels)
	for i := range stat {
		stat[i] = new(stats.Average)
	}
	for _, img := range images {
		w, h := img.Width, img.Height
		for ch, s := range stat {
			pix := img.Pixels(ch)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					if circularized && !inCircle(x, y, w, h) {
						continue
					}
					s.Add(float64(pix[x+y*w]))
				}
			}
		}
	}
	res := NormStats{Mean: make([]float32, channels), StdDev: make([]float32, channels)}
	for i, s := range stat {
		res.Mean[i] = float32(s.Mean)
		res.StdDev[i] = float32(s.StdDev)
	}
	log.WithField("circularized", circularized).Infof("mean = %.3f stddev = %.3f", res.Mean, res.StdDev)
	return res
}

func inCircle(x, y, w, h int) bool {
	r := float64(min(w, h)) / 2
	dx := float64(x) + 0.5 - float64(w)/2
	dy := float64(y) + 0.5 - float64(h)/2
	return dx*dx+dy*dy <= r*r
}
