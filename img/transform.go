package img

import (
	"math"
	"math/rand"
	"sort"
	"strings"
)

// Types of image transformations
type TransType int

const NoTrans TransType = 0

const (
	Scale TransType = 1 << iota
	Rotate
	HorizFlip
	Pan
)

// Default set of transforms for fundus images.
var FundusTrans = Scale | Rotate | HorizFlip | Pan

var transTypeNames = map[TransType]string{
	Scale:     "Scale",
	Rotate:    "Rotate",
	HorizFlip: "HorizFlip",
	Pan:       "Pan",
}

func (t TransType) String() string {
	if t == NoTrans {
		return "None"
	}
	s := []string{}
	for key, name := range transTypeNames {
		if t&key != 0 {
			s = append(s, name)
		}
	}
	sort.Strings(s)
	return strings.Join(s, " ")
}

var (
	MaxScale  = 0.1
	MaxRotate = 180.0
	PanPixels = 8
)

// Augmenter applies a random transformation to an image. Implementations must be safe to call
// from multiple goroutines, each with its own random source.
type Augmenter interface {
	Transform(m *Image, rng *rand.Rand) *Image
}

// Transformer applies a random sequence of the selected transformations to each image.
// Amount scales the size of the distortions from 0 (none) to 1.
type Transformer struct {
	Amount float64
	Trans  TransType
}

// Create a new transformer object which applies a sequency of image transformations
func NewTransformer(trans TransType) *Transformer {
	return &Transformer{Amount: 1, Trans: trans}
}

// Transform returns a new transformed image, src is not modified.
func (t *Transformer) Transform(src *Image, rng *rand.Rand) *Image {
	img := src
	if t.Trans&(Scale|Rotate) != 0 {
		img = t.affine(img, rng)
	}
	w, h := img.Width, img.Height
	if t.Trans&HorizFlip != 0 && rng.Float64() > 0.5 {
		img = transform(img, func(x, y int) (int, int) { return w - x - 1, y })
	}
	if t.Trans&Pan != 0 {
		off := int(float64(PanPixels)*t.Amount + 0.5)
		if lim := min(w, h) / 2; off > lim {
			off = lim
		}
		ox := rng.Intn(2*off+1) - off
		oy := rng.Intn(2*off+1) - off
		if ox != 0 || oy != 0 {
			img = transform(img, func(x, y int) (int, int) { return wrap(x-ox, w), wrap(y-oy, h) })
		}
	}
	return img
}

// scale and rotate about the image centre with bilinear interpolation
func (t *Transformer) affine(src *Image, rng *rand.Rand) *Image {
	w, h := src.Width, src.Height
	var sx, sy float32
	if t.Trans&Scale != 0 {
		sx = float32(t.Amount*MaxScale) * (2*rng.Float32() - 1)
		sy = float32(t.Amount*MaxScale) * (2*rng.Float32() - 1)
	}
	var sina, cosa float32
	if t.Trans&Rotate != 0 {
		angle := t.Amount * MaxRotate * (math.Pi / 180) * (2*rng.Float64() - 1)
		sa, ca := math.Sincos(angle)
		sina, cosa = float32(sa), float32(ca-1)
	}
	dst := NewImageLike(src)
	for ch := 0; ch < src.Channels; ch++ {
		in, out := src.Pixels(ch), dst.Pixels(ch)
		at := func(x, y int) float32 {
			if x < 0 || x >= w || y < 0 || y >= h {
				return 0
			}
			return in[x+y*w]
		}
		for y := 0; y < h; y++ {
			ym := float32(2*y-h+1) / 2
			for x := 0; x < w; x++ {
				xm := float32(2*x-w+1) / 2
				xv := float32(x) + xm*(sx+cosa) - ym*sina
				yv := float32(y) + ym*(sy+cosa) + xm*sina
				ix, iy := int(math.Floor(float64(xv))), int(math.Floor(float64(yv)))
				xf, yf := xv-float32(ix), yv-float32(iy)
				avg0 := at(ix, iy)*(1-xf) + at(ix+1, iy)*xf
				avg1 := at(ix, iy+1)*(1-xf) + at(ix+1, iy+1)*xf
				out[x+y*w] = avg0*(1-yf) + avg1*yf
			}
		}
	}
	return dst
}

func transform(src *Image, fn func(x, y int) (int, int)) *Image {
	dst := NewImageLike(src)
	plane := src.Width * src.Height
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			sx, sy := fn(x, y)
			for ch := 0; ch < src.Channels; ch++ {
				dst.Pix[ch*plane+x+y*src.Width] = src.Pix[ch*plane+sx+sy*src.Width]
			}
		}
	}
	return dst
}

func wrap(x, dx int) int {
	if x < 0 {
		return -x - 1
	}
	if x >= dx {
		return 2*dx - x - 1
	}
	return x
}
