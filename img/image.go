// Package img contains routines for loading, normalising and transforming fundus images.
package img

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

var (
	GrayModel = color.ModelFunc(grayModel)
	RGBModel  = color.ModelFunc(rgbModel)
)

// Gray color stored a float in range 0-1
type Gray struct {
	Y float32
}

func (c Gray) RGBA() (r, g, b, a uint32) {
	y := clampu(c.Y, 0, 1)
	return y, y, y, 0xffff
}

func grayModel(c color.Color) color.Color {
	if _, ok := c.(Gray); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return Gray{Y: 0.299*float32(r)/0xffff + 0.587*float32(g)/0xffff + 0.114*float32(b)/0xffff}
}

// RGB color is stored as a float for each channel with values in range 0-1
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// Image type stores the pixel data as float32 values with each colour plane stored separately
// in row major order, i.e. the channels, height, width layout used by the network input.
// It has either 1 (gray) or 3 (rgb) channels.
type Image struct {
	Pix      []float32
	Channels int
	Height   int
	Width    int
}

// NewImage allocates a new blank image.
func NewImage(channels, width, height int) *Image {
	return &Image{Pix: make([]float32, channels*height*width), Channels: channels, Height: height, Width: width}
}

// NewImageLike allocates a blank image with the same size as src.
func NewImageLike(src *Image) *Image {
	return NewImage(src.Channels, src.Width, src.Height)
}

// FromImage converts src to a float image, resampling it to pixels x pixels if the size differs.
func FromImage(src image.Image, channels, pixels int) (*Image, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported number of channels: %d", channels)
	}
	b := src.Bounds()
	if b.Dx() != pixels || b.Dy() != pixels {
		dst := image.NewRGBA(image.Rect(0, 0, pixels, pixels))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		src, b = dst, dst.Bounds()
	}
	m := NewImage(channels, pixels, pixels)
	for y := 0; y < pixels; y++ {
		for x := 0; x < pixels; x++ {
			m.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return m, nil
}

func (m *Image) ColorModel() color.Model {
	if m.Channels == 1 {
		return GrayModel
	}
	return RGBModel
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Image) At(x, y int) color.Color {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		if m.Channels == 1 {
			return Gray{}
		}
		return RGB{}
	}
	pos := x + y*m.Width
	if m.Channels == 1 {
		return Gray{Y: m.Pix[pos]}
	}
	plane := m.Width * m.Height
	return RGB{R: m.Pix[pos], G: m.Pix[pos+plane], B: m.Pix[pos+2*plane]}
}

func (m *Image) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	pos := x + y*m.Width
	if m.Channels == 1 {
		m.Pix[pos] = grayModel(c).(Gray).Y
		return
	}
	plane := m.Width * m.Height
	rgb := rgbModel(c).(RGB)
	m.Pix[pos] = rgb.R
	m.Pix[pos+plane] = rgb.G
	m.Pix[pos+2*plane] = rgb.B
}

// Pixels returns the data for one colour plane.
func (m *Image) Pixels(ch int) []float32 {
	plane := m.Width * m.Height
	if ch >= 0 && ch < m.Channels {
		return m.Pix[ch*plane : (ch+1)*plane]
	}
	return m.Pix
}

// Shape returns channels, height, width.
func (m *Image) Shape() []int {
	return []int{m.Channels, m.Height, m.Width}
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}
