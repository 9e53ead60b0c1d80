// Package rgb565 provides the 16-bit color format used by the render
// buffers handed to the ST7735 panel.
//
// Pixels are stored as little-endian RGB565 words, the native layout of the
// host CPU. The transport sends each word most significant byte first, which
// is the order the panel expects.
package rgb565

import (
	"errors"
	"image"
	"image/color"
)

// Color is a 16-bit color: rrrrrggggggbbbbb.
type Color uint16

// New packs 8-bit channels into a Color, dropping the low bits.
func New(r, g, b uint8) Color {
	rr := uint16(r>>3) & 0x1F
	gg := uint16(g>>2) & 0x3F
	bb := uint16(b>>3) & 0x1F
	return Color(rr<<11 | gg<<5 | bb)
}

// RGB8 expands the color back to 8-bit channels.
func (c Color) RGB8() (r, g, b uint8) {
	r5 := uint8(c>>11) & 0x1F
	g6 := uint8(c>>5) & 0x3F
	b5 := uint8(c) & 0x1F
	// Replicate the high bits into the low bits so 0x1F maps to 0xFF.
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	r8, g8, b8 := c.RGB8()
	return uint32(r8) * 0x101, uint32(g8) * 0x101, uint32(b8) * 0x101, 0xFFFF
}

func toRGB565(c color.Color) color.Color {
	if v, ok := c.(Color); ok {
		return v
	}
	r, g, b, _ := c.RGBA()
	return New(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// Model converts colors to Color.
var Model = color.ModelFunc(toRGB565)

// Image is an RGB565 image with two bytes per pixel, low byte first.
type Image struct {
	Pix    []byte          // Pixel data (2 bytes per pixel)
	Stride int             // Bytes per row
	Rect   image.Rectangle // Image bounds
}

// NewImage creates a new Image with the specified bounds.
func NewImage(r image.Rectangle) *Image {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &Image{Rect: r}
	}
	return &Image{
		Pix:    make([]byte, w*h*2),
		Stride: w * 2,
		Rect:   r,
	}
}

// FromBytes wraps an existing buffer. The buffer must hold at least
// r.Dx()*r.Dy()*2 bytes; only that prefix is used.
func FromBytes(r image.Rectangle, buf []byte) (*Image, error) {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return nil, errors.New("rgb565: empty rectangle")
	}
	n := w * h * 2
	if len(buf) < n {
		return nil, errors.New("rgb565: buffer too small")
	}
	return &Image{Pix: buf[:n], Stride: w * 2, Rect: r}, nil
}

// ColorModel returns the color model of the image.
func (p *Image) ColorModel() color.Model {
	return Model
}

// Bounds returns the image bounds.
func (p *Image) Bounds() image.Rectangle {
	return p.Rect
}

// At implements image.Image.
func (p *Image) At(x, y int) color.Color {
	return p.RGB565At(x, y)
}

// RGB565At returns the color of the pixel at (x, y).
func (p *Image) RGB565At(x, y int) Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return 0
	}
	i := p.pixOffset(x, y)
	return Color(uint16(p.Pix[i]) | uint16(p.Pix[i+1])<<8)
}

// Set implements draw.Image.
func (p *Image) Set(x, y int, c color.Color) {
	p.SetRGB565(x, y, Model.Convert(c).(Color))
}

// SetRGB565 sets the pixel at (x, y) without color conversion.
func (p *Image) SetRGB565(x, y int, c Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i := p.pixOffset(x, y)
	p.Pix[i] = byte(c)
	p.Pix[i+1] = byte(c >> 8)
}

func (p *Image) pixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}
