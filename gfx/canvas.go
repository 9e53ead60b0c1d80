package gfx

import (
	"image"
	"image/color"

	"periph.io/x/devices/v3/st7735/rgb565"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/pixel"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

// Font is the font used by DrawText.
var Font tinyfont.Fonter = &proggy.TinySZ8pt7b

// Canvas is the full-frame drawing surface of a Display, in logical
// (rotated) coordinates. Every drawing call invalidates the touched area.
type Canvas struct {
	d    *Display
	img  pixel.Image[pixel.RGB565BE]
	w, h int
}

var _ drivers.Displayer = (*Canvas)(nil)

func newCanvas(d *Display, w, h int) *Canvas {
	return &Canvas{d: d, img: pixel.NewImage[pixel.RGB565BE](w, h), w: w, h: h}
}

// Size implements drivers.Displayer.
func (c *Canvas) Size() (x, y int16) {
	return int16(c.w), int16(c.h)
}

// SetPixel implements drivers.Displayer.
func (c *Canvas) SetPixel(x, y int16, col color.RGBA) {
	if x < 0 || y < 0 || int(x) >= c.w || int(y) >= c.h {
		return
	}
	c.img.Set(int(x), int(y), pixel.NewRGB565BE(col.R, col.G, col.B))
	c.d.Invalidate(image.Rect(int(x), int(y), int(x)+1, int(y)+1))
}

// Display implements drivers.Displayer. Pixels reach the panel from the
// render loop, so there is nothing to do here.
func (c *Canvas) Display() error {
	return nil
}

// At returns the color of the pixel at (x, y).
func (c *Canvas) At(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= c.w || y >= c.h {
		return color.RGBA{}
	}
	return c.img.Get(x, y).RGBA()
}

// Fill paints the whole canvas.
func (c *Canvas) Fill(col color.RGBA) {
	c.img.FillSolidColor(pixel.NewRGB565BE(col.R, col.G, col.B))
	c.d.Invalidate(image.Rect(0, 0, c.w, c.h))
}

// FillRect paints r, clipped to the canvas.
func (c *Canvas) FillRect(r image.Rectangle, col color.RGBA) {
	r = r.Intersect(image.Rect(0, 0, c.w, c.h))
	if r.Empty() {
		return
	}
	v := pixel.NewRGB565BE(col.R, col.G, col.B)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c.img.Set(x, y, v)
		}
	}
	c.d.Invalidate(r)
}

// DrawLine draws a line from p0 to p1 inclusive.
func (c *Canvas) DrawLine(p0, p1 image.Point, col color.RGBA) {
	dx, dy := abs(p1.X-p0.X), -abs(p1.Y-p0.Y)
	sx, sy := 1, 1
	if p0.X > p1.X {
		sx = -1
	}
	if p0.Y > p1.Y {
		sy = -1
	}
	e := dx + dy
	x, y := p0.X, p0.Y
	for {
		c.SetPixel(int16(x), int16(y), col)
		if x == p1.X && y == p1.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

// DrawText writes s with its baseline at y.
func (c *Canvas) DrawText(x, y int16, s string, col color.RGBA) {
	tinyfont.WriteLine(c, Font, x, y, s, col)
}

// TextWidth returns the width in pixels of s in Font.
func (c *Canvas) TextWidth(s string) int {
	_, w := tinyfont.LineWidth(Font, s)
	return int(w)
}

// render converts the band of the canvas into dst, whose origin maps to
// band.Min.
func (c *Canvas) render(dst *rgb565.Image, band image.Rectangle) {
	for y := band.Min.Y; y < band.Max.Y; y++ {
		for x := band.Min.X; x < band.Max.X; x++ {
			p := c.img.Get(x, y).RGBA()
			dst.SetRGB565(x-band.Min.X, y-band.Min.Y, rgb565.New(p.R, p.G, p.B))
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
