package gfx

import (
	"image"
	"image/color"
)

// Series is one line of a Chart.
type Series struct {
	Color  color.RGBA
	Points []int
}

// Chart is a line chart with horizontal division lines.
type Chart struct {
	Rect       image.Rectangle
	Min, Max   int // value range mapped to the chart height
	Divisions  int // horizontal division lines
	Background color.RGBA
	Border     color.RGBA
	Grid       color.RGBA
	Title      string
	TitleColor color.RGBA
	Series     []Series
}

// Draw renders the chart on c.
func (ch *Chart) Draw(c *Canvas) {
	r := ch.Rect
	if r.Dx() < 2 || r.Dy() < 2 {
		return
	}
	c.FillRect(r, ch.Background)

	for i := 1; i <= ch.Divisions; i++ {
		y := r.Min.Y + i*(r.Dy()-1)/(ch.Divisions+1)
		c.DrawLine(image.Pt(r.Min.X, y), image.Pt(r.Max.X-1, y), ch.Grid)
	}

	tl, br := r.Min, r.Max.Sub(image.Pt(1, 1))
	c.DrawLine(tl, image.Pt(br.X, tl.Y), ch.Border)
	c.DrawLine(image.Pt(br.X, tl.Y), br, ch.Border)
	c.DrawLine(br, image.Pt(tl.X, br.Y), ch.Border)
	c.DrawLine(image.Pt(tl.X, br.Y), tl, ch.Border)

	for _, s := range ch.Series {
		var prev image.Point
		for i, v := range s.Points {
			p := ch.point(i, len(s.Points), v)
			if i > 0 {
				c.DrawLine(prev, p, s.Color)
			}
			prev = p
		}
	}

	if ch.Title != "" {
		c.DrawText(int16(r.Min.X+2), int16(r.Min.Y+8), ch.Title, ch.TitleColor)
	}
}

// point maps the i-th of n values to canvas coordinates.
func (ch *Chart) point(i, n, v int) image.Point {
	r := ch.Rect
	x := r.Min.X
	if n > 1 {
		x += i * (r.Dx() - 1) / (n - 1)
	}
	if v < ch.Min {
		v = ch.Min
	}
	if v > ch.Max {
		v = ch.Max
	}
	y := r.Max.Y - 1
	if span := ch.Max - ch.Min; span > 0 {
		y -= (v - ch.Min) * (r.Dy() - 1) / span
	}
	return image.Pt(x, y)
}
