package gfx

import (
	"image"

	"periph.io/x/devices/v3/st7735/rgb565"
)

// refresh renders area band by band. With two buffers the next band is
// rendered while the previous one is still being flushed.
func (d *Display) refresh(area image.Rectangle) error {
	rows := len(d.bufs[0]) / (area.Dx() * BytesPerPixel)
	if rows > area.Dy() {
		rows = area.Dy()
	}
	for y := area.Min.Y; y < area.Max.Y; y += rows {
		band := image.Rect(area.Min.X, y, area.Max.X, min(y+rows, area.Max.Y))
		if d.bufs[1] == nil {
			d.waitIdle()
		}
		img, err := rgb565.FromBytes(image.Rect(0, 0, band.Dx(), band.Dy()), d.bufs[d.active])
		if err != nil {
			return err
		}
		d.canvas.render(img, band)

		<-d.ready
		if err := d.flush(d, band, img.Pix); err != nil {
			d.FlushReady()
			return err
		}
		if d.bufs[1] != nil {
			d.active ^= 1
		}
	}
	d.waitIdle()
	return nil
}

// waitIdle blocks until no flush is in progress.
func (d *Display) waitIdle() {
	<-d.ready
	d.ready <- struct{}{}
}
