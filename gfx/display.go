// Package gfx is the minimal render-loop surface the panel glue plugs into.
//
// A Display owns a full-frame Canvas that application code draws on, and two
// render buffers registered by the board. TimerHandler converts the dirty part
// of the canvas into the render buffers band by band and hands each band to
// the flush function; the transport calls FlushReady once a band has left the
// buffer.
package gfx

import (
	"errors"
	"fmt"
	"image"

	"periph.io/x/devices/v3/st7735/tick"
	"tinygo.org/x/drivers"
)

// RenderMode selects how much of the frame a render buffer covers.
type RenderMode uint8

const (
	// RenderModePartial renders the dirty area in bands as tall as the
	// buffers allow.
	RenderModePartial RenderMode = iota
	// RenderModeFull renders the whole frame in one buffer on every refresh.
	RenderModeFull
)

func (m RenderMode) String() string {
	switch m {
	case RenderModePartial:
		return "partial"
	case RenderModeFull:
		return "full"
	}
	return fmt.Sprintf("RenderMode(%d)", uint8(m))
}

// BytesPerPixel is the size of one RGB565 pixel in a render buffer.
const BytesPerPixel = 2

// DefaultRefreshPeriod is the minimum number of ticks between two refreshes.
const DefaultRefreshPeriod = 33

// FlushFunc sends px, the RGB565 pixels of area, to the panel. The callee
// calls d.FlushReady once px may be reused.
type FlushFunc func(d *Display, area image.Rectangle, px []byte) error

// Display is the handle to one panel.
type Display struct {
	w, h     int // native (unrotated) size
	rotation drivers.Rotation
	ticks    *tick.Counter
	period   uint32
	last     uint32
	started  bool

	flush  FlushFunc
	bufs   [2][]byte
	active int
	mode   RenderMode
	ready  chan struct{}

	canvas *Canvas
	dirty  image.Rectangle
}

// NewDisplay creates a display of the given native size timed by ticks.
func NewDisplay(w, h int, ticks *tick.Counter) (*Display, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.New("gfx: display size must be positive")
	}
	if ticks == nil {
		return nil, errors.New("gfx: nil tick counter")
	}
	d := &Display{
		w:      w,
		h:      h,
		ticks:  ticks,
		period: DefaultRefreshPeriod,
		ready:  make(chan struct{}, 1),
	}
	d.ready <- struct{}{}
	d.canvas = newCanvas(d, w, h)
	return d, nil
}

// SetFlushFunc registers the function sending rendered bands to the panel.
func (d *Display) SetFlushFunc(f FlushFunc) {
	d.flush = f
}

// SetRefreshPeriod sets the minimum number of ticks between refreshes.
func (d *Display) SetRefreshPeriod(ticks uint32) {
	d.period = ticks
}

// SetRotation rotates the logical coordinate space. The canvas is recreated
// at the rotated size and fully invalidated.
func (d *Display) SetRotation(r drivers.Rotation) {
	if r == d.rotation {
		return
	}
	d.rotation = r
	w, h := d.Size()
	d.canvas = newCanvas(d, w, h)
	d.Invalidate(d.Bounds())
}

// Rotation returns the current rotation.
func (d *Display) Rotation() drivers.Rotation {
	return d.rotation
}

// Size returns the logical size after rotation.
func (d *Display) Size() (w, h int) {
	switch d.rotation % 4 {
	case drivers.Rotation90, drivers.Rotation270:
		return d.h, d.w
	}
	return d.w, d.h
}

// Bounds returns the logical bounds after rotation.
func (d *Display) Bounds() image.Rectangle {
	w, h := d.Size()
	return image.Rect(0, 0, w, h)
}

// ColorDepth returns the render buffer color depth in bits.
func (d *Display) ColorDepth() int {
	return BytesPerPixel * 8
}

// SetBuffers registers the render buffers. buf2 may be nil for single
// buffering. In full mode each buffer must hold a whole frame; in partial
// mode at least one row.
func (d *Display) SetBuffers(buf1, buf2 []byte, mode RenderMode) error {
	if buf1 == nil {
		return errors.New("gfx: first buffer is required")
	}
	if buf2 != nil && len(buf2) != len(buf1) {
		return errors.New("gfx: buffers must have the same size")
	}
	switch mode {
	case RenderModePartial:
		// One row in any rotation.
		if len(buf1) < max(d.w, d.h)*BytesPerPixel {
			return fmt.Errorf("gfx: buffer of %d bytes holds less than one row", len(buf1))
		}
	case RenderModeFull:
		if len(buf1) < d.w*d.h*BytesPerPixel {
			return fmt.Errorf("gfx: buffer of %d bytes holds less than one frame", len(buf1))
		}
	default:
		return fmt.Errorf("gfx: unknown render mode %s", mode)
	}
	d.bufs = [2][]byte{buf1, buf2}
	d.active = 0
	d.mode = mode
	d.Invalidate(d.Bounds())
	return nil
}

// Buffers returns the registered render buffers.
func (d *Display) Buffers() (buf1, buf2 []byte) {
	return d.bufs[0], d.bufs[1]
}

// RenderMode returns the mode set with SetBuffers.
func (d *Display) RenderMode() RenderMode {
	return d.mode
}

// FlushReady tells the display the last flushed buffer is free again. It may
// be called from any goroutine; extra calls are ignored.
func (d *Display) FlushReady() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// Flushing reports whether a flushed buffer has not been released yet.
func (d *Display) Flushing() bool {
	return len(d.ready) == 0
}

// Canvas returns the drawing surface.
func (d *Display) Canvas() *Canvas {
	return d.canvas
}

// Invalidate marks r for redraw on the next refresh.
func (d *Display) Invalidate(r image.Rectangle) {
	r = r.Intersect(d.Bounds())
	if r.Empty() {
		return
	}
	d.dirty = d.dirty.Union(r)
}

// Dirty returns the area pending redraw.
func (d *Display) Dirty() image.Rectangle {
	return d.dirty
}

// TimerHandler runs one step of the render loop: once the refresh period has
// elapsed it renders and flushes the dirty area. It blocks while a previous
// flush still holds a buffer it needs.
func (d *Display) TimerHandler() error {
	now := d.ticks.Load()
	if d.started && d.ticks.Elapsed(d.last) < d.period {
		return nil
	}
	d.started = true
	d.last = now

	if d.dirty.Empty() {
		return nil
	}
	if d.flush == nil {
		return errors.New("gfx: no flush function")
	}
	if d.bufs[0] == nil {
		return errors.New("gfx: no render buffers")
	}
	area := d.dirty
	if d.mode == RenderModeFull {
		area = d.Bounds()
	}
	d.dirty = image.Rectangle{}
	if err := d.refresh(area); err != nil {
		// Redraw everything not known to have reached the panel.
		d.dirty = d.dirty.Union(area)
		return err
	}
	return nil
}
