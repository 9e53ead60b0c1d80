package st7735

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/devices/v3/st7735/gfx"
	"periph.io/x/devices/v3/st7735/tick"
	"tinygo.org/x/drivers"
)

// SendCmdFunc sends a short command and its parameters and returns once the
// transaction is finished.
type SendCmdFunc func(d *gfx.Display, cmd, param []byte) error

// SendColorFunc sends a command followed by pixel data. It must call
// d.FlushReady once param may be reused.
type SendColorFunc func(d *gfx.Display, cmd, param []byte) error

// Flags describe how the panel is wired on the module.
type Flags uint8

const (
	FlagBGR     Flags = 1 << iota // Blue and red subpixels are swapped
	FlagInvert                    // Panel needs color inversion
	FlagMirrorX                   // Column order is reversed
	FlagMirrorY                   // Row order is reversed
)

// Opts is the configuration for the ST7735 panel.
type Opts struct {
	// Display dimensions in pixels
	W int // Width (default: 128, must be ≤132)
	H int // Height (default: 128, must be ≤162)

	Flags Flags

	// RAM offset of the first visible pixel, for modules smaller than the
	// controller RAM.
	OffsetX, OffsetY int

	// Ticks times the render loop of the display (required).
	Ticks *tick.Counter

	// Clock provides the init sequence delays (default: real clock).
	Clock clockwork.Clock
}

// Dev is the device handle for the ST7735 panel.
type Dev struct {
	disp      *gfx.Display
	sendCmd   SendCmdFunc
	sendColor SendColorFunc
	clock     clockwork.Clock

	flags      Flags
	offX, offY int
}

// ST7735 commands.
const (
	cmdSWRESET = 0x01 // Software reset
	cmdSLPIN   = 0x10 // Sleep in
	cmdSLPOUT  = 0x11 // Sleep out
	cmdNORON   = 0x13 // Normal display mode on
	cmdINVOFF  = 0x20 // Display inversion off
	cmdINVON   = 0x21 // Display inversion on
	cmdDISPOFF = 0x28 // Display off
	cmdDISPON  = 0x29 // Display on
	cmdCASET   = 0x2A // Column address set
	cmdRASET   = 0x2B // Row address set
	cmdRAMWR   = 0x2C // Memory write
	cmdMADCTL  = 0x36 // Memory data access control
	cmdCOLMOD  = 0x3A // Interface pixel format
	cmdFRMCTR1 = 0xB1 // Frame rate control, normal mode
	cmdFRMCTR2 = 0xB2 // Frame rate control, idle mode
	cmdFRMCTR3 = 0xB3 // Frame rate control, partial mode
	cmdINVCTR  = 0xB4 // Display inversion control
	cmdPWCTR1  = 0xC0
	cmdPWCTR2  = 0xC1
	cmdPWCTR3  = 0xC2
	cmdPWCTR4  = 0xC3
	cmdPWCTR5  = 0xC4
	cmdVMCTR1  = 0xC5 // VCOM control
	cmdGMCTRP1 = 0xE0 // Positive gamma correction
	cmdGMCTRN1 = 0xE1 // Negative gamma correction
)

// MADCTL bits.
const (
	madctlMY  = 0x80
	madctlMX  = 0x40
	madctlMV  = 0x20
	madctlBGR = 0x08
)

const (
	maxW = 132
	maxH = 162
)

type initCmd struct {
	cmd   byte
	param []byte
	delay time.Duration
}

// initSequence is the power-on sequence for ST7735R panels. MADCTL, COLMOD
// and inversion are sent separately since they depend on Opts.
var initSequence = []initCmd{
	{cmdSWRESET, nil, 150 * time.Millisecond},
	// 120ms is the longest delay needed before commands are accepted in
	// sleep out mode.
	{cmdSLPOUT, nil, 120 * time.Millisecond},
	{cmdFRMCTR1, []byte{0x01, 0x2C, 0x2D}, 0},
	{cmdFRMCTR2, []byte{0x01, 0x2C, 0x2D}, 0},
	{cmdFRMCTR3, []byte{0x01, 0x2C, 0x2D, 0x01, 0x2C, 0x2D}, 0},
	{cmdINVCTR, []byte{0x07}, 0},
	{cmdPWCTR1, []byte{0xA2, 0x02, 0x84}, 0},
	{cmdPWCTR2, []byte{0xC5}, 0},
	{cmdPWCTR3, []byte{0x0A, 0x00}, 0},
	{cmdPWCTR4, []byte{0x8A, 0x2A}, 0},
	{cmdPWCTR5, []byte{0x8A, 0xEE}, 0},
	{cmdVMCTR1, []byte{0x0E}, 0},
	{cmdCOLMOD, []byte{0x05}, 0}, // 16-bit color
	{cmdGMCTRP1, []byte{
		0x02, 0x1C, 0x07, 0x12, 0x37, 0x32, 0x29, 0x2D,
		0x29, 0x25, 0x2B, 0x39, 0x00, 0x01, 0x03, 0x10,
	}, 0},
	{cmdGMCTRN1, []byte{
		0x03, 0x1D, 0x07, 0x06, 0x2E, 0x2C, 0x29, 0x2D,
		0x2E, 0x2E, 0x37, 0x3F, 0x00, 0x00, 0x02, 0x10,
	}, 0},
}

// Create initializes the panel and returns its handle.
//
// sendCmd carries every command of the init sequence and the window
// addressing; sendColor carries pixel data. opts can be nil to use defaults
// (128x128) except that Ticks is required.
func Create(opts *Opts, sendCmd SendCmdFunc, sendColor SendColorFunc) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	if sendCmd == nil || sendColor == nil {
		return nil, errors.New("st7735: both send callbacks are required")
	}
	w, h := opts.W, opts.H
	if w == 0 {
		w = 128
	}
	if h == 0 {
		h = 128
	}
	if w < 0 || w > maxW {
		return nil, fmt.Errorf("st7735: width must be between 1 and %d", maxW)
	}
	if h < 0 || h > maxH {
		return nil, fmt.Errorf("st7735: height must be between 1 and %d", maxH)
	}
	if opts.OffsetX < 0 || opts.OffsetY < 0 || w+opts.OffsetX > maxW || h+opts.OffsetY > maxH {
		return nil, errors.New("st7735: offset places the display outside controller RAM")
	}

	disp, err := gfx.NewDisplay(w, h, opts.Ticks)
	if err != nil {
		return nil, fmt.Errorf("st7735: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := &Dev{
		disp:      disp,
		sendCmd:   sendCmd,
		sendColor: sendColor,
		clock:     clock,
		flags:     opts.Flags,
		offX:      opts.OffsetX,
		offY:      opts.OffsetY,
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	disp.SetFlushFunc(d.flush)
	return d, nil
}

// init sends the initialization sequence to the panel.
func (d *Dev) init() error {
	for _, c := range initSequence {
		if err := d.command(c.cmd, c.param...); err != nil {
			return err
		}
		if c.delay > 0 {
			d.clock.Sleep(c.delay)
		}
	}

	inv := byte(cmdINVOFF)
	if d.flags&FlagInvert != 0 {
		inv = cmdINVON
	}
	if err := d.command(inv); err != nil {
		return err
	}
	if err := d.command(cmdMADCTL, d.madctl(drivers.Rotation0)); err != nil {
		return err
	}
	if err := d.command(cmdNORON); err != nil {
		return err
	}
	d.clock.Sleep(10 * time.Millisecond)
	if err := d.command(cmdDISPON); err != nil {
		return err
	}
	d.clock.Sleep(100 * time.Millisecond)
	return nil
}

// command sends a command byte and its parameters.
func (d *Dev) command(cmd byte, param ...byte) error {
	if err := d.sendCmd(d.disp, []byte{cmd}, param); err != nil {
		return fmt.Errorf("st7735: command %#02x: %w", cmd, err)
	}
	return nil
}

// madctl returns the memory access control value for rotation r.
func (d *Dev) madctl(r drivers.Rotation) byte {
	var m byte
	switch r % 4 {
	case drivers.Rotation0:
	case drivers.Rotation90:
		m = madctlMX | madctlMV
	case drivers.Rotation180:
		m = madctlMX | madctlMY
	case drivers.Rotation270:
		m = madctlMY | madctlMV
	}
	mirrorX := d.flags&FlagMirrorX != 0
	if r >= drivers.Rotation0Mirror {
		mirrorX = !mirrorX
	}
	if mirrorX {
		m ^= madctlMX
	}
	if d.flags&FlagMirrorY != 0 {
		m ^= madctlMY
	}
	if d.flags&FlagBGR != 0 {
		m |= madctlBGR
	}
	return m
}

// flush addresses the window covering area and writes px into it.
func (d *Dev) flush(disp *gfx.Display, area image.Rectangle, px []byte) error {
	offX, offY := d.offX, d.offY
	if r := disp.Rotation() % 4; r == drivers.Rotation90 || r == drivers.Rotation270 {
		offX, offY = offY, offX
	}
	x0, x1 := area.Min.X+offX, area.Max.X-1+offX
	y0, y1 := area.Min.Y+offY, area.Max.Y-1+offY

	if err := d.command(cmdCASET, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	if err := d.command(cmdRASET, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1)); err != nil {
		return err
	}
	if err := d.sendColor(disp, []byte{cmdRAMWR}, px); err != nil {
		return fmt.Errorf("st7735: memory write: %w", err)
	}
	return nil
}

// Display returns the render handle of the panel.
func (d *Dev) Display() *gfx.Display {
	return d.disp
}

// SetRotation rotates the panel and the display's coordinate space.
func (d *Dev) SetRotation(r drivers.Rotation) error {
	if r > drivers.Rotation270Mirror {
		return fmt.Errorf("st7735: invalid rotation %d", r)
	}
	if err := d.command(cmdMADCTL, d.madctl(r)); err != nil {
		return err
	}
	d.disp.SetRotation(r)
	return nil
}

// SetGap sets the RAM offset of the first visible pixel.
func (d *Dev) SetGap(x, y int) error {
	w, h := d.disp.Size()
	if r := d.disp.Rotation() % 4; r == drivers.Rotation90 || r == drivers.Rotation270 {
		w, h = h, w
	}
	if x < 0 || y < 0 || w+x > maxW || h+y > maxH {
		return errors.New("st7735: offset places the display outside controller RAM")
	}
	d.offX, d.offY = x, y
	return nil
}

// Invert turns color inversion on or off.
func (d *Dev) Invert(invert bool) error {
	mode := byte(cmdINVOFF)
	if invert != (d.flags&FlagInvert != 0) {
		mode = cmdINVON
	}
	return d.command(mode)
}

// Halt turns the display off and puts the controller to sleep.
func (d *Dev) Halt() error {
	if err := d.command(cmdDISPOFF); err != nil {
		return err
	}
	return d.command(cmdSLPIN)
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	w, h := d.disp.Size()
	return fmt.Sprintf("st7735.Dev{%dx%d}", w, h)
}
