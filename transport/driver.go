package transport

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
)

// FlushNotifier is told when a pixel buffer handed to SendPixels may be
// reused. *gfx.Display implements it.
type FlushNotifier interface {
	FlushReady()
}

// DriverOpts is the configuration of a Driver.
type DriverOpts struct {
	// Timeout bounds each completion wait. 0 waits forever.
	Timeout time.Duration
	// Clock drives the timeout (default: real clock).
	Clock clockwork.Clock
}

// Stats counts bus activity since the Driver was created.
type Stats struct {
	Writes uint64 // transfers started on the bus
	Waits  uint64 // transfers acknowledged by the bus
}

// Driver sends command and pixel transactions to the panel. It owns the bus,
// the chip-select line and the command/data line for the duration of each
// transaction. Its methods must not be called concurrently.
type Driver struct {
	bus  Bus
	cs   gpio.PinOut
	dc   gpio.PinOut
	done *Completion

	writes atomic.Uint64
	waits  atomic.Uint64
}

// NewDriver binds a driver to an opened bus and the two control lines. It
// registers the completion callback on the bus.
func NewDriver(bus Bus, cs, dc gpio.PinOut, opts *DriverOpts) (*Driver, error) {
	if bus == nil {
		return nil, errors.New("st7735: nil bus")
	}
	if cs == nil || dc == nil {
		return nil, errors.New("st7735: chip-select and data/command pins are required")
	}
	if opts == nil {
		opts = &DriverOpts{}
	}
	if opts.Timeout < 0 {
		return nil, errors.New("st7735: negative transfer timeout")
	}
	d := &Driver{
		bus:  bus,
		cs:   cs,
		dc:   dc,
		done: NewCompletion(opts.Clock, opts.Timeout),
	}
	bus.OnComplete(d.done.Signal)
	return d, nil
}

// SendCommand sends cmd in command mode then, if present, param in data
// mode, with chip-select held low across both phases. It returns once both
// transfers are acknowledged.
func (d *Driver) SendCommand(cmd, param []byte) error {
	return d.transact(cmd, param, Width8)
}

// SendPixels is SendCommand for pixel data: the data phase is sent as 16-bit
// words, len(px)/2 of them. Once the transfer is acknowledged and
// chip-select released, n is told the buffer is free.
func (d *Driver) SendPixels(n FlushNotifier, cmd, px []byte) error {
	if err := d.transact(cmd, px, Width16); err != nil {
		return err
	}
	if n != nil {
		n.FlushReady()
	}
	return nil
}

// Recover drops a transfer left outstanding by a timeout, for hosts that
// know the bus is idle again. A late completion is otherwise picked up by
// the next transaction.
func (d *Driver) Recover() {
	d.done.Reset()
}

// Stats returns the bus activity counters.
func (d *Driver) Stats() Stats {
	return Stats{Writes: d.writes.Load(), Waits: d.waits.Load()}
}

func (d *Driver) transact(cmd, param []byte, w Width) (err error) {
	if len(cmd) == 0 {
		return errors.New("st7735: empty command")
	}
	if err := d.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("st7735: failed to pull DC low: %w", err)
	}
	if err := d.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("st7735: failed to pull CS low: %w", err)
	}
	defer func() {
		if e := d.cs.Out(gpio.High); e != nil && err == nil {
			err = fmt.Errorf("st7735: failed to pull CS high: %w", e)
		}
	}()

	if err := d.write(cmd, len(cmd), Width8); err != nil {
		return err
	}
	if len(param) == 0 {
		return nil
	}
	if err := d.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("st7735: failed to pull DC high: %w", err)
	}
	units := len(param)
	if w == Width16 {
		units /= 2
	}
	return d.write(param, units, w)
}

func (d *Driver) write(p []byte, units int, w Width) error {
	if err := d.done.Arm(); err != nil {
		return err
	}
	if err := d.bus.Write(p, units, w); err != nil {
		d.done.disarm()
		return fmt.Errorf("st7735: bus write: %w", err)
	}
	d.writes.Add(1)
	if err := d.done.Wait(); err != nil {
		return err
	}
	d.waits.Add(1)
	return nil
}
