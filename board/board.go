// Package board brings up a ST7735 panel and runs its render loop.
//
// A Worker owns the board's peripherals: a 1 ms tick timer, an asynchronous
// bus and the chip-select, data/command and reset lines. Init takes them
// through INIT (timer, bus, transport) and RESET_SEQUENCE (hardware reset,
// panel init, render buffers); Run then refreshes the display forever.
package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/devices/v3/st7735"
	"periph.io/x/devices/v3/st7735/gfx"
	"periph.io/x/devices/v3/st7735/tick"
	"periph.io/x/devices/v3/st7735/transport"
	"tinygo.org/x/drivers"
)

// State is the lifecycle stage of a Worker.
type State uint32

const (
	StateInit State = iota
	StateResetSequence
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateResetSequence:
		return "RESET_SEQUENCE"
	case StateRunning:
		return "RUNNING"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// TimerDevice is a periodic hardware timer. The handler runs in the timer's
// own context once per period after Start. *tick.Timer implements it.
type TimerDevice interface {
	Open(handler func()) error
	Start() error
}

// Peripherals are the board resources the worker owns.
type Peripherals struct {
	Timer TimerDevice
	Bus   transport.Bus
	CS    gpio.PinOut
	DC    gpio.PinOut
	RST   gpio.PinOut
}

// Policy decides what a fatal bring-up or transfer failure does.
type Policy uint8

const (
	// PolicyAbort panics, halting the worker like a failed assertion.
	PolicyAbort Policy = iota
	// PolicyReturn returns the failure to the caller.
	PolicyReturn
)

// ErrAlloc is returned when a render buffer cannot be allocated.
var ErrAlloc = errors.New("board: render buffer allocation failed")

// Allocator provides the render buffers.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap, up to Limit bytes in use when
// Limit is positive.
type HeapAllocator struct {
	Limit int

	mu   sync.Mutex
	used int
}

// Alloc returns a zeroed buffer of n bytes.
func (a *HeapAllocator) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrAlloc, n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Limit > 0 && a.used+n > a.Limit {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAlloc, n, a.used, a.Limit)
	}
	a.used += n
	return make([]byte, n), nil
}

// Free returns b to the allocator.
func (a *HeapAllocator) Free(b []byte) {
	a.mu.Lock()
	a.used -= len(b)
	a.mu.Unlock()
}

// Used returns the number of bytes currently allocated.
func (a *HeapAllocator) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Config is the board configuration. The zero value is a 128x128 BGR-less
// panel with 20-line double buffers.
type Config struct {
	W, H     int // Panel size (default: 128x128)
	BufLines int // Rows per render buffer (default: 20)

	Flags            st7735.Flags
	OffsetX, OffsetY int
	Rotation         drivers.Rotation

	ResetShort time.Duration // RST low pulse (default: 10ms)
	ResetLong  time.Duration // Wait after reset (default: 120ms)
	LoopDelay  time.Duration // Delay between refreshes (default: 10ms)

	// TransferTimeout bounds each bus transfer. 0 waits forever.
	TransferTimeout time.Duration

	Clock     clockwork.Clock // default: real clock
	Policy    Policy
	Allocator Allocator // default: unlimited HeapAllocator
	Log       *log.Logger

	// Scene, if set, draws the initial screen once the panel is up.
	Scene func(d *gfx.Display)
}

// InitResult is the outcome of Worker.Init.
type InitResult struct {
	State   State // Stage reached, or the stage that failed
	Display *gfx.Display
	Panel   *st7735.Dev
	Driver  *transport.Driver
	Err     error
}

// OK reports whether the bring-up succeeded.
func (r InitResult) OK() bool {
	return r.Err == nil
}

// Worker runs one panel.
type Worker struct {
	p     Peripherals
	cfg   Config
	log   *log.Logger
	ticks tick.Counter
	state atomic.Uint32

	mu  sync.Mutex
	res InitResult
}

// New creates a worker. cfg can be nil to use defaults.
func New(p Peripherals, cfg *Config) *Worker {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.W == 0 {
		c.W = 128
	}
	if c.H == 0 {
		c.H = 128
	}
	if c.BufLines == 0 {
		c.BufLines = 20
	}
	if c.ResetShort == 0 {
		c.ResetShort = 10 * time.Millisecond
	}
	if c.ResetLong == 0 {
		c.ResetLong = 120 * time.Millisecond
	}
	if c.LoopDelay == 0 {
		c.LoopDelay = 10 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Allocator == nil {
		c.Allocator = &HeapAllocator{}
	}
	l := c.Log
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	return &Worker{p: p, cfg: c, log: l}
}

// Ticks returns the millisecond counter advanced by the timer handler.
func (w *Worker) Ticks() *tick.Counter {
	return &w.ticks
}

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Init brings up the timer, the bus and the panel, and registers the render
// buffers. Under PolicyAbort a failure panics.
func (w *Worker) Init() InitResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s := w.State(); s != StateInit {
		return InitResult{State: s, Err: fmt.Errorf("board: cannot initialize in state %s", s)}
	}
	w.log.Printf("st7735: bringing up %dx%d panel", w.cfg.W, w.cfg.H)

	if w.p.Timer == nil || w.p.Bus == nil || w.p.RST == nil {
		return w.fail(StateInit, errors.New("board: timer, bus and reset pin are required"))
	}
	if err := w.p.Timer.Open(w.onTick); err != nil {
		return w.fail(StateInit, fmt.Errorf("board: timer open: %w", err))
	}
	if err := w.p.Timer.Start(); err != nil {
		return w.fail(StateInit, fmt.Errorf("board: timer start: %w", err))
	}
	if err := w.p.Bus.Open(); err != nil {
		return w.fail(StateInit, fmt.Errorf("board: bus open: %w", err))
	}
	drv, err := transport.NewDriver(w.p.Bus, w.p.CS, w.p.DC, &transport.DriverOpts{
		Timeout: w.cfg.TransferTimeout,
		Clock:   w.cfg.Clock,
	})
	if err != nil {
		return w.fail(StateInit, err)
	}
	w.res.Driver = drv

	w.state.Store(uint32(StateResetSequence))
	if err := w.reset(); err != nil {
		return w.fail(StateResetSequence, err)
	}

	panel, err := st7735.Create(&st7735.Opts{
		W:       w.cfg.W,
		H:       w.cfg.H,
		Flags:   w.cfg.Flags,
		OffsetX: w.cfg.OffsetX,
		OffsetY: w.cfg.OffsetY,
		Ticks:   &w.ticks,
		Clock:   w.cfg.Clock,
	}, func(_ *gfx.Display, cmd, param []byte) error {
		return drv.SendCommand(cmd, param)
	}, func(d *gfx.Display, cmd, param []byte) error {
		return drv.SendPixels(d, cmd, param)
	})
	if err != nil {
		return w.fail(StateResetSequence, err)
	}
	w.res.Panel = panel
	w.res.Display = panel.Display()

	if err := panel.SetRotation(w.cfg.Rotation); err != nil {
		return w.fail(StateResetSequence, err)
	}
	if err := w.registerBuffers(w.res.Display); err != nil {
		return w.fail(StateResetSequence, err)
	}
	if w.cfg.Scene != nil {
		w.cfg.Scene(w.res.Display)
	}

	w.state.Store(uint32(StateRunning))
	w.res.State = StateRunning
	w.log.Printf("st7735: %s ready", panel)
	return w.res
}

// Run initializes the worker if needed and refreshes the display every
// LoopDelay until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	res := w.Result()
	if w.State() == StateInit {
		res = w.Init()
	}
	if res.Err != nil {
		return res.Err
	}
	if s, ok := w.p.Timer.(interface{ Stop() }); ok {
		defer s.Stop()
	}
	for {
		if err := res.Display.TimerHandler(); err != nil {
			return w.renderFailed(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.cfg.Clock.After(w.cfg.LoopDelay):
		}
	}
}

// Result returns the last InitResult.
func (w *Worker) Result() InitResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.res
}

func (w *Worker) renderFailed(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fail(StateRunning, fmt.Errorf("board: render: %w", err)).Err
}

func (w *Worker) onTick() {
	w.ticks.Inc(1)
}

// reset pulses the reset line with chip-select deasserted.
func (w *Worker) reset() error {
	if err := w.p.CS.Out(gpio.High); err != nil {
		return fmt.Errorf("board: failed to pull CS high: %w", err)
	}
	if err := w.p.RST.Out(gpio.High); err != nil {
		return fmt.Errorf("board: failed to pull RST high: %w", err)
	}
	if err := w.p.RST.Out(gpio.Low); err != nil {
		return fmt.Errorf("board: failed to pull RST low: %w", err)
	}
	w.cfg.Clock.Sleep(w.cfg.ResetShort)
	if err := w.p.RST.Out(gpio.High); err != nil {
		return fmt.Errorf("board: failed to pull RST high: %w", err)
	}
	w.cfg.Clock.Sleep(w.cfg.ResetLong)
	return nil
}

// registerBuffers allocates two render buffers of BufLines rows and hands
// them to d in partial mode. Rows are sized for the longer panel side so the
// buffers hold BufLines rows in any rotation.
func (w *Worker) registerBuffers(d *gfx.Display) error {
	size := max(w.cfg.W, w.cfg.H) * w.cfg.BufLines * gfx.BytesPerPixel

	buf1, err := w.cfg.Allocator.Alloc(size)
	if err != nil {
		return fmt.Errorf("board: first render buffer: %w", err)
	}
	buf2, err := w.cfg.Allocator.Alloc(size)
	if err != nil {
		w.cfg.Allocator.Free(buf1)
		return fmt.Errorf("board: second render buffer: %w", err)
	}
	if err := d.SetBuffers(buf1, buf2, gfx.RenderModePartial); err != nil {
		w.cfg.Allocator.Free(buf2)
		w.cfg.Allocator.Free(buf1)
		return fmt.Errorf("board: %w", err)
	}
	w.log.Printf("st7735: render buffers 2x%d bytes, %s mode", size, gfx.RenderModePartial)
	return nil
}

// fail records a failure at stage s and applies the policy. w.mu is held.
func (w *Worker) fail(s State, err error) InitResult {
	w.state.Store(uint32(StateFailed))
	w.res.State = s
	w.res.Err = err
	w.log.Printf("st7735: %s failed: %v", s, err)
	if w.cfg.Policy == PolicyAbort {
		panic(err)
	}
	return w.res
}
