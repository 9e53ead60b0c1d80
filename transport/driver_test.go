package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// trace is an ordered log of pin, bus and notification events.
type trace struct {
	mu sync.Mutex
	ev []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	t.ev = append(t.ev, s)
	t.mu.Unlock()
}

func (t *trace) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ev...)
}

type recordPin struct {
	gpiotest.Pin
	tr *trace
}

func (p *recordPin) Out(l gpio.Level) error {
	p.tr.add(p.N + "=" + l.String())
	return p.Pin.Out(l)
}

type busWrite struct {
	data  []byte
	units int
	width Width
}

// fakeBus completes every transfer from its own goroutine, optionally
// holding the completion until hold is closed.
type fakeBus struct {
	tr   *trace
	hold chan struct{}
	err  error

	mu     sync.Mutex
	done   func()
	writes []busWrite
}

func (b *fakeBus) Open() error { return nil }

func (b *fakeBus) OnComplete(fn func()) {
	b.mu.Lock()
	b.done = fn
	b.mu.Unlock()
}

func (b *fakeBus) Write(p []byte, units int, w Width) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	b.writes = append(b.writes, busWrite{append([]byte(nil), p...), units, w})
	done := b.done
	b.mu.Unlock()
	b.tr.add(fmt.Sprintf("write %s x%d", w, units))
	go func() {
		if b.hold != nil {
			<-b.hold
		}
		b.tr.add("irq")
		done()
	}()
	return nil
}

type notifier struct {
	tr *trace
	mu sync.Mutex
	n  int
}

func (n *notifier) FlushReady() {
	n.tr.add("ready")
	n.mu.Lock()
	n.n++
	n.mu.Unlock()
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.n
}

func newTestDriver(t *testing.T, opts *DriverOpts) (*Driver, *fakeBus, *trace) {
	t.Helper()
	tr := &trace{}
	bus := &fakeBus{tr: tr}
	cs := &recordPin{Pin: gpiotest.Pin{N: "CS", L: gpio.High}, tr: tr}
	dc := &recordPin{Pin: gpiotest.Pin{N: "DC"}, tr: tr}
	d, err := NewDriver(bus, cs, dc, opts)
	if err != nil {
		t.Fatal(err)
	}
	return d, bus, tr
}

func equalEvents(t *testing.T, got, want []string) {
	t.Helper()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("events:\n got %v\nwant %v", got, want)
	}
}

func TestNewDriverValidation(t *testing.T) {
	pin := &gpiotest.Pin{N: "P"}
	bus := &fakeBus{tr: &trace{}}
	tests := []struct {
		name string
		bus  Bus
		cs   gpio.PinOut
		dc   gpio.PinOut
		opts *DriverOpts
	}{
		{"nil bus", nil, pin, pin, nil},
		{"nil cs", bus, nil, pin, nil},
		{"nil dc", bus, pin, nil, nil},
		{"negative timeout", bus, pin, pin, &DriverOpts{Timeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDriver(tt.bus, tt.cs, tt.dc, tt.opts); err == nil {
				t.Error("expected error but didn't get one")
			}
		})
	}
}

func TestSendCommandOnly(t *testing.T) {
	d, bus, tr := newTestDriver(t, nil)
	if err := d.SendCommand([]byte{0x29}, nil); err != nil {
		t.Fatal(err)
	}

	equalEvents(t, tr.events(), []string{
		"DC=Low", "CS=Low", "write 8-bit x1", "irq", "CS=High",
	})
	if got := d.Stats(); got != (Stats{Writes: 1, Waits: 1}) {
		t.Errorf("Stats() = %+v, want 1 write and 1 wait", got)
	}
	if len(bus.writes) != 1 || bus.writes[0].data[0] != 0x29 {
		t.Errorf("writes = %+v", bus.writes)
	}
}

func TestSendCommandWithParams(t *testing.T) {
	d, bus, tr := newTestDriver(t, nil)
	if err := d.SendCommand([]byte{0x2A}, []byte{0x00, 0x02, 0x00, 0x81}); err != nil {
		t.Fatal(err)
	}

	equalEvents(t, tr.events(), []string{
		"DC=Low", "CS=Low", "write 8-bit x1", "irq",
		"DC=High", "write 8-bit x4", "irq", "CS=High",
	})
	if got := d.Stats(); got != (Stats{Writes: 2, Waits: 2}) {
		t.Errorf("Stats() = %+v, want 2 writes and 2 waits", got)
	}
	if got := bus.writes[1].data; string(got) != string([]byte{0x00, 0x02, 0x00, 0x81}) {
		t.Errorf("param phase = %x", got)
	}
}

func TestSendPixels(t *testing.T) {
	tests := []struct {
		name      string
		px        int
		wantUnits int
	}{
		{"one pixel", 2, 1},
		{"one row", 128 * 2, 128},
		{"band", 128 * 20 * 2, 128 * 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, bus, tr := newTestDriver(t, nil)
			n := &notifier{tr: tr}
			if err := d.SendPixels(n, []byte{0x2C}, make([]byte, tt.px)); err != nil {
				t.Fatal(err)
			}
			equalEvents(t, tr.events(), []string{
				"DC=Low", "CS=Low", "write 8-bit x1", "irq",
				"DC=High", fmt.Sprintf("write 16-bit x%d", tt.wantUnits), "irq", "CS=High", "ready",
			})
			if n.count() != 1 {
				t.Errorf("FlushReady called %d times, want 1", n.count())
			}
			w := bus.writes[1]
			if w.width != Width16 || w.units != tt.wantUnits {
				t.Errorf("pixel write = %s x%d, want 16-bit x%d", w.width, w.units, tt.wantUnits)
			}
		})
	}
}

func TestSendPixelsNotifiesOnlyAfterCompletion(t *testing.T) {
	d, bus, tr := newTestDriver(t, nil)
	bus.hold = make(chan struct{})
	n := &notifier{tr: tr}

	returned := make(chan error)
	go func() { returned <- d.SendPixels(n, []byte{0x2C}, make([]byte, 8)) }()

	select {
	case <-returned:
		t.Fatal("SendPixels returned before the transfer completed")
	case <-time.After(20 * time.Millisecond):
	}
	if n.count() != 0 {
		t.Fatal("FlushReady called before completion")
	}

	close(bus.hold)
	select {
	case err := <-returned:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendPixels did not return")
	}
	if n.count() != 1 {
		t.Errorf("FlushReady called %d times, want 1", n.count())
	}
}

func TestSendCommandBusError(t *testing.T) {
	d, bus, tr := newTestDriver(t, nil)
	bus.err = errors.New("boom")
	err := d.SendCommand([]byte{0x01}, nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("SendCommand() = %v, want wrapped bus error", err)
	}
	ev := tr.events()
	if ev[len(ev)-1] != "CS=High" {
		t.Errorf("CS not released after error: %v", ev)
	}
	if d.done.Pending() {
		t.Error("failed write left the completion armed")
	}
	if got := d.Stats(); got != (Stats{}) {
		t.Errorf("Stats() = %+v, want zero", got)
	}
}

func TestSendCommandEmpty(t *testing.T) {
	d, _, tr := newTestDriver(t, nil)
	if err := d.SendCommand(nil, []byte{1}); err == nil {
		t.Error("empty command should fail")
	}
	if len(tr.events()) != 0 {
		t.Errorf("pins toggled for empty command: %v", tr.events())
	}
}

func TestSendCommandTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d, bus, tr := newTestDriver(t, &DriverOpts{Timeout: 100 * time.Millisecond, Clock: fc})
	bus.hold = make(chan struct{})

	returned := make(chan error)
	go func() { returned <- d.SendCommand([]byte{0x11}, nil) }()
	fc.BlockUntil(1)
	fc.Advance(100 * time.Millisecond)

	select {
	case err := <-returned:
		if !errors.Is(err, ErrTransferTimeout) {
			t.Fatalf("SendCommand() = %v, want ErrTransferTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendCommand did not time out")
	}
	ev := tr.events()
	if ev[len(ev)-1] != "CS=High" {
		t.Errorf("CS not released after timeout: %v", ev)
	}
	if got := d.Stats(); got != (Stats{Writes: 1}) {
		t.Errorf("Stats() = %+v, want 1 write and no acknowledged wait", got)
	}
	if err := d.SendCommand([]byte{0x11}, nil); !errors.Is(err, ErrTransferPending) {
		t.Errorf("SendCommand() after timeout = %v, want ErrTransferPending", err)
	}

	// The timed out transfer completes late; the next transaction goes through.
	close(bus.hold)
	deadline := time.Now().Add(2 * time.Second)
	for len(d.done.done) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("late completion never signaled")
		}
		time.Sleep(time.Millisecond)
	}
	if err := d.SendCommand([]byte{0x29}, nil); err != nil {
		t.Fatalf("SendCommand() after late completion = %v", err)
	}
	if got := d.Stats(); got != (Stats{Writes: 2, Waits: 1}) {
		t.Errorf("Stats() = %+v, want 2 writes and 1 acknowledged wait", got)
	}
}

func TestDriverRecover(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d, bus, tr := newTestDriver(t, &DriverOpts{Timeout: 100 * time.Millisecond, Clock: fc})
	bus.hold = make(chan struct{})

	returned := make(chan error)
	go func() { returned <- d.SendCommand([]byte{0x11}, nil) }()
	fc.BlockUntil(1)
	fc.Advance(100 * time.Millisecond)
	if err := <-returned; !errors.Is(err, ErrTransferTimeout) {
		t.Fatalf("SendCommand() = %v, want ErrTransferTimeout", err)
	}

	d.Recover()
	if d.done.Pending() {
		t.Fatal("Recover left a transfer outstanding")
	}
	// A completion arriving after Recover belongs to no transfer.
	close(bus.hold)
	waitEvent(t, tr, "irq")
	if len(d.done.done) != 0 {
		t.Error("completion after Recover was queued")
	}
	if err := d.SendCommand([]byte{0x29}, nil); err != nil {
		t.Errorf("SendCommand() after Recover = %v", err)
	}
}

// waitEvent polls tr until ev is recorded.
func waitEvent(t *testing.T, tr *trace, ev string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range tr.events() {
			if e == ev {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("event %q not recorded: %v", ev, tr.events())
}
