// Package transport moves command and pixel bytes from the render loop to the
// panel over an interrupt-completed bus.
//
// A Bus starts a transfer and returns immediately; the transfer end is
// reported through the callback registered with OnComplete, which runs in the
// bus's completion context (the Go analog of an interrupt handler). Driver
// turns that into the synchronous command/parameter transactions the panel
// plugin expects, using a Completion as the only hand-off between the two
// contexts.
package transport

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Width is the bus word width of a transfer, in bits.
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
)

func (w Width) String() string {
	switch w {
	case Width8:
		return "8-bit"
	case Width16:
		return "16-bit"
	}
	return fmt.Sprintf("Width(%d)", uint8(w))
}

// Bus is an asynchronous write-only bus.
type Bus interface {
	// Open prepares the bus. It must be called once before Write.
	Open() error
	// OnComplete registers the function called when a transfer ends.
	OnComplete(fn func())
	// Write starts sending units words of width w taken from p.
	// It returns once the transfer is started.
	Write(p []byte, units int, w Width) error
}

// SPIBus is a Bus on a periph SPI port. Chip-select is not driven by the
// port; the Driver frames transactions on its own GPIO.
type SPIBus struct {
	port spi.Port
	freq physic.Frequency
	log  *log.Logger

	mu   sync.Mutex
	c    spi.Conn
	done func()
	buf  []byte
}

// NewSPIBus returns a bus on p running at up to f. l receives transfer
// errors; nil discards them.
func NewSPIBus(p spi.Port, f physic.Frequency, l *log.Logger) *SPIBus {
	return &SPIBus{port: p, freq: f, log: l}
}

// Open connects to the port in Mode0 with 8-bit words.
func (b *SPIBus) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c != nil {
		return errors.New("st7735: spi bus already open")
	}
	c, err := b.port.Connect(b.freq, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return fmt.Errorf("st7735: spi connect: %w", err)
	}
	b.c = c
	return nil
}

// OnComplete implements Bus.
func (b *SPIBus) OnComplete(fn func()) {
	b.mu.Lock()
	b.done = fn
	b.mu.Unlock()
}

// Write implements Bus. 16-bit words are read in host (little-endian) order
// and sent most significant byte first.
func (b *SPIBus) Write(p []byte, units int, w Width) error {
	if w != Width8 && w != Width16 {
		return fmt.Errorf("st7735: unsupported bus width %s", w)
	}
	n := units * int(w) / 8
	if units < 0 || n > len(p) {
		return fmt.Errorf("st7735: %d %s units exceed %d bytes", units, w, len(p))
	}

	b.mu.Lock()
	c, done := b.c, b.done
	if c == nil {
		b.mu.Unlock()
		return errors.New("st7735: spi bus not open")
	}
	// Only one transfer is in flight at a time, so the scratch buffer can be
	// reused across writes.
	if cap(b.buf) < n {
		b.buf = make([]byte, n)
	}
	buf := b.buf[:n]
	b.mu.Unlock()

	if w == Width16 {
		for i := 0; i+1 < n; i += 2 {
			buf[i], buf[i+1] = p[i+1], p[i]
		}
	} else {
		copy(buf, p[:n])
	}

	go func() {
		if err := tx(c, buf); err != nil && b.log != nil {
			b.log.Printf("st7735: spi tx: %v", err)
		}
		if done != nil {
			done()
		}
	}()
	return nil
}

// tx sends buf, splitting it when the connection limits the transfer size.
func tx(c spi.Conn, buf []byte) error {
	max := len(buf)
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		max = l.MaxTxSize()
	}
	for off := 0; off < len(buf); {
		end := off + max
		if end > len(buf) {
			end = len(buf)
		}
		if err := c.Tx(buf[off:end], nil); err != nil {
			return err
		}
		off = end
	}
	return nil
}
