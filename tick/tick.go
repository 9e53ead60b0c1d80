// Package tick provides the millisecond tick source consumed by the render
// loop for its refresh and animation timing.
package tick

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Counter is a monotonic tick count. It is safe to increment from the timer
// goroutine while the render loop reads it.
type Counter struct {
	n atomic.Uint32
}

// Inc advances the counter by n ticks.
func (c *Counter) Inc(n uint32) {
	c.n.Add(n)
}

// Load returns the current tick count.
func (c *Counter) Load() uint32 {
	return c.n.Load()
}

// Elapsed returns the ticks since prev, handling wraparound.
func (c *Counter) Elapsed(prev uint32) uint32 {
	return c.n.Load() - prev
}

// Timer is a periodic hardware-timer stand-in. Each period it calls the
// handler registered with Open exactly once, from its own goroutine.
type Timer struct {
	clock  clockwork.Clock
	period time.Duration

	mu      sync.Mutex
	handler func()
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewTimer returns a timer firing every period on clock. A nil clock uses
// the real clock.
func NewTimer(clock clockwork.Clock, period time.Duration) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{clock: clock, period: period}
}

// Open registers the interrupt handler.
func (t *Timer) Open(handler func()) error {
	if t.period <= 0 {
		return errors.New("tick: period must be positive")
	}
	if handler == nil {
		return errors.New("tick: nil handler")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler != nil {
		return errors.New("tick: already open")
	}
	t.handler = handler
	return nil
}

// Start begins delivering ticks.
func (t *Timer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return errors.New("tick: not open")
	}
	if t.stop != nil {
		return errors.New("tick: already started")
	}
	t.stop = make(chan struct{})
	ticker := t.clock.NewTicker(t.period)
	t.wg.Add(1)
	go t.run(ticker, t.handler, t.stop)
	return nil
}

// Stop halts the timer and waits for the handler goroutine to exit. The
// timer can be started again afterwards.
func (t *Timer) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	t.wg.Wait()
}

func (t *Timer) run(ticker clockwork.Ticker, handler func(), stop <-chan struct{}) {
	defer t.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			handler()
		}
	}
}
