package transport

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrTransferPending is returned when a transfer is started while another
	// one has not been acknowledged yet.
	ErrTransferPending = errors.New("st7735: transfer already pending")
	// ErrTransferTimeout is returned when the completion of a transfer was not
	// signaled within the configured timeout.
	ErrTransferTimeout = errors.New("st7735: transfer completion timed out")
)

// Completion is a single-slot rendezvous between the bus completion context
// and the task waiting on a transfer.
//
// At most one transfer is armed at a time. Signal never blocks and may be
// called from any goroutine; Wait blocks the caller until the armed transfer
// is signaled.
type Completion struct {
	clock   clockwork.Clock
	timeout time.Duration

	armed    atomic.Bool
	timedOut atomic.Bool // armed transfer outlived its Wait
	done     chan struct{}
}

// NewCompletion returns a Completion. A timeout of 0 waits forever; clock is
// only used for timeouts and may be nil.
func NewCompletion(clock clockwork.Clock, timeout time.Duration) *Completion {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Completion{
		clock:   clock,
		timeout: timeout,
		done:    make(chan struct{}, 1),
	}
}

// Arm marks one transfer as outstanding.
//
// If the previous transfer timed out and its late signal has since arrived,
// Arm consumes that signal and re-arms for the new transfer. Otherwise an
// outstanding transfer makes Arm fail with ErrTransferPending.
func (c *Completion) Arm() error {
	if c.armed.CompareAndSwap(false, true) {
		return nil
	}
	if c.timedOut.Load() {
		select {
		case <-c.done:
			c.timedOut.Store(false)
			return nil
		default:
		}
	}
	return ErrTransferPending
}

// Reset drops any outstanding transfer and queued signal. Use it once the
// bus is known to be idle again, e.g. after reopening it.
func (c *Completion) Reset() {
	c.armed.Store(false)
	c.timedOut.Store(false)
	select {
	case <-c.done:
	default:
	}
}

// Pending reports whether a transfer is armed and not yet waited for.
func (c *Completion) Pending() bool {
	return c.armed.Load()
}

// Signal reports the end of the armed transfer. Signals that arrive while
// nothing is armed, or while a signal is already queued, are dropped.
func (c *Completion) Signal() {
	if !c.armed.Load() {
		return
	}
	select {
	case c.done <- struct{}{}:
	default:
	}
}

// Wait blocks until the armed transfer is signaled.
//
// On timeout the transfer stays armed: the bus state is unknown, so any later
// Arm fails with ErrTransferPending until the late signal arrives or Reset is
// called.
func (c *Completion) Wait() error {
	if c.timeout <= 0 {
		<-c.done
		c.armed.Store(false)
		return nil
	}
	t := c.clock.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case <-c.done:
		c.armed.Store(false)
		return nil
	case <-t.Chan():
		c.timedOut.Store(true)
		return ErrTransferTimeout
	}
}

// disarm drops an armed transfer that never started.
func (c *Completion) disarm() {
	c.armed.Store(false)
}
