// Package console is a write-only character device on a byte-wide trace port.
//
// It gives the standard I/O surface a trace output such as an SWO/ITM
// stimulus port: writes go out one byte at a time, reads never yield data,
// and the file operations report a fixed character device.
package console

import (
	"io"
	"io/fs"
	"log"
)

// Console forwards writes to a byte-wide sink.
type Console struct {
	sink io.Writer
}

// New returns a console writing to sink. A nil sink discards everything.
func New(sink io.Writer) *Console {
	if sink == nil {
		sink = io.Discard
	}
	return &Console{sink: sink}
}

// Write sends p to the sink one byte at a time, in order. It always reports
// len(p) bytes written; sink errors are dropped as the trace port has no way
// to signal them.
func (c *Console) Write(p []byte) (int, error) {
	if bw, ok := c.sink.(io.ByteWriter); ok {
		for _, b := range p {
			_ = bw.WriteByte(b)
		}
		return len(p), nil
	}
	var one [1]byte
	for _, b := range p {
		one[0] = b
		_, _ = c.sink.Write(one[:])
	}
	return len(p), nil
}

// Read never yields data.
func (c *Console) Read(p []byte) (int, error) {
	return 0, nil
}

// Close is a no-op.
func (c *Console) Close() error {
	return nil
}

// Seek is a no-op reporting offset 0.
func (c *Console) Seek(offset int64, whence int) (int64, error) {
	return 0, nil
}

// Mode reports the console as a character device.
func (c *Console) Mode() fs.FileMode {
	return fs.ModeDevice | fs.ModeCharDevice
}

// IsTerminal always reports true so that callers line-buffer their output.
func (c *Console) IsTerminal() bool {
	return true
}

var _ io.ReadWriteCloser = (*Console)(nil)
var _ io.Seeker = (*Console)(nil)

// Logger returns a logger printing to c with the given prefix.
func Logger(c *Console, prefix string) *log.Logger {
	return log.New(c, prefix, log.Lmicroseconds)
}
