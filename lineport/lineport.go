// Package lineport wraps a full-duplex byte stream (the physical serial
// port to the Wi-SUN dongle) with line-protocol conveniences: push-back so a
// caller can peek at a line head and put it back, and a bounded poll so a
// caller never blocks past its own deadline waiting on a wedged modem.
package lineport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ReadyState is the result of Poll.
type ReadyState int

const (
	// ReadReady means a subsequent Read is likely, but not guaranteed, to
	// return data without blocking.
	ReadReady ReadyState = iota
	// Timeout means no data arrived within the requested window.
	Timeout
	// Disconnected means the underlying stream hung up or failed.
	Disconnected
)

// ErrDisconnected is returned by Read/Poll once the underlying stream has
// reported a read error (hang-up or any other I/O failure); the first such
// error returned wraps the stream's own error as well. It is fatal for
// the current scrape; the caller is expected to re-open the port.
var ErrDisconnected = errors.New("lineport: disconnected")

// Port is a bidirectional byte stream with line-protocol conveniences.
// Implementations must be safe to use from a single goroutine at a time;
// the modem driver above it never issues concurrent calls.
type Port interface {
	// WriteAll writes every byte of b or returns an error.
	WriteAll(b []byte) error
	// Read reads at least one byte into buf, blocking until data arrives,
	// the port errors, or the port is closed. It may return a short read.
	Read(buf []byte) (int, error)
	// Unread pushes b back so the next Read returns it first. Internal
	// byte order within b is preserved; successive Unread calls stack
	// LIFO with respect to each other.
	Unread(b []byte)
	// Poll waits up to timeoutMs milliseconds for input to become
	// available. timeoutMs == -1 blocks forever.
	Poll(timeoutMs int) (ReadyState, error)
	// Close releases the underlying stream.
	Close() error
}

// serialPort implements Port over any io.ReadWriteCloser by running a
// single background goroutine that performs the (necessarily blocking)
// reads from the device and delivers them over a channel. This lets Poll
// honor a caller-supplied timeout even though the underlying
// stream itself exposes no deadline API — the same shape the reference
// smartmeter driver uses to turn a blocking line scanner into a channel
// the rest of the program can select on.
type serialPort struct {
	rwc io.ReadWriteCloser

	dataCh chan []byte
	errCh  chan error

	mu       sync.Mutex
	pushback [][]byte // stack; last element is read first
}

// New wraps rwc (typically a *serial.Port from github.com/tarm/serial) as a
// Port.
func New(rwc io.ReadWriteCloser) Port {
	p := &serialPort{
		rwc:    rwc,
		dataCh: make(chan []byte, 256),
		errCh:  make(chan error, 1),
	}
	go p.readLoop()
	return p
}

func (p *serialPort) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.rwc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.dataCh <- chunk
		}
		if err != nil {
			p.errCh <- fmt.Errorf("%w: %w", ErrDisconnected, err)
			close(p.dataCh)
			return
		}
	}
}

func (p *serialPort) WriteAll(b []byte) error {
	for len(b) > 0 {
		n, err := p.rwc.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (p *serialPort) Unread(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	p.mu.Lock()
	p.pushback = append(p.pushback, cp)
	p.mu.Unlock()
}

func (p *serialPort) popPushback(buf []byte) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pushback) == 0 {
		return 0, false
	}
	top := p.pushback[len(p.pushback)-1]
	n := copy(buf, top)
	if n == len(top) {
		p.pushback = p.pushback[:len(p.pushback)-1]
	} else {
		p.pushback[len(p.pushback)-1] = top[n:]
	}
	return n, true
}

func (p *serialPort) Read(buf []byte) (int, error) {
	if n, ok := p.popPushback(buf); ok {
		return n, nil
	}

	chunk, ok := <-p.dataCh
	if !ok {
		select {
		case err := <-p.errCh:
			return 0, err
		default:
			return 0, ErrDisconnected
		}
	}
	n := copy(buf, chunk)
	if n < len(chunk) {
		// Short caller buffer: stash the remainder so the next Read
		// sees it before any new device bytes, preserving FIFO order.
		p.mu.Lock()
		p.pushback = append(p.pushback, chunk[n:])
		p.mu.Unlock()
	}
	return n, nil
}

func (p *serialPort) Poll(timeoutMs int) (ReadyState, error) {
	p.mu.Lock()
	hasPushback := len(p.pushback) > 0
	p.mu.Unlock()
	if hasPushback {
		return ReadReady, nil
	}

	var timeoutCh <-chan time.Time
	if timeoutMs >= 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case chunk, ok := <-p.dataCh:
		if !ok {
			select {
			case err := <-p.errCh:
				return Disconnected, err
			default:
				return Disconnected, ErrDisconnected
			}
		}
		p.mu.Lock()
		p.pushback = append(p.pushback, chunk)
		p.mu.Unlock()
		return ReadReady, nil
	case err := <-p.errCh:
		return Disconnected, err
	case <-timeoutCh:
		return Timeout, nil
	}
}

func (p *serialPort) Close() error {
	return p.rwc.Close()
}
