// Package modem drives the SK-style AT-command Wi-SUN radio module: it
// turns the raw line-oriented serial stream into command results and a
// queue of asynchronous events, resolving the interleaving the firmware
// imposes on a single character stream.
package modem

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/hnw/broute-meter-exporter/lineport"
)

// Driver owns a lineport.Port and the event queue fed by lines that arrive
// out of turn while a command result is being awaited.
type Driver struct {
	port lineport.Port
	br   *byteReader

	events []Event
}

// New wraps port as a Driver.
func New(port lineport.Port) *Driver {
	return &Driver{
		port: port,
		br:   &byteReader{port: port},
	}
}

func (d *Driver) enqueueEvent(ev Event) {
	d.events = append(d.events, ev)
}

func (d *Driver) dequeueEvent() (Event, bool) {
	if len(d.events) == 0 {
		return nil, false
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, true
}

func (d *Driver) sendLine(line string) error {
	return d.port.WriteAll([]byte(line + "\r\n"))
}

// nextSignificantToken reads head tokens off the wire, transparently
// resyncing past stray CRLFs, discarding echoed command lines, and
// enqueueing any events it encounters, until it finds a token that belongs
// to the result the caller is actually waiting for (OK, FAIL, or a bare
// text line such as SKLL64's address response).
func (d *Driver) nextSignificantToken() (string, error) {
	for {
		tok, delimSpace, err := d.br.readHeadToken()
		if err != nil {
			return "", err
		}
		if tok == "" && !delimSpace {
			log.Warn("modem: stray CRLF before result, resyncing")
			continue
		}
		if len(tok) >= 2 && tok[:2] == "SK" {
			if delimSpace {
				if err := d.br.discardLine(); err != nil {
					return "", err
				}
			}
			continue
		}
		if len(tok) > 0 && tok[0] == 'E' {
			ev, err := parseEvent(tok, d.br)
			if err != nil {
				return "", err
			}
			d.enqueueEvent(ev)
			continue
		}
		return tok, nil
	}
}

// awaitResult consumes one OK/FAIL result from the wire, queueing any
// events encountered along the way.
func (d *Driver) awaitResult() error {
	tok, err := d.nextSignificantToken()
	if err != nil {
		return err
	}
	switch tok {
	case "OK":
		return nil
	case "FAIL":
		codeTok, _, err := d.br.readHeadToken()
		if err != nil {
			return err
		}
		return mapFailCode(codeTok)
	default:
		return fmt.Errorf("modem: unexpected result token %q", tok)
	}
}

// awaitLine consumes one plain text-line result, such as SKLL64's resolved
// address, queueing any events encountered first.
func (d *Driver) awaitLine() (string, error) {
	return d.nextSignificantToken()
}

// readOneEvent resyncs past stray CRLFs and echoed lines exactly like
// nextSignificantToken, but requires the result to be an event; it is used
// when no command is in flight and the caller is explicitly waiting on the
// event stream.
func (d *Driver) readOneEvent() (Event, error) {
	for {
		tok, delimSpace, err := d.br.readHeadToken()
		if err != nil {
			return nil, err
		}
		if tok == "" && !delimSpace {
			log.Warn("modem: stray CRLF while waiting for event, resyncing")
			continue
		}
		if len(tok) >= 2 && tok[:2] == "SK" {
			if delimSpace {
				if err := d.br.discardLine(); err != nil {
					return nil, err
				}
			}
			continue
		}
		if len(tok) == 0 || tok[0] != 'E' {
			return nil, fmt.Errorf("modem: expected event, got %q", tok)
		}
		return parseEvent(tok, d.br)
	}
}

// PollEvent returns the oldest queued event if one is already pending,
// otherwise waits up to timeoutMs for one to arrive. It returns ErrTimeout
// if nothing arrives in time.
func (d *Driver) PollEvent(timeoutMs int) (Event, error) {
	if ev, ok := d.dequeueEvent(); ok {
		return ev, nil
	}
	state, err := d.port.Poll(timeoutMs)
	if err != nil {
		return nil, err
	}
	switch state {
	case lineport.Timeout:
		return nil, ErrTimeout
	case lineport.Disconnected:
		return nil, lineport.ErrDisconnected
	}
	return d.readOneEvent()
}

// WaitEvent is PollEvent without a timeout.
func (d *Driver) WaitEvent() (Event, error) {
	if ev, ok := d.dequeueEvent(); ok {
		return ev, nil
	}
	state, err := d.port.Poll(-1)
	if err != nil {
		return nil, err
	}
	if state == lineport.Disconnected {
		return nil, lineport.ErrDisconnected
	}
	return d.readOneEvent()
}

// ReadPanDescriptor reads exactly one EPANDESC block directly off the wire,
// bypassing the event queue. Callers use it only when the protocol
// guarantees the next framed structure on the wire is a PAN descriptor
// (mid-scan, right after the 0x20 "descriptor found" numeric event).
func (d *Driver) ReadPanDescriptor() (*PanDescriptorEvent, error) {
	for {
		tok, delimSpace, err := d.br.readHeadToken()
		if err != nil {
			return nil, err
		}
		if tok == "" && !delimSpace {
			log.Warn("modem: stray CRLF before EPANDESC, resyncing")
			continue
		}
		if len(tok) >= 2 && tok[:2] == "SK" {
			if delimSpace {
				if err := d.br.discardLine(); err != nil {
					return nil, err
				}
			}
			continue
		}
		if tok != "EPANDESC" {
			return nil, fmt.Errorf("modem: expected EPANDESC, got %q", tok)
		}
		return parsePanDescriptor(d.br)
	}
}

// Reset issues SKRESET.
func (d *Driver) Reset() error {
	if err := d.sendLine("SKRESET"); err != nil {
		return err
	}
	return d.awaitResult()
}

// SetRegister issues SKSREG <name> <value>. value must already be
// formatted per the register's expected width (uppercase hex).
func (d *Driver) SetRegister(reg SRegister, value string) error {
	if !reg.Valid() {
		return fmt.Errorf("modem: invalid register %q", reg)
	}
	if err := d.sendLine(fmt.Sprintf("SKSREG %s %s", reg, value)); err != nil {
		return err
	}
	return d.awaitResult()
}

// SetRouteBID issues SKSETRBID with a 32 hex character route-B id.
func (d *Driver) SetRouteBID(id string) error {
	if len(id) != 32 {
		return fmt.Errorf("modem: route-B id must be 32 hex characters, got %d", len(id))
	}
	if err := d.sendLine("SKSETRBID " + id); err != nil {
		return err
	}
	return d.awaitResult()
}

// SetRouteBPassword issues SKSETPWD with the password's length prefixed as
// two uppercase hex digits.
func (d *Driver) SetRouteBPassword(pwd string) error {
	if len(pwd) > 0xFF {
		return fmt.Errorf("modem: route-B password too long (%d bytes)", len(pwd))
	}
	line := fmt.Sprintf("SKSETPWD %02X %s", len(pwd), pwd)
	if err := d.sendLine(line); err != nil {
		return err
	}
	return d.awaitResult()
}

// Scan issues SKSCAN. The scan's own completion is reported later via
// numeric events 0x20/0x22, not by this call's result.
func (d *Driver) Scan(mode ScanMode, channelMask uint32, duration uint8, side Side) error {
	line := fmt.Sprintf("SKSCAN %X %08X %X %X", mode, channelMask, duration, side)
	if err := d.sendLine(line); err != nil {
		return err
	}
	return d.awaitResult()
}

// ResolveLinkLocal issues SKLL64 for a 16 hex character (64-bit) address
// and returns the modem's canonical IPv6 text response.
func (d *Driver) ResolveLinkLocal(addr64Hex string) (string, error) {
	if len(addr64Hex) != 16 {
		return "", fmt.Errorf("modem: SKLL64 argument must be 16 hex characters, got %d", len(addr64Hex))
	}
	if err := d.sendLine("SKLL64 " + addr64Hex); err != nil {
		return "", err
	}
	return d.awaitLine()
}

// Join issues SKJOIN. Connection outcome is reported later via numeric
// events 0x24/0x25, not by this call's result.
func (d *Driver) Join(ipv6Text string) error {
	if err := d.sendLine("SKJOIN " + ipv6Text); err != nil {
		return err
	}
	return d.awaitResult()
}

// SendDatagram issues SKSENDTO. The payload is embedded as raw bytes on
// the command line itself, not hex-encoded, so it is written directly
// rather than through sendLine.
func (d *Driver) SendDatagram(handle uint8, ipv6Text string, port uint16, sec SecurityMode, side Side, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("modem: datagram payload too long (%d bytes)", len(payload))
	}
	header := fmt.Sprintf("SKSENDTO %X %s %04X %X %X %04X ", handle, ipv6Text, port, sec, side, len(payload))
	buf := make([]byte, 0, len(header)+len(payload)+2)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	buf = append(buf, '\r', '\n')
	if err := d.port.WriteAll(buf); err != nil {
		return err
	}
	return d.awaitResult()
}

// Terminate issues SKTERM.
func (d *Driver) Terminate() error {
	if err := d.sendLine("SKTERM"); err != nil {
		return err
	}
	return d.awaitResult()
}
