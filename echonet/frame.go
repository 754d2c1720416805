// Package echonet implements the ECHONET Lite frame codec and a
// transaction-id-correlated request/response loop layered over a session.
package echonet

import (
	"encoding/binary"
	"fmt"
)

const (
	ehd1 byte = 0x10
	ehd2Format1 byte = 0x81
	ehd2Format2 byte = 0x82
)

// ESV service codes this module cares about; the rest pass through encode
// and decode untouched.
const (
	ESVGet    byte = 0x62
	ESVGetRes byte = 0x63
)

// Eoj is an ECHONET object identifier: class group, class code, instance.
type Eoj struct {
	ClassGroup byte
	ClassCode  byte
	Instance   byte
}

func (e Eoj) String() string {
	return fmt.Sprintf("%02X%02X%02X", e.ClassGroup, e.ClassCode, e.Instance)
}

// Property is one EPC/EDT pair. A nil EDT serializes with PDC = 0.
type Property struct {
	EPC byte
	EDT []byte
}

// EData is the Format-1 application payload: source/destination object,
// service code, and an ordered property list.
type EData struct {
	SEOJ  Eoj
	DEOJ  Eoj
	ESV   byte
	Props []Property
}

// Frame is a decoded ECHONET Lite frame. Format2 carries an opaque payload
// instead of structured EDATA; this implementation only ever originates
// Format1 frames but must still decode Format2 without erroring, per the
// "unknown EHD2 is fatal, anything else passes through" rule.
type Frame struct {
	TID    uint16
	Format1 bool
	EData  EData  // valid iff Format1
	Raw    []byte // valid iff !Format1 (Format2's opaque EDATA)
}

// ErrInvalidEHD is returned by Decode when EHD1 isn't 0x10 or EHD2 is
// neither the Format1 nor Format2 tag.
var ErrInvalidEHD = fmt.Errorf("echonet: invalid EHD")

// ErrTruncated is returned by Decode when the buffer ends before the
// frame's declared structure is fully read.
var ErrTruncated = fmt.Errorf("echonet: truncated frame")

// Encode renders f byte-exact per the wire grammar: EHD1, EHD2, TID
// (big-endian), then the variant body.
func Encode(f Frame) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, ehd1)
	if f.Format1 {
		buf = append(buf, ehd2Format1)
	} else {
		buf = append(buf, ehd2Format2)
	}
	var tidBuf [2]byte
	binary.BigEndian.PutUint16(tidBuf[:], f.TID)
	buf = append(buf, tidBuf[:]...)

	if !f.Format1 {
		return append(buf, f.Raw...)
	}

	buf = append(buf, f.EData.SEOJ.ClassGroup, f.EData.SEOJ.ClassCode, f.EData.SEOJ.Instance)
	buf = append(buf, f.EData.DEOJ.ClassGroup, f.EData.DEOJ.ClassCode, f.EData.DEOJ.Instance)
	buf = append(buf, f.EData.ESV)
	buf = append(buf, byte(len(f.EData.Props)))
	for _, p := range f.EData.Props {
		buf = append(buf, p.EPC, byte(len(p.EDT)))
		buf = append(buf, p.EDT...)
	}
	return buf
}

// Decode parses b into a Frame. It returns ErrInvalidEHD for a malformed
// header and ErrTruncated if the declared structure runs past the end of
// b.
func Decode(b []byte) (Frame, error) {
	if len(b) < 4 {
		return Frame{}, ErrTruncated
	}
	if b[0] != ehd1 {
		return Frame{}, ErrInvalidEHD
	}
	tid := binary.BigEndian.Uint16(b[2:4])

	switch b[1] {
	case ehd2Format2:
		raw := make([]byte, len(b)-4)
		copy(raw, b[4:])
		return Frame{TID: tid, Format1: false, Raw: raw}, nil
	case ehd2Format1:
		// fall through to structured parse below
	default:
		return Frame{}, ErrInvalidEHD
	}

	rest := b[4:]
	if len(rest) < 8 {
		return Frame{}, ErrTruncated
	}
	seoj := Eoj{rest[0], rest[1], rest[2]}
	deoj := Eoj{rest[3], rest[4], rest[5]}
	esv := rest[6]
	opc := int(rest[7])
	rest = rest[8:]

	props := make([]Property, 0, opc)
	for i := 0; i < opc; i++ {
		if len(rest) < 2 {
			return Frame{}, ErrTruncated
		}
		epc := rest[0]
		pdc := int(rest[1])
		rest = rest[2:]
		if len(rest) < pdc {
			return Frame{}, ErrTruncated
		}
		var edt []byte
		if pdc > 0 {
			edt = make([]byte, pdc)
			copy(edt, rest[:pdc])
			rest = rest[pdc:]
		}
		props = append(props, Property{EPC: epc, EDT: edt})
	}

	return Frame{
		TID:     tid,
		Format1: true,
		EData: EData{
			SEOJ:  seoj,
			DEOJ:  deoj,
			ESV:   esv,
			Props: props,
		},
	}, nil
}
