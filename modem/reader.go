package modem

import (
	"strings"

	"github.com/hnw/broute-meter-exporter/lineport"
)

// byteReader layers the line-protocol token primitives the modem driver
// needs (read up to a delimiter, read a fixed count) over a lineport.Port.
// It deliberately reads one byte at a time: the wire protocol has no
// framing beyond line endings and positional whitespace, so there is no
// larger unit to buffer on.
type byteReader struct {
	port lineport.Port
}

func (r *byteReader) readByte() (byte, error) {
	var buf [1]byte
	for {
		n, err := r.port.Read(buf[:])
		if n > 0 {
			return buf[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func (r *byteReader) unreadByte(b byte) {
	r.port.Unread([]byte{b})
}

// readHeadToken reads bytes up to the first space or CR. A CR is assumed to
// be immediately followed by LF (CRLF line ending) and both are consumed;
// delimWasSpace reports which delimiter terminated the token, which the
// caller needs to know whether the rest of the physical line still follows.
func (r *byteReader) readHeadToken() (token string, delimWasSpace bool, err error) {
	var sb strings.Builder
	for {
		b, err := r.readByte()
		if err != nil {
			return "", false, err
		}
		switch b {
		case ' ':
			return sb.String(), true, nil
		case '\r':
			lf, err := r.readByte()
			if err != nil {
				return "", false, err
			}
			if lf != '\n' {
				r.unreadByte(lf)
			}
			return sb.String(), false, nil
		default:
			sb.WriteByte(b)
		}
	}
}

// readUntilCRLF reads bytes up to and including a CRLF pair, returning
// everything before it.
func (r *byteReader) readUntilCRLF() (string, error) {
	var sb strings.Builder
	for {
		b, err := r.readByte()
		if err != nil {
			return "", err
		}
		if b == '\r' {
			if _, err := r.readByte(); err != nil { // LF
				return "", err
			}
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

func (r *byteReader) discardLine() error {
	_, err := r.readUntilCRLF()
	return err
}

// readN reads exactly n raw bytes (used for ERXUDP's binary payload, whose
// length is declared up front rather than terminated).
func (r *byteReader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

func (r *byteReader) expectCRLF() error {
	cr, err := r.readByte()
	if err != nil {
		return err
	}
	if cr != '\r' {
		r.unreadByte(cr)
	}
	lf, err := r.readByte()
	if err != nil {
		return err
	}
	if lf != '\n' {
		r.unreadByte(lf)
	}
	return nil
}
