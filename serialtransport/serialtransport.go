// Package serialtransport opens the physical serial connection to the
// Wi-SUN dongle, the same tarm/serial config shape the reference
// smartmeter mackerel plugin uses for its B-route modem.
package serialtransport

import (
	"io"

	"github.com/tarm/serial"
)

// Open opens path at baud, 8 data bits, 1 stop bit, no parity: the fixed
// framing every SK-command Wi-SUN dongle expects.
func Open(path string, baud int) (io.ReadWriteCloser, error) {
	cfg := &serial.Config{
		Name:     path,
		Baud:     baud,
		Size:     8,
		StopBits: serial.Stop1,
		Parity:   serial.ParityNone,
	}
	return serial.OpenPort(cfg)
}
