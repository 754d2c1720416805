package echonet

import (
	"errors"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/hnw/broute-meter-exporter/modem"
)

// Datagrams is the minimal session surface the correlator needs: send a
// byte string, receive one addressed to the connected peer within a
// timeout.
type Datagrams interface {
	Send(payload []byte) error
	Recv(timeoutMs int) ([]byte, error)
}

// TransactionAllocator hands out strictly increasing 16-bit transaction
// ids, wrapping after 0xFFFF, safe for concurrent use so a future
// multi-scrape caller could share one allocator without change.
type TransactionAllocator struct {
	next uint32
}

// Next returns the next transaction id.
func (a *TransactionAllocator) Next() uint16 {
	return uint16(atomic.AddUint32(&a.next, 1))
}

// Codec pairs a Datagrams session with a TransactionAllocator to provide
// request/response correlation by transaction id.
type Codec struct {
	conn  Datagrams
	alloc *TransactionAllocator
}

// NewCodec constructs a Codec. alloc may be shared across Codecs.
func NewCodec(conn Datagrams, alloc *TransactionAllocator) *Codec {
	return &Codec{conn: conn, alloc: alloc}
}

// NewRequest builds a Format1 frame with service code esv against
// seoj/deoj for the given property codes (each requested with an empty
// EDT), stamped with a fresh transaction id.
func (c *Codec) NewRequest(seoj, deoj Eoj, esv byte, epcs []byte) Frame {
	props := make([]Property, len(epcs))
	for i, epc := range epcs {
		props[i] = Property{EPC: epc}
	}
	return Frame{
		TID:     c.alloc.Next(),
		Format1: true,
		EData: EData{
			SEOJ:  seoj,
			DEOJ:  deoj,
			ESV:   esv,
			Props: props,
		},
	}
}

// ErrDecode wraps a response that failed to parse; the caller's request
// loop logs and keeps waiting rather than aborting, since stray frames on
// the wire aren't necessarily fatal to this request.
type ErrDecode struct {
	Err error
}

func (e *ErrDecode) Error() string { return "echonet: decode: " + e.Err.Error() }
func (e *ErrDecode) Unwrap() error { return e.Err }

// Request encodes frame, sends it, and loops reading responses until one
// with a matching TID arrives or timeoutMs elapses, in which case it
// returns (Frame{}, false, nil). Responses with a mismatched TID, or that
// fail to decode, are logged and skipped rather than treated as failures.
func (c *Codec) Request(frame Frame, timeoutMs int) (Frame, bool, error) {
	if err := c.conn.Send(Encode(frame)); err != nil {
		return Frame{}, false, err
	}
	for {
		data, err := c.conn.Recv(timeoutMs)
		if errors.Is(err, modem.ErrTimeout) {
			return Frame{}, false, nil
		}
		if err != nil {
			return Frame{}, false, err
		}
		resp, err := Decode(data)
		if err != nil {
			log.WithError(err).Debug("echonet: discarding undecodable datagram")
			continue
		}
		if resp.TID != frame.TID {
			log.WithFields(log.Fields{"got_tid": resp.TID, "want_tid": frame.TID}).
				Debug("echonet: discarding response with mismatched transaction id")
			continue
		}
		return resp, true, nil
	}
}
