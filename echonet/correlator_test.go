package echonet

import (
	"testing"

	"github.com/hnw/broute-meter-exporter/modem"
)

// fakeConn is a scripted Datagrams implementation: Send records the bytes
// sent, Recv returns the next queued response (or ErrTimeout once the
// queue is drained).
type fakeConn struct {
	sent  [][]byte
	queue [][]byte
}

func (c *fakeConn) Send(payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Recv(timeoutMs int) ([]byte, error) {
	if len(c.queue) == 0 {
		return nil, modem.ErrTimeout
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	return next, nil
}

func TestTIDCorrelationDiscardsMismatch(t *testing.T) {
	req := Frame{
		TID:     0x0010,
		Format1: true,
		EData: EData{
			SEOJ:  Eoj{0x05, 0xFF, 0x01},
			DEOJ:  Eoj{0x02, 0x88, 0x01},
			ESV:   0x62,
			Props: []Property{{EPC: 0xE7}},
		},
	}
	mismatched := req
	mismatched.TID = req.TID - 1
	mismatched.EData.ESV = 0x63

	conn := &fakeConn{queue: [][]byte{Encode(mismatched), Encode(matchingResponse(req))}}
	codec := NewCodec(conn, &TransactionAllocator{})

	resp, ok, err := codec.Request(req, 1000)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !ok {
		t.Fatalf("ok = false, want true")
	}
	if resp.TID != req.TID {
		t.Fatalf("resp.TID = %#x, want %#x", resp.TID, req.TID)
	}
}

func matchingResponse(req Frame) Frame {
	return Frame{
		TID:     req.TID,
		Format1: true,
		EData: EData{
			SEOJ:  req.EData.DEOJ,
			DEOJ:  req.EData.SEOJ,
			ESV:   0x63,
			Props: []Property{{EPC: 0xE7, EDT: []byte{0x00, 0x00, 0x01, 0x2C}}},
		},
	}
}

func TestRequestTimeout(t *testing.T) {
	req := Frame{
		TID:     1,
		Format1: true,
		EData: EData{
			SEOJ:  Eoj{0x05, 0xFF, 0x01},
			DEOJ:  Eoj{0x02, 0x88, 0x01},
			ESV:   0x62,
			Props: []Property{{EPC: 0xE7}},
		},
	}
	conn := &fakeConn{}
	codec := NewCodec(conn, &TransactionAllocator{})

	_, ok, err := codec.Request(req, 100)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if ok {
		t.Fatalf("ok = true, want false (timeout)")
	}
}

func TestCorrelatedGetGetRes(t *testing.T) {
	alloc := &TransactionAllocator{}
	codec := NewCodec(&fakeConn{}, alloc)
	req := codec.NewRequest(Eoj{0x05, 0xFF, 0x01}, Eoj{0x02, 0x88, 0x01}, ESVGet, []byte{0xE7})

	respBytes := []byte{
		0x10, 0x81, byte(req.TID >> 8), byte(req.TID),
		0x02, 0x88, 0x01, 0x05, 0xFF, 0x01, 0x63, 0x01, 0xE7, 0x04, 0x00, 0x00, 0x01, 0x2C,
	}
	conn := &fakeConn{queue: [][]byte{respBytes}}
	codec2 := NewCodec(conn, alloc)

	resp, ok, err := codec2.Request(req, 5000)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !ok {
		t.Fatalf("ok = false, want true")
	}
	if resp.TID != req.TID {
		t.Fatalf("resp.TID = %#x, want %#x", resp.TID, req.TID)
	}
	if len(resp.EData.Props) != 1 || resp.EData.Props[0].EPC != 0xE7 {
		t.Fatalf("props = %+v", resp.EData.Props)
	}
	fields, err := ReadFields(resp.EData.Props[0], []FieldLayout{{Name: "value", Type: I32}})
	if err != nil {
		t.Fatalf("ReadFields: %v", err)
	}
	if len(fields) != 1 || fields[0].Value != 300 {
		t.Fatalf("fields = %+v, want value=300", fields)
	}
}
