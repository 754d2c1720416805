package scrape

import (
	"testing"

	"github.com/hnw/broute-meter-exporter/echonet"
	"github.com/hnw/broute-meter-exporter/modem"
)

// echoingConn answers every Send with a canned response that echoes back
// whatever TID was just sent, so the test doesn't need to predict the
// allocator's sequence.
type echoingConn struct {
	lastTID  uint16
	deoj     echonet.Eoj
	epc      byte
	response []byte
	sent     bool
}

func (c *echoingConn) Send(payload []byte) error {
	f, err := echonet.Decode(payload)
	if err != nil {
		return err
	}
	c.lastTID = f.TID
	c.sent = true
	return nil
}

func (c *echoingConn) Recv(timeoutMs int) ([]byte, error) {
	if !c.sent {
		return nil, modem.ErrTimeout
	}
	c.sent = false
	resp := echonet.Frame{
		TID:     c.lastTID,
		Format1: true,
		EData: echonet.EData{
			SEOJ:  c.deoj,
			DEOJ:  echonet.Eoj{ClassGroup: 0x05, ClassCode: 0xFF, Instance: 0x01},
			ESV:   echonet.ESVGetRes,
			Props: []echonet.Property{{EPC: c.epc, EDT: c.response}},
		},
	}
	return echonet.Encode(resp), nil
}

func TestScrapeSingleFieldMeasure(t *testing.T) {
	target := echonet.Eoj{ClassGroup: 0x02, ClassCode: 0x88, Instance: 0x01}
	measures := []Measure{
		{Name: "instantaneous_power", EPC: 0xE7, Layout: []echonet.FieldLayout{{Name: "value", Type: echonet.I32}}},
	}
	conn := &echoingConn{deoj: target, epc: 0xE7, response: []byte{0x00, 0x00, 0x01, 0x2C}}
	codec := echonet.NewCodec(conn, &echonet.TransactionAllocator{})
	s := New(codec, target, measures, 1000)

	samples, err := s.Scrape()
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("samples = %+v, want 1 sample", samples)
	}
	if samples[0].Name != "instantaneous_power" || samples[0].Value != 300 {
		t.Fatalf("sample = %+v, want instantaneous_power=300", samples[0])
	}
}

func TestScrapeMultiFieldMeasureNamesEachField(t *testing.T) {
	target := echonet.Eoj{ClassGroup: 0x02, ClassCode: 0x88, Instance: 0x01}
	measures := []Measure{
		{
			Name: "cumulative_energy",
			EPC:  0xE0,
			Layout: []echonet.FieldLayout{
				{Name: "normal", Type: echonet.U32},
				{Name: "reverse", Type: echonet.U32},
			},
		},
	}
	conn := &echoingConn{
		deoj:     target,
		epc:      0xE0,
		response: []byte{0x00, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x05},
	}
	codec := echonet.NewCodec(conn, &echonet.TransactionAllocator{})
	s := New(codec, target, measures, 1000)

	samples, err := s.Scrape()
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %+v, want 2 samples", samples)
	}
	if samples[0].Name != "cumulative_energy_normal" || samples[0].Value != 10 {
		t.Fatalf("sample[0] = %+v", samples[0])
	}
	if samples[1].Name != "cumulative_energy_reverse" || samples[1].Value != 5 {
		t.Fatalf("sample[1] = %+v", samples[1])
	}
}

func TestScrapeTimeoutPropagates(t *testing.T) {
	target := echonet.Eoj{ClassGroup: 0x02, ClassCode: 0x88, Instance: 0x01}
	measures := []Measure{
		{Name: "instantaneous_power", EPC: 0xE7, Layout: []echonet.FieldLayout{{Name: "value", Type: echonet.I32}}},
	}
	conn := &timeoutConn{}
	codec := echonet.NewCodec(conn, &echonet.TransactionAllocator{})
	s := New(codec, target, measures, 50)

	if _, err := s.Scrape(); err == nil {
		t.Fatalf("Scrape: want error on timeout, got nil")
	}
}

type timeoutConn struct{}

func (timeoutConn) Send(payload []byte) error             { return nil }
func (timeoutConn) Recv(timeoutMs int) ([]byte, error) { return nil, modem.ErrTimeout }
