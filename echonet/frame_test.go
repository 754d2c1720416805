package echonet

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestFixedVector(t *testing.T) {
	f := Frame{
		TID:     0x1234,
		Format1: true,
		EData: EData{
			SEOJ: Eoj{0x05, 0xFF, 0x01},
			DEOJ: Eoj{0x02, 0x88, 0x01},
			ESV:  0x62,
			Props: []Property{
				{EPC: 0xE7},
				{EPC: 0xE8},
			},
		},
	}
	got := Encode(f)
	want := []byte{0x10, 0x81, 0x12, 0x34, 0x05, 0xFF, 0x01, 0x02, 0x88, 0x01, 0x62, 0x02, 0xE7, 0x00, 0xE8, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode = % X, want % X", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		{
			TID:     1,
			Format1: true,
			EData: EData{
				SEOJ:  Eoj{0x05, 0xFF, 0x01},
				DEOJ:  Eoj{0x02, 0x88, 0x01},
				ESV:   0x62,
				Props: []Property{{EPC: 0xE7}},
			},
		},
		{
			TID:     0xFFFF,
			Format1: true,
			EData: EData{
				SEOJ: Eoj{0x02, 0x88, 0x01},
				DEOJ: Eoj{0x05, 0xFF, 0x01},
				ESV:  0x63,
				Props: []Property{
					{EPC: 0xE7, EDT: []byte{0x00, 0x00, 0x01, 0x2C}},
					{EPC: 0xE8, EDT: []byte{0x01}},
				},
			},
		},
		{
			TID:     0,
			Format1: true,
			EData: EData{
				SEOJ:  Eoj{0x01, 0x02, 0x03},
				DEOJ:  Eoj{0x04, 0x05, 0x06},
				ESV:   0x71,
				Props: nil,
			},
		},
	}
	for i, f := range cases {
		got, err := Decode(Encode(f))
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if got.EData.Props == nil {
			got.EData.Props = []Property{}
		}
		wantProps := f.EData.Props
		if wantProps == nil {
			wantProps = []Property{}
		}
		f.EData.Props = wantProps
		if !reflect.DeepEqual(got, f) {
			t.Fatalf("case %d: round trip mismatch:\ngot  %+v\nwant %+v", i, got, f)
		}
	}
}

func TestDecodeInvalidEHD1(t *testing.T) {
	_, err := Decode([]byte{0x11, 0x81, 0x00, 0x01})
	if !errors.Is(err, ErrInvalidEHD) {
		t.Fatalf("err = %v, want ErrInvalidEHD", err)
	}
}

func TestDecodeUnknownEHD2(t *testing.T) {
	_, err := Decode([]byte{0x10, 0x99, 0x00, 0x01})
	if !errors.Is(err, ErrInvalidEHD) {
		t.Fatalf("err = %v, want ErrInvalidEHD", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0x10, 0x81, 0x00})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestDecodeFormat2PassesThrough(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := append([]byte{0x10, 0x82, 0x00, 0x07}, raw...)
	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Format1 {
		t.Fatalf("Format1 = true, want false")
	}
	if f.TID != 0x0007 {
		t.Fatalf("TID = %#x, want 0x0007", f.TID)
	}
	if !bytes.Equal(f.Raw, raw) {
		t.Fatalf("Raw = % X, want % X", f.Raw, raw)
	}
}
