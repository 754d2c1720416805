package echonet

import (
	"encoding/binary"
	"fmt"
)

// FieldType names a fixed-width big-endian integer layout read from the
// head of a Property's EDT.
type FieldType int

const (
	I8 FieldType = iota
	I16
	I32
	U8
	U16
	U32
)

func (t FieldType) width() int {
	switch t {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32:
		return 4
	default:
		return 0
	}
}

// FieldLayout names one value to decode from a Property's EDT.
type FieldLayout struct {
	Name string
	Type FieldType
}

// Field is one decoded (name, value) pair. Value always holds an int64
// regardless of the source width, sign-extended for signed types.
type Field struct {
	Name  string
	Value int64
}

// ReadFields decodes layouts in order from the head of p.EDT. A nil or
// empty EDT yields no fields. It returns an error if EDT is shorter than
// the sum of the requested widths.
func ReadFields(p Property, layouts []FieldLayout) ([]Field, error) {
	if len(p.EDT) == 0 {
		return nil, nil
	}
	out := make([]Field, 0, len(layouts))
	off := 0
	for _, l := range layouts {
		w := l.Type.width()
		if off+w > len(p.EDT) {
			return nil, fmt.Errorf("echonet: EDT too short for field %q: need %d bytes at offset %d, have %d", l.Name, w, off, len(p.EDT))
		}
		chunk := p.EDT[off : off+w]
		off += w

		var v int64
		switch l.Type {
		case I8:
			v = int64(int8(chunk[0]))
		case U8:
			v = int64(chunk[0])
		case I16:
			v = int64(int16(binary.BigEndian.Uint16(chunk)))
		case U16:
			v = int64(binary.BigEndian.Uint16(chunk))
		case I32:
			v = int64(int32(binary.BigEndian.Uint32(chunk)))
		case U32:
			v = int64(binary.BigEndian.Uint32(chunk))
		}
		out = append(out, Field{Name: l.Name, Value: v})
	}
	return out, nil
}
