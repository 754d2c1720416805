package modem

import (
	"fmt"
	"strconv"
)

// Event is the sum type of things that can arrive on the wire outside of a
// command's own synchronous result.
type Event interface {
	isEvent()
}

// NumericEvent is the "EVENT <num> <sender> <side> [param]" line.
type NumericEvent struct {
	Num    uint8
	Sender string // canonical IPv6 text, as received
	Side   Side
	Param  *uint8
}

func (NumericEvent) isEvent() {}

// PanDescriptorEvent is the EPANDESC block describing one scan hit.
type PanDescriptorEvent struct {
	Channel     uint8
	ChannelPage uint8
	PanID       uint16
	Addr64      [8]byte
	LQI         uint8
	Side        Side
	PairID      string // exactly 8 printable characters
}

func (PanDescriptorEvent) isEvent() {}

// DatagramEvent is an ERXUDP announcing an inbound UDP datagram.
type DatagramEvent struct {
	Sender    string
	Dest      string
	RPort     uint16
	LPort     uint16
	SenderLLA [8]byte
	Secured   bool
	Side      Side
	Payload   []byte
}

func (DatagramEvent) isEvent() {}

func paramApplies(num uint8) bool {
	return num == 0x21 || num == 0x45
}

// parseNumericEvent parses the remainder of an "EVENT" line after the head
// token has already been consumed. r is positioned right after "EVENT ".
func parseNumericEvent(r *byteReader) (*NumericEvent, error) {
	numTok, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	num64, err := strconv.ParseUint(numTok, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("modem: malformed EVENT num %q: %w", numTok, err)
	}
	num := uint8(num64)

	sender, senderDelimSpace, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	if len(sender) != 39 {
		return nil, fmt.Errorf("modem: EVENT sender address %q is not 39 characters", sender)
	}

	ev := &NumericEvent{Num: num, Sender: sender}

	if !senderDelimSpace {
		// No side token at all: treat as side B, matches the wire's
		// permissive "side defaults to the only one in play" behavior
		// for param-less events emitted without it.
		ev.Side = SideB
		return ev, nil
	}

	sideTok, sideDelimSpace, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	side, err := parseSideHex(sideTok)
	if err != nil {
		return nil, err
	}
	ev.Side = side

	if !sideDelimSpace {
		return ev, nil
	}

	if !paramApplies(num) {
		return nil, fmt.Errorf("modem: EVENT %02X unexpectedly carries a param", num)
	}
	paramTok, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	p64, err := strconv.ParseUint(paramTok, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("modem: malformed EVENT param %q: %w", paramTok, err)
	}
	p := uint8(p64)
	ev.Param = &p
	return ev, nil
}

// expectPropertyLine reads a "  Name:value\r\n" line and checks Name matches
// want, returning value.
func expectPropertyLine(r *byteReader, want string) (string, error) {
	line, err := r.readUntilCRLF()
	if err != nil {
		return "", err
	}
	if len(line) < 3 || line[0] != ' ' || line[1] != ' ' {
		return "", fmt.Errorf("modem: EPANDESC property line %q missing leading spaces", line)
	}
	rest := line[2:]
	prefix := want + ":"
	if len(rest) < len(prefix) || rest[:len(prefix)] != prefix {
		return "", fmt.Errorf("modem: EPANDESC property line %q, want prefix %q", line, prefix)
	}
	return rest[len(prefix):], nil
}

func parseHexUint(tok string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(tok, 16, bits)
	if err != nil {
		return 0, fmt.Errorf("modem: malformed hex field %q: %w", tok, err)
	}
	return v, nil
}

func parseHex8(tok string) ([8]byte, error) {
	var out [8]byte
	if len(tok) != 16 {
		return out, fmt.Errorf("modem: hex-8 field %q is not 16 hex characters", tok)
	}
	for i := 0; i < 8; i++ {
		v, err := strconv.ParseUint(tok[i*2:i*2+2], 16, 8)
		if err != nil {
			return out, fmt.Errorf("modem: malformed hex-8 field %q: %w", tok, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// parsePanDescriptor parses the EPANDESC block. r is positioned right after
// the "EPANDESC" head token's terminating CRLF.
func parsePanDescriptor(r *byteReader) (*PanDescriptorEvent, error) {
	chTok, err := expectPropertyLine(r, "Channel")
	if err != nil {
		return nil, err
	}
	ch, err := parseHexUint(chTok, 8)
	if err != nil {
		return nil, err
	}

	pageTok, err := expectPropertyLine(r, "Channel Page")
	if err != nil {
		return nil, err
	}
	page, err := parseHexUint(pageTok, 8)
	if err != nil {
		return nil, err
	}

	panTok, err := expectPropertyLine(r, "Pan ID")
	if err != nil {
		return nil, err
	}
	pan, err := parseHexUint(panTok, 16)
	if err != nil {
		return nil, err
	}

	addrTok, err := expectPropertyLine(r, "Addr")
	if err != nil {
		return nil, err
	}
	addr, err := parseHex8(addrTok)
	if err != nil {
		return nil, err
	}

	lqiTok, err := expectPropertyLine(r, "LQI")
	if err != nil {
		return nil, err
	}
	lqi, err := parseHexUint(lqiTok, 8)
	if err != nil {
		return nil, err
	}

	sideTok, err := expectPropertyLine(r, "Side")
	if err != nil {
		return nil, err
	}
	side, err := parseSideHex(sideTok)
	if err != nil {
		return nil, err
	}

	pairID, err := expectPropertyLine(r, "PairID")
	if err != nil {
		return nil, err
	}
	if len(pairID) != 8 {
		return nil, fmt.Errorf("modem: EPANDESC PairID %q is not 8 characters", pairID)
	}

	return &PanDescriptorEvent{
		Channel:     uint8(ch),
		ChannelPage: uint8(page),
		PanID:       uint16(pan),
		Addr64:      addr,
		LQI:         uint8(lqi),
		Side:        side,
		PairID:      pairID,
	}, nil
}

// parseDatagramEvent parses an ERXUDP line's fields and trailing payload. r
// is positioned right after the "ERXUDP" head token.
func parseDatagramEvent(r *byteReader) (*DatagramEvent, error) {
	sender, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	if len(sender) != 39 {
		return nil, fmt.Errorf("modem: ERXUDP sender %q is not 39 characters", sender)
	}

	dest, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	if len(dest) != 39 {
		return nil, fmt.Errorf("modem: ERXUDP dest %q is not 39 characters", dest)
	}

	rportTok, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	rport, err := parseHexUint(rportTok, 16)
	if err != nil {
		return nil, err
	}

	lportTok, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	lport, err := parseHexUint(lportTok, 16)
	if err != nil {
		return nil, err
	}

	llaTok, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	lla, err := parseHex8(llaTok)
	if err != nil {
		return nil, err
	}

	securedTok, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	secured, err := parseHexUint(securedTok, 8)
	if err != nil {
		return nil, err
	}

	sideTok, _, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	side, err := parseSideHex(sideTok)
	if err != nil {
		return nil, err
	}

	lenTok, delimSpace, err := r.readHeadToken()
	if err != nil {
		return nil, err
	}
	length, err := parseHexUint(lenTok, 16)
	if err != nil {
		return nil, err
	}
	if !delimSpace {
		return nil, fmt.Errorf("modem: ERXUDP data-length token %q not followed by payload", lenTok)
	}

	payload, err := r.readN(int(length))
	if err != nil {
		return nil, err
	}
	if err := r.expectCRLF(); err != nil {
		return nil, err
	}

	return &DatagramEvent{
		Sender:    sender,
		Dest:      dest,
		RPort:     uint16(rport),
		LPort:     uint16(lport),
		SenderLLA: lla,
		Secured:   secured != 0,
		Side:      side,
		Payload:   payload,
	}, nil
}

// parseEvent dispatches on an already-read head token (one of "EVENT",
// "EPANDESC", "ERXUDP") and parses the rest of that event from r.
func parseEvent(head string, r *byteReader) (Event, error) {
	switch head {
	case "EVENT":
		return parseNumericEvent(r)
	case "EPANDESC":
		// The head token itself is terminated by CRLF (readHeadToken
		// already consumed it), so r is positioned at the first
		// property line.
		return parsePanDescriptor(r)
	case "ERXUDP":
		return parseDatagramEvent(r)
	default:
		return nil, fmt.Errorf("modem: unrecognized event head %q", head)
	}
}
