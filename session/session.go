// Package session drives a modem.Driver from Disconnected through the
// scan/join handshake to a Connected state offering peer-filtered
// send/recv.
package session

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/hnw/broute-meter-exporter/modem"
)

// State is the session's position in the Disconnected -> Connected
// handshake.
type State int

const (
	Disconnected State = iota
	Scanning
	DescriptorSelected
	Joining
	Connected
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Scanning:
		return "scanning"
	case DescriptorSelected:
		return "descriptor_selected"
	case Joining:
		return "joining"
	case Connected:
		return "connected"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Errors returned by Manager operations, per the taxonomy's session-error
// class.
var (
	ErrCoordinatorNotFound = errors.New("session: no coordinator found during scan")
	ErrConnectionFailed    = errors.New("session: join was rejected")
	ErrNotConnected        = errors.New("session: operation requires a connected session")
	ErrAlreadyConnected    = errors.New("session: credentials cannot be changed once connected")
)

// Credentials are the route-B id and password used to authenticate to the
// meter. Either both are set or neither is: a partially configured
// Credentials is a configuration error the caller should catch before
// calling Connect.
type Credentials struct {
	RouteBID       string // 32 hex characters
	RouteBPassword string
}

// Config holds the static scan/join parameters a Manager needs for every
// connect attempt.
type Config struct {
	Credentials     *Credentials
	ScanChannelMask uint32
	ScanDuration    uint8
}

const (
	echonetPort   = 3610
	sendHandle    = 1
	numDescFound  = 0x20
	numScanDone   = 0x22
	numJoinFailed = 0x24
	numConnected  = 0x25
)

// Manager drives one modem.Driver through the connect handshake and
// exposes a peer-filtered datagram I/O pair once connected.
type Manager struct {
	driver *modem.Driver
	cfg    Config

	state      State
	remoteAddr string
}

// New constructs a Manager bound to driver.
func New(driver *modem.Driver, cfg Config) *Manager {
	return &Manager{driver: driver, cfg: cfg, state: Disconnected}
}

// State reports the manager's current position in the handshake.
func (m *Manager) State() State { return m.state }

// RemoteAddr reports the connected meter's IPv6 link-local address. It is
// only meaningful once State() == Connected.
func (m *Manager) RemoteAddr() string { return m.remoteAddr }

// Connect drives the scan -> descriptor -> register -> join handshake
// through to Connected, or returns ErrCoordinatorNotFound /
// ErrConnectionFailed.
func (m *Manager) Connect() error {
	if m.state == Connected {
		return ErrAlreadyConnected
	}
	if m.state == Terminated {
		return ErrNotConnected
	}

	if m.cfg.Credentials != nil {
		if err := m.driver.SetRouteBID(m.cfg.Credentials.RouteBID); err != nil {
			return fmt.Errorf("session: SetRouteBID: %w", err)
		}
		if err := m.driver.SetRouteBPassword(m.cfg.Credentials.RouteBPassword); err != nil {
			return fmt.Errorf("session: SetRouteBPassword: %w", err)
		}
	}

	m.state = Scanning
	if err := m.driver.Scan(modem.ScanModeActiveWithIE, m.cfg.ScanChannelMask, m.cfg.ScanDuration, modem.SideB); err != nil {
		return fmt.Errorf("session: SKSCAN: %w", err)
	}

	found, err := m.drainUntilScanOutcome()
	if err != nil {
		return err
	}
	if !found {
		m.state = Disconnected
		return ErrCoordinatorNotFound
	}

	desc, err := m.driver.ReadPanDescriptor()
	if err != nil {
		return fmt.Errorf("session: reading PAN descriptor: %w", err)
	}
	m.state = DescriptorSelected

	if err := m.drainRemainingScanEvents(); err != nil {
		return err
	}

	addr64Hex := strings.ToUpper(hex.EncodeToString(desc.Addr64[:]))
	linkLocal, err := m.driver.ResolveLinkLocal(addr64Hex)
	if err != nil {
		return fmt.Errorf("session: SKLL64: %w", err)
	}
	m.remoteAddr = linkLocal

	if err := m.driver.SetRegister(modem.RegChannel, fmt.Sprintf("%02X", desc.Channel)); err != nil {
		return fmt.Errorf("session: writing S02: %w", err)
	}
	if err := m.driver.SetRegister(modem.RegPanID, fmt.Sprintf("%04X", desc.PanID)); err != nil {
		return fmt.Errorf("session: writing S03: %w", err)
	}

	m.state = Joining
	if err := m.driver.Join(m.remoteAddr); err != nil {
		return fmt.Errorf("session: SKJOIN: %w", err)
	}

	ok, err := m.drainUntilJoinOutcome()
	if err != nil {
		return err
	}
	if !ok {
		m.state = Disconnected
		return ErrConnectionFailed
	}

	m.state = Connected
	return nil
}

// drainUntilScanOutcome reads events until 0x20 (descriptor found, true) or
// 0x22 (scan complete with nothing found, false).
func (m *Manager) drainUntilScanOutcome() (bool, error) {
	for {
		ev, err := m.driver.WaitEvent()
		if err != nil {
			return false, fmt.Errorf("session: waiting for scan outcome: %w", err)
		}
		num, ok := ev.(*modem.NumericEvent)
		if !ok {
			log.WithField("event", ev).Debug("session: ignoring non-numeric event during scan")
			continue
		}
		switch num.Num {
		case numDescFound:
			return true, nil
		case numScanDone:
			return false, nil
		default:
			log.WithField("num", num.Num).Debug("session: ignoring numeric event during scan")
		}
	}
}

// drainRemainingScanEvents discards events, including any further PAN
// descriptors, until the scan-complete event (0x22).
func (m *Manager) drainRemainingScanEvents() error {
	for {
		ev, err := m.driver.WaitEvent()
		if err != nil {
			return fmt.Errorf("session: draining scan completion: %w", err)
		}
		num, ok := ev.(*modem.NumericEvent)
		if ok && num.Num == numScanDone {
			return nil
		}
		log.WithField("event", ev).Debug("session: discarding event after descriptor selection")
	}
}

// drainUntilJoinOutcome reads events until 0x24 (join failed, false) or
// 0x25 (connected, true).
func (m *Manager) drainUntilJoinOutcome() (bool, error) {
	for {
		ev, err := m.driver.WaitEvent()
		if err != nil {
			return false, fmt.Errorf("session: waiting for join outcome: %w", err)
		}
		num, ok := ev.(*modem.NumericEvent)
		if !ok {
			log.WithField("event", ev).Debug("session: ignoring non-numeric event during join")
			continue
		}
		switch num.Num {
		case numJoinFailed:
			return false, nil
		case numConnected:
			return true, nil
		default:
			log.WithField("num", num.Num).Debug("session: ignoring numeric event during join")
		}
	}
}

// Send writes bytes to the connected peer over the echonetPort UDP
// endpoint, encrypted.
func (m *Manager) Send(payload []byte) error {
	if m.state != Connected {
		return ErrNotConnected
	}
	return m.driver.SendDatagram(sendHandle, m.remoteAddr, echonetPort, modem.SecurityEncrypted, modem.SideB, payload)
}

// Recv waits up to timeoutMs for a datagram from the connected peer's
// echonetPort, discarding any event or datagram that doesn't match. It
// applies timeoutMs per inner poll rather than as a single wall-clock
// deadline across the whole call: under event flooding the call can run
// longer than timeoutMs.
func (m *Manager) Recv(timeoutMs int) ([]byte, error) {
	if m.state != Connected {
		return nil, ErrNotConnected
	}
	for {
		ev, err := m.driver.PollEvent(timeoutMs)
		if errors.Is(err, modem.ErrTimeout) {
			return nil, modem.ErrTimeout
		}
		if err != nil {
			return nil, err
		}
		dg, ok := ev.(*modem.DatagramEvent)
		if !ok {
			log.WithField("event", ev).Debug("session: discarding non-datagram event during recv")
			continue
		}
		if dg.Sender != m.remoteAddr || dg.RPort != echonetPort || dg.LPort != echonetPort {
			log.WithFields(log.Fields{
				"sender": dg.Sender, "rport": dg.RPort, "lport": dg.LPort,
			}).Debug("session: discarding datagram from unexpected peer/port")
			continue
		}
		return dg.Payload, nil
	}
}

// Close issues SKTERM best-effort and transitions to Terminated. After
// Close, Connect/Send/Recv fail with ErrNotConnected.
func (m *Manager) Close() {
	if m.state == Connected {
		if err := m.driver.Terminate(); err != nil {
			log.WithError(err).Debug("session: SKTERM failed during close, ignoring")
		}
	}
	m.state = Terminated
	m.remoteAddr = ""
}
