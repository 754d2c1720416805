package modem

import "fmt"

// Side identifies which radio interface a modem event or command refers to.
type Side int

const (
	// SideB is the Wi-SUN (B-route) interface.
	SideB Side = 0
	// SideH is the HAN interface.
	SideH Side = 1
)

func parseSideHex(tok string) (Side, error) {
	switch tok {
	case "0":
		return SideB, nil
	case "1":
		return SideH, nil
	default:
		return 0, fmt.Errorf("modem: invalid side %q", tok)
	}
}

// ScanMode selects the active-scan variant passed to SKSCAN.
type ScanMode int

const (
	ScanModeED              ScanMode = 0
	ScanModeActiveWithIE    ScanMode = 2
	ScanModeActiveWithoutIE ScanMode = 3
)

// SecurityMode selects the security mode passed to SKSENDTO.
type SecurityMode int

const (
	SecurityPlain             SecurityMode = 0
	SecurityEncrypted         SecurityMode = 1
	SecurityEncryptedFallback SecurityMode = 2
)

// SRegister is one of the closed set of named modem registers addressable
// via SKSREG.
type SRegister string

const (
	RegChannel       SRegister = "S02"
	RegPanID         SRegister = "S03"
	RegLatency       SRegister = "S07"
	RegAutoReauth    SRegister = "S0A"
	RegARIBChan      SRegister = "S0B"
	RegICMPFragLimit SRegister = "S15"
	RegSeqNumCheck   SRegister = "S16"
	RegUartBaud      SRegister = "S17"
	RegWOPT          SRegister = "S1C"
	RegAutoConnect   SRegister = "SA1"
	RegEncKeyReuse   SRegister = "SA2"
	RegPanaSessLife  SRegister = "SA9"
	RegBroadcastDur  SRegister = "SF0"
	RegRespDelay     SRegister = "SFB"
	RegWaitTime      SRegister = "SFD"
	RegDualStack     SRegister = "SFE"
	RegPowerSave     SRegister = "SFF"
)

var validRegisters = map[SRegister]bool{
	RegChannel: true, RegPanID: true, RegLatency: true, RegAutoReauth: true,
	RegARIBChan: true, RegICMPFragLimit: true, RegSeqNumCheck: true, RegUartBaud: true,
	RegWOPT: true, RegAutoConnect: true, RegEncKeyReuse: true, RegPanaSessLife: true,
	RegBroadcastDur: true, RegRespDelay: true, RegWaitTime: true, RegDualStack: true,
	RegPowerSave: true,
}

// Valid reports whether reg is one of the closed set of known register tags.
func (reg SRegister) Valid() bool {
	return validRegisters[reg]
}
