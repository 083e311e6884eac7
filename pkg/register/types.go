package register

import (
	"fmt"

	"github.com/samsamfire/goethercat/internal/wire"
)

// DeviceState is the AL state of a SubDevice, read from AlStatusReg and
// requested through AlControlReg. Unknown wire values are preserved so they
// round trip.
type DeviceState uint8

const (
	StateNone      DeviceState = 0x00
	StateInit      DeviceState = 0x01
	StatePreOp     DeviceState = 0x02
	StateBootstrap DeviceState = 0x03
	StateSafeOp    DeviceState = 0x04
	StateOp        DeviceState = 0x08
)

var stateNames = map[DeviceState]string{
	StateNone:      "NONE",
	StateInit:      "INIT",
	StatePreOp:     "PRE-OP",
	StateBootstrap: "BOOT",
	StateSafeOp:    "SAFE-OP",
	StateOp:        "OP",
}

func (s DeviceState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DeviceState(0x%02x)", uint8(s))
}

// AlControl is the 16 bit AL control word. Bits 0..3 carry the requested
// state, bit 4 acknowledges a latched error.
type AlControl struct {
	State    DeviceState
	AckError bool
}

func (c AlControl) Encode() uint16 {
	v := uint16(c.State) & 0x0F
	if c.AckError {
		v |= 1 << 4
	}
	return v
}

// AlStatus is the 16 bit AL status word: current state plus the error flag
// indicating a nonzero AL status code is latched.
type AlStatus struct {
	State DeviceState
	Error bool
}

func DecodeAlStatus(v uint16) AlStatus {
	return AlStatus{
		State: DeviceState(v & 0x0F),
		Error: v&(1<<4) != 0,
	}
}

// SupportFlags is the ESC feature register at 0x0008.
type SupportFlags struct {
	FmmuBitOps     bool
	DcSupported    bool
	Has64BitDc     bool
	LowJitter      bool
	EnhancedDcSync bool
	LrwSupported   bool
}

func DecodeSupportFlags(v uint16) SupportFlags {
	return SupportFlags{
		FmmuBitOps:     v&(1<<0) != 0,
		DcSupported:    v&(1<<2) != 0,
		Has64BitDc:     v&(1<<3) != 0,
		LowJitter:      v&(1<<4) != 0,
		EnhancedDcSync: v&(1<<8) != 0,
		LrwSupported:   v&(1<<9) != 0,
	}
}

// DlStatus is the data link status register at 0x0110. The MainDevice only
// cares about which ports have a physical link and which loop back, the
// inputs to topology discovery.
type DlStatus struct {
	PdiOperational bool
	WatchdogOk     bool
	LinkPort       [4]bool
	LoopbackPort   [4]bool
	SignalPort     [4]bool
}

func DecodeDlStatus(v uint16) DlStatus {
	var s DlStatus
	s.PdiOperational = v&(1<<0) != 0
	s.WatchdogOk = v&(1<<1) != 0
	for i := 0; i < 4; i++ {
		s.LinkPort[i] = v&(1<<(4+i)) != 0
		s.LoopbackPort[i] = v&(1<<(8+2*i)) != 0
		s.SignalPort[i] = v&(1<<(9+2*i)) != 0
	}
	return s
}

// PortOpen reports whether traffic is forwarded out of the given port: a
// physical link is up and the port is not looping back.
func (s DlStatus) PortOpen(port int) bool {
	return s.LinkPort[port] && s.SignalPort[port] && !s.LoopbackPort[port]
}

// SmDirection is the transfer direction of a sync manager channel as seen
// from the SubDevice.
type SmDirection uint8

const (
	SmDirectionRead  SmDirection = 0x00 // MainDevice reads (inputs)
	SmDirectionWrite SmDirection = 0x01 // MainDevice writes (outputs)
)

// SmOperationMode selects buffered (3 buffer, process data) or mailbox
// operation.
type SmOperationMode uint8

const (
	SmModeBuffered SmOperationMode = 0x00
	SmModeMailbox  SmOperationMode = 0x02
)

// SyncManagerChannel is one 8 byte sync manager entity.
type SyncManagerChannel struct {
	PhysicalStartAddress uint16
	Length               uint16
	Mode                 SmOperationMode
	Direction            SmDirection
	EcatEventEnable      bool
	WatchdogEnable       bool
	Status               uint8
	Enable               bool
}

const SyncManagerChannelLength = 8

func (s SyncManagerChannel) Encode() [SyncManagerChannelLength]byte {
	var b [SyncManagerChannelLength]byte
	wire.PutUint16At(b[:], 0, s.PhysicalStartAddress)
	wire.PutUint16At(b[:], 2, s.Length)

	control := uint8(s.Mode)&0x03 | (uint8(s.Direction)&0x03)<<2
	if s.EcatEventEnable {
		control |= 1 << 4
	}
	if s.WatchdogEnable {
		control |= 1 << 6
	}
	b[4] = control
	b[5] = 0 // status is read only
	if s.Enable {
		b[6] = 1
	}
	return b
}

func DecodeSyncManagerChannel(b []byte) (SyncManagerChannel, error) {
	if len(b) < SyncManagerChannelLength {
		return SyncManagerChannel{}, wire.ErrBufferTooShort
	}
	return SyncManagerChannel{
		PhysicalStartAddress: wire.Uint16At(b, 0),
		Length:               wire.Uint16At(b, 2),
		Mode:                 SmOperationMode(b[4] & 0x03),
		Direction:            SmDirection(b[4] >> 2 & 0x03),
		EcatEventEnable:      b[4]&(1<<4) != 0,
		WatchdogEnable:       b[4]&(1<<6) != 0,
		Status:               b[5],
		Enable:               b[6]&1 != 0,
	}, nil
}

// MailboxFull reports whether the channel's buffer holds unread data, bit 3
// of the status byte.
func (s SyncManagerChannel) MailboxFull() bool {
	return s.Status&(1<<3) != 0
}

// Fmmu is one 16 byte FMMU entity mapping a logical address window onto the
// SubDevice's physical memory.
type Fmmu struct {
	LogicalStartAddress  uint32
	Length               uint16
	LogicalStartBit      uint8
	LogicalEndBit        uint8
	PhysicalStartAddress uint16
	PhysicalStartBit     uint8
	ReadEnable           bool
	WriteEnable          bool
	Enable               bool
}

const FmmuLength = 16

func (f Fmmu) Encode() [FmmuLength]byte {
	var b [FmmuLength]byte
	wire.PutUint32At(b[:], 0, f.LogicalStartAddress)
	wire.PutUint16At(b[:], 4, f.Length)
	b[6] = f.LogicalStartBit & 0x07
	b[7] = f.LogicalEndBit & 0x07
	wire.PutUint16At(b[:], 8, f.PhysicalStartAddress)
	b[10] = f.PhysicalStartBit & 0x07
	var access uint8
	if f.ReadEnable {
		access |= 1 << 0
	}
	if f.WriteEnable {
		access |= 1 << 1
	}
	b[11] = access
	if f.Enable {
		b[12] = 1
	}
	return b
}

func DecodeFmmu(b []byte) (Fmmu, error) {
	if len(b) < FmmuLength {
		return Fmmu{}, wire.ErrBufferTooShort
	}
	return Fmmu{
		LogicalStartAddress:  wire.Uint32At(b, 0),
		Length:               wire.Uint16At(b, 4),
		LogicalStartBit:      b[6] & 0x07,
		LogicalEndBit:        b[7] & 0x07,
		PhysicalStartAddress: wire.Uint16At(b, 8),
		PhysicalStartBit:     b[10] & 0x07,
		ReadEnable:           b[11]&(1<<0) != 0,
		WriteEnable:          b[11]&(1<<1) != 0,
		Enable:               b[12]&1 != 0,
	}, nil
}

func (f Fmmu) String() string {
	rw := ""
	if f.ReadEnable {
		rw += "R"
	}
	if f.WriteEnable {
		rw += "W"
	}
	return fmt.Sprintf("logical 0x%08x, size %d, physical 0x%04x, %s", f.LogicalStartAddress, f.Length, f.PhysicalStartAddress, rw)
}
