package sim

import (
	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/command"
	"github.com/samsamfire/goethercat/pkg/frame"
	"github.com/samsamfire/goethercat/pkg/register"
)

const (
	// Physical memory layout of a simulated device.
	memSize          = 0x3000
	mailboxRecvStart = 0x1000
	mailboxLen       = 128
	mailboxSendStart = 0x1080
	processOutStart  = 0x1180
	processInStart   = 0x1100
)

// Config describes one simulated SubDevice.
type Config struct {
	VendorID     uint32
	ProductCode  uint32
	Revision     uint32
	SerialNumber uint32
	Name         string
	Alias        uint16

	DcSupported bool
	// PortTimes are the receive times latched at the DC broadcast, in
	// register order (ports 0..3). A zero time on ports 1..3 marks the
	// port closed.
	PortTimes [4]uint32
	// SystemTime is the device's free running DC clock value.
	SystemTime uint64

	// Mailbox enables the standard mailbox pair and the CoE SDO server.
	Mailbox bool
	// MailboxLength overrides the mailbox buffer size, default 128.
	// Small values force segmented SDO transfers.
	MailboxLength uint16

	// Inputs is the device's cyclic input data (device to MainDevice).
	Inputs []byte
	// OutputsLen reserves cyclic output bytes (MainDevice to device).
	OutputsLen int

	// FailStateCode, when nonzero, makes SAFE-OP and OP requests fail
	// with this code while lower states still succeed.
	FailStateCode register.AlStatusCode

	// Objects seeds additional CoE object dictionary entries:
	// index -> subindex -> data.
	Objects map[uint16]map[uint8][]byte
}

// Device is one simulated SubDevice.
type Device struct {
	cfg    Config
	mbxLen int

	// mem is the ESC physical memory: registers below 0x1000, mailbox
	// and process data above.
	mem [memSize]byte

	eeprom []byte

	objects map[uint16]map[uint8][]byte

	// segmented transfer state
	segData []byte
	dlIndex uint16
	dlSub   uint8
	dlTotal int

	outputs []byte
}

// NewDevice builds a simulated device from its configuration.
func NewDevice(cfg Config) *Device {
	d := &Device{
		cfg:     cfg,
		mbxLen:  mailboxLen,
		objects: map[uint16]map[uint8][]byte{},
		outputs: make([]byte, cfg.OutputsLen),
	}
	if cfg.MailboxLength > 0 {
		d.mbxLen = int(cfg.MailboxLength)
	}

	// Port descriptors and support flags.
	var support uint16
	if cfg.DcSupported {
		support |= 1 << 2 // DC
		support |= 1 << 3 // 64 bit DC
	}
	support |= 1 << 9 // LRW supported
	wire.PutUint16At(d.mem[:], int(register.SupportFlagsReg), support)

	// DL status: port 0 always linked; ports with a nonzero receive time
	// are open.
	dl := uint16(1<<4 | 1<<9)
	for port := 1; port < 4; port++ {
		if cfg.PortTimes[port] != 0 {
			dl |= 1 << (4 + port)   // link
			dl |= 1 << (9 + 2*port) // signal
		}
	}
	wire.PutUint16At(d.mem[:], int(register.DlStatusReg), dl)

	// AL state begins in INIT.
	wire.PutUint16At(d.mem[:], int(register.AlStatusReg), uint16(register.StateInit))

	wire.PutUint64At(d.mem[:], int(register.DcSystemTime), cfg.SystemTime)

	// SII interface answers 8 bytes per read.
	wire.PutUint16At(d.mem[:], int(register.SiiControl), 1<<6)

	d.eeprom = buildEeprom(cfg)

	for index, subs := range cfg.Objects {
		d.objects[index] = map[uint8][]byte{}
		for sub, data := range subs {
			d.objects[index][sub] = append([]byte(nil), data...)
		}
	}
	if cfg.Mailbox {
		d.seedPdoObjects()
	}

	copy(d.mem[processInStart:], cfg.Inputs)

	return d
}

func (d *Device) stationAddress() uint16 {
	return wire.Uint16At(d.mem[:], int(register.ConfiguredStationAddress))
}

// SetInputs updates the device's cyclic input data.
func (d *Device) SetInputs(data []byte) {
	copy(d.mem[processInStart:], data)
}

// Outputs returns the output bytes last written by the MainDevice.
func (d *Device) Outputs() []byte {
	return d.outputs
}

// AlState returns the device's current AL state.
func (d *Device) AlState() register.DeviceState {
	return register.DecodeAlStatus(wire.Uint16At(d.mem[:], int(register.AlStatusReg))).State
}

// process runs one PDU through this device. pduBuf starts with the 10 byte
// PDU header (mutable, for auto increment addressing), data is the payload
// area of the frame.
func (d *Device) process(cmd command.Code, pduBuf []byte, data []byte, wkc uint16) uint16 {
	header := pduBuf[:frame.PduHeaderLength]

	if cmd.IsLogical() {
		return d.processLogical(cmd, wire.Uint32At(header, 2), data, wkc)
	}

	if !addressMatch(cmd, header, d) {
		return wkc
	}

	offset := wire.Uint16At(header, 4)

	if cmd.IsRead() {
		if cmd == command.BRD || cmd == command.BRW {
			// Broadcast reads OR every device's data together.
			tmp := make([]byte, len(data))
			d.readMemory(offset, tmp)
			for i := range data {
				data[i] |= tmp[i]
			}
		} else {
			d.readMemory(offset, data)
		}
		wkc++
	}
	if cmd.IsWrite() {
		d.writeMemory(offset, data)
		wkc++
	}
	return wkc
}

// processReadMultipleWrite implements FRMW/ARMW: the addressed device
// places its register value into the datagram, every device after it on
// the wire takes the value.
func (d *Device) processReadMultipleWrite(cmd command.Code, pduBuf []byte, data []byte, wkc uint16, seen *bool) uint16 {
	header := pduBuf[:frame.PduHeaderLength]
	offset := wire.Uint16At(header, 4)

	if !*seen {
		if addressMatch(cmd, header, d) {
			d.readMemory(offset, data)
			*seen = true
			wkc++
		}
		return wkc
	}

	d.writeMemory(offset, data)
	return wkc + 1
}

// readMemory serves a register/memory read.
func (d *Device) readMemory(offset uint16, data []byte) {
	end := int(offset) + len(data)
	if end > len(d.mem) {
		end = len(d.mem)
	}
	copy(data, d.mem[offset:end])

	// Reading the send mailbox hands the response over: the sync manager
	// reports empty again.
	if offset == mailboxSendStart {
		d.mem[register.SyncManagerStatus(1)] &^= 1 << 3
	}
}

// writeMemory applies a register/memory write and triggers the side
// effects of the special registers.
func (d *Device) writeMemory(offset uint16, data []byte) {
	end := int(offset) + len(data)
	if end > len(d.mem) {
		return
	}
	copy(d.mem[offset:end], data)

	d.afterWrite(offset, len(data))
}

// afterWrite implements register side effects.
func (d *Device) afterWrite(offset uint16, length int) {
	touches := func(reg uint16, regLen int) bool {
		return offset < reg+uint16(regLen) && reg < offset+uint16(length)
	}

	switch {
	case touches(register.AlControlReg, 2):
		d.handleAlControl()

	case touches(register.SiiControl, 4):
		d.handleSiiControl()

	case touches(register.DcTimePort0, 4):
		d.latchPortTimes()

	case touches(mailboxRecvStart, d.mbxLen):
		d.handleMailboxRequest(d.mem[mailboxRecvStart : mailboxRecvStart+d.mbxLen])
	}
}

func (d *Device) handleAlControl() {
	control := wire.Uint16At(d.mem[:], int(register.AlControlReg))
	requested := register.DeviceState(control & 0x0F)
	ack := control&(1<<4) != 0

	status := wire.Uint16At(d.mem[:], int(register.AlStatusReg))

	failing := requested == register.StateSafeOp || requested == register.StateOp
	if d.cfg.FailStateCode != 0 && failing {
		// Refuse: stay in current state, set error flag and code.
		status |= 1 << 4
		wire.PutUint16At(d.mem[:], int(register.AlStatusReg), status)
		wire.PutUint16At(d.mem[:], int(register.AlStatusCodeReg), uint16(d.cfg.FailStateCode))
		return
	}

	if ack {
		status &^= 1 << 4
		wire.PutUint16At(d.mem[:], int(register.AlStatusCodeReg), 0)
	}

	status = status&^0x0F | uint16(requested)&0x0F
	wire.PutUint16At(d.mem[:], int(register.AlStatusReg), status)
}

// handleSiiControl emulates the SII state machine: a read command latches
// 8 bytes of the EEPROM image into the data register. The busy flag never
// reads back set, device reads are instantaneous here.
func (d *Device) handleSiiControl() {
	control := wire.Uint16At(d.mem[:], int(register.SiiControl))
	if control&(1<<8) == 0 { // read trigger
		return
	}

	wordAddress := int(wire.Uint16At(d.mem[:], int(register.SiiAddress)))
	byteAddress := wordAddress * 2

	var chunk [8]byte
	if byteAddress < len(d.eeprom) {
		copy(chunk[:], d.eeprom[byteAddress:])
	}
	copy(d.mem[register.SiiData:register.SiiData+8], chunk[:])

	// Read size: always answer 8 bytes.
	control |= 1 << 6
	control &^= 1 << 8
	wire.PutUint16At(d.mem[:], int(register.SiiControl), control)
}

func (d *Device) latchPortTimes() {
	if !d.cfg.DcSupported {
		return
	}
	for port := 0; port < 4; port++ {
		wire.PutUint32At(d.mem[:], int(register.DcTimePort0)+4*port, d.cfg.PortTimes[port])
	}
	wire.PutUint64At(d.mem[:], int(register.DcReceiveTime), uint64(d.cfg.PortTimes[0]))
}

// processLogical serves LRD/LWR/LRW through the device's enabled FMMUs.
func (d *Device) processLogical(cmd command.Code, logicalStart uint32, data []byte, wkc uint16) uint16 {
	read := false
	written := false

	for idx := uint8(0); idx < 2; idx++ {
		raw := d.mem[register.FmmuAddress(idx) : register.FmmuAddress(idx)+register.FmmuLength]
		fmmu, err := register.DecodeFmmu(raw)
		if err != nil || !fmmu.Enable || fmmu.Length == 0 {
			continue
		}

		// Overlap of the PDU's logical window with this FMMU's window.
		pduEnd := logicalStart + uint32(len(data))
		fmmuEnd := fmmu.LogicalStartAddress + uint32(fmmu.Length)
		start := logicalStart
		if fmmu.LogicalStartAddress > start {
			start = fmmu.LogicalStartAddress
		}
		end := pduEnd
		if fmmuEnd < end {
			end = fmmuEnd
		}
		if start >= end {
			continue
		}

		dataOff := int(start - logicalStart)
		physOff := int(fmmu.PhysicalStartAddress) + int(start-fmmu.LogicalStartAddress)
		n := int(end - start)

		if fmmu.ReadEnable && cmd.IsRead() {
			copy(data[dataOff:dataOff+n], d.mem[physOff:physOff+n])
			read = true
		}
		if fmmu.WriteEnable && cmd.IsWrite() {
			copy(d.mem[physOff:physOff+n], data[dataOff:dataOff+n])
			if physOff >= processOutStart && physOff+n <= processOutStart+len(d.outputs) {
				copy(d.outputs[physOff-processOutStart:], data[dataOff:dataOff+n])
			}
			written = true
		}
	}

	if read {
		wkc++
	}
	if written {
		wkc += 2
	}
	return wkc
}
