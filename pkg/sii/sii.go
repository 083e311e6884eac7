// Package sii reads the SubDevice Information Interface: the EEPROM behind
// every ESC, accessed word by word through the SII control/address/data
// registers. The reader hides the chunked 4 or 8 byte register interface
// behind a byte oriented section reader with skip and take operations, plus
// convenience accessors for the fixed layout words (identity, alias,
// mailbox configuration) and the strings category.
package sii

import (
	"errors"
	"time"

	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/register"
	log "github.com/sirupsen/logrus"
)

var (
	ErrClearErrors    = errors.New("SII error flags could not be cleared")
	ErrTimeout        = errors.New("SII read timeout")
	ErrSectionOverrun = errors.New("read past end of SII section")
	ErrStringNotFound = errors.New("SII string index not found")
	ErrOutOfRange     = errors.New("SII address out of range")
)

// Fixed word addresses of the SII, ETG1000.6 Table 16.
const (
	WordPdiControl     uint16 = 0x0000
	WordNameIndex      uint16 = 0x0003
	WordAliasAddress   uint16 = 0x0004
	WordVendorID       uint16 = 0x0008
	WordProductCode    uint16 = 0x000A
	WordRevision       uint16 = 0x000C
	WordSerialNumber   uint16 = 0x000E
	WordMailboxRecvOff uint16 = 0x0018
	WordMailboxRecvLen uint16 = 0x0019
	WordMailboxSendOff uint16 = 0x001A
	WordMailboxSendLen uint16 = 0x001B
	WordMailboxProto   uint16 = 0x001C

	// firstCategoryWord is where the category chain begins, after the
	// fixed fields.
	firstCategoryWord uint16 = 0x0040
)

// CategoryType identifies an SII category, ETG1000.6 Table 19.
type CategoryType uint16

const (
	CategoryStrings     CategoryType = 10
	CategoryGeneral     CategoryType = 30
	CategoryFmmu        CategoryType = 40
	CategorySyncManager CategoryType = 41
	CategoryTxPdo       CategoryType = 50
	CategoryRxPdo       CategoryType = 51
	CategoryDc          CategoryType = 60
	CategoryEnd         CategoryType = 0xFFFF
)

// MailboxProtocols is the capability bitfield at word 0x001C.
type MailboxProtocols uint16

const (
	ProtocolAoe MailboxProtocols = 1 << 0
	ProtocolEoe MailboxProtocols = 1 << 1
	ProtocolCoe MailboxProtocols = 1 << 2
	ProtocolFoe MailboxProtocols = 1 << 3
	ProtocolSoe MailboxProtocols = 1 << 4
	ProtocolVoe MailboxProtocols = 1 << 5
)

// SII control word bits, low byte configuration, high byte command/status.
const (
	ctlReadSize8 uint16 = 1 << 6
	ctlRead      uint16 = 1 << 8
	ctlErrorMask uint16 = 0x0F << 11
	ctlBusy      uint16 = 1 << 15
)

// Eeprom is the SII access point of one SubDevice, addressed by its
// configured station address.
type Eeprom struct {
	m       *maindevice.MainDevice
	address uint16
}

func NewEeprom(m *maindevice.MainDevice, stationAddress uint16) *Eeprom {
	return &Eeprom{m: m, address: stationAddress}
}

// waitIdle polls the control word until the busy flag clears and returns
// the final value.
func (e *Eeprom) waitIdle() (uint16, error) {
	deadline := time.Now().Add(e.m.Timeouts().Eeprom)
	for {
		control, err := e.m.FprdU16(e.address, register.SiiControl, "SII busy wait")
		if err != nil {
			return 0, err
		}
		if control&ctlBusy == 0 {
			return control, nil
		}
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		if d := e.m.Timeouts().WaitLoopDelay; d > 0 {
			time.Sleep(d)
		}
	}
}

// readRaw triggers an SII read at the given word address and returns the
// data register content: 8 bytes, read in one go or as two 4 byte chunks
// depending on the device's read size.
func (e *Eeprom) readRaw(wordAddress uint16) ([8]byte, error) {
	var out [8]byte

	control, err := e.waitIdle()
	if err != nil {
		return out, err
	}

	if control&ctlErrorMask != 0 {
		log.Debugf("[SII][x%x] resetting error flags (control x%04x)", e.address, control)
		if err := e.m.FpwrU16(e.address, register.SiiControl, control&^ctlErrorMask, "SII reset errors"); err != nil {
			return out, err
		}
		control, err = e.waitIdle()
		if err != nil {
			return out, err
		}
		if control&ctlErrorMask != 0 {
			return out, ErrClearErrors
		}
	}

	eightByteRead := control&ctlReadSize8 != 0

	trigger := func(addr uint16) error {
		// Control word with the read bit plus the word address, written
		// in one 4 byte request.
		req := make([]byte, 4)
		wire.PutUint16At(req, 0, ctlRead)
		wire.PutUint16At(req, 2, addr)
		return e.m.FpwrBytes(e.address, register.SiiControl, req, "SII read setup")
	}

	if err := trigger(wordAddress); err != nil {
		return out, err
	}
	if _, err := e.waitIdle(); err != nil {
		return out, err
	}

	if eightByteRead {
		data, err := e.m.FprdBytes(e.address, register.SiiData, 8, "SII data")
		if err != nil {
			return out, err
		}
		copy(out[:], data)
		return out, nil
	}

	data, err := e.m.FprdBytes(e.address, register.SiiData, 4, "SII data")
	if err != nil {
		return out, err
	}
	copy(out[0:4], data)

	// Second half: addresses are words, 4 bytes ahead is 2 words.
	if err := trigger(wordAddress + 2); err != nil {
		return out, err
	}
	if _, err := e.waitIdle(); err != nil {
		return out, err
	}
	data, err = e.m.FprdBytes(e.address, register.SiiData, 4, "SII data 2")
	if err != nil {
		return out, err
	}
	copy(out[4:8], data)
	return out, nil
}

// ReadWord returns one 16 bit word of the SII.
func (e *Eeprom) ReadWord(wordAddress uint16) (uint16, error) {
	chunk, err := e.readRaw(wordAddress)
	if err != nil {
		return 0, err
	}
	return wire.Uint16At(chunk[:], 0), nil
}

// ReadU32 returns two consecutive words as a 32 bit value.
func (e *Eeprom) ReadU32(wordAddress uint16) (uint32, error) {
	chunk, err := e.readRaw(wordAddress)
	if err != nil {
		return 0, err
	}
	return wire.Uint32At(chunk[:], 0), nil
}
