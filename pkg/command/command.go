// Package command models the EtherCAT service codes and their addressing
// forms. A Command value names the operation and carries the 32 bit address
// field of the PDU header; it knows nothing about payloads or frames.
package command

import "fmt"

// Code is the EtherCAT service code carried in the first byte of every PDU
// header. Defined in ETG1000.4 Table 42.
type Code uint8

const (
	NOP  Code = 0x00
	APRD Code = 0x01
	APWR Code = 0x02
	APRW Code = 0x03
	FPRD Code = 0x04
	FPWR Code = 0x05
	FPRW Code = 0x06
	BRD  Code = 0x07
	BWR  Code = 0x08
	BRW  Code = 0x09
	LRD  Code = 0x0A
	LWR  Code = 0x0B
	LRW  Code = 0x0C
	ARMW Code = 0x0D
	FRMW Code = 0x0E
)

var codeNames = map[Code]string{
	NOP:  "NOP",
	APRD: "APRD",
	APWR: "APWR",
	APRW: "APRW",
	FPRD: "FPRD",
	FPWR: "FPWR",
	FPRW: "FPRW",
	BRD:  "BRD",
	BWR:  "BWR",
	BRW:  "BRW",
	LRD:  "LRD",
	LWR:  "LWR",
	LRW:  "LRW",
	ARMW: "ARMW",
	FRMW: "FRMW",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(0x%02x)", uint8(c))
}

// IsRead reports whether SubDevices place data into the PDU.
func (c Code) IsRead() bool {
	switch c {
	case APRD, APRW, FPRD, FPRW, BRD, BRW, LRD, LRW, ARMW, FRMW:
		return true
	}
	return false
}

// IsWrite reports whether SubDevices take data from the PDU.
func (c Code) IsWrite() bool {
	switch c {
	case APWR, APRW, FPWR, FPRW, BWR, BRW, LWR, LRW, ARMW, FRMW:
		return true
	}
	return false
}

// IsLogical reports whether the address field is a 32 bit logical address
// translated by FMMUs rather than a device/register pair.
func (c Code) IsLogical() bool {
	switch c {
	case LRD, LWR, LRW:
		return true
	}
	return false
}

// Command is a service code plus its resolved 32 bit address field. For
// device addressed services the low 16 bits hold the auto increment position
// or configured station address and the high 16 bits hold the register (ADO).
// For logical services the whole field is the logical address.
type Command struct {
	Code    Code
	Address uint32
}

func deviceAddressed(code Code, device uint16, register uint16) Command {
	return Command{Code: code, Address: uint32(device) | uint32(register)<<16}
}

// Aprd addresses a SubDevice by auto increment position. The position is
// transmitted as the two's complement of the device's place on the wire and
// incremented by every device the frame passes.
func Aprd(position uint16, register uint16) Command {
	return deviceAddressed(APRD, position, register)
}

func Apwr(position uint16, register uint16) Command {
	return deviceAddressed(APWR, position, register)
}

// Fprd addresses a SubDevice by its configured station address.
func Fprd(address uint16, register uint16) Command {
	return deviceAddressed(FPRD, address, register)
}

func Fpwr(address uint16, register uint16) Command {
	return deviceAddressed(FPWR, address, register)
}

// Brd broadcasts a read. The device part of the address is always zero when
// transmitted from the MainDevice.
func Brd(register uint16) Command {
	return deviceAddressed(BRD, 0, register)
}

func Bwr(register uint16) Command {
	return deviceAddressed(BWR, 0, register)
}

func Lrd(address uint32) Command {
	return Command{Code: LRD, Address: address}
}

func Lwr(address uint32) Command {
	return Command{Code: LWR, Address: address}
}

func Lrw(address uint32) Command {
	return Command{Code: LRW, Address: address}
}

// Frmw reads the register of the addressed SubDevice and writes the value
// into every following device, the service used to distribute the DC
// reference clock.
func Frmw(address uint16, register uint16) Command {
	return deviceAddressed(FRMW, address, register)
}

func Armw(position uint16, register uint16) Command {
	return deviceAddressed(ARMW, position, register)
}

// Device returns the low half of the address field.
func (c Command) Device() uint16 {
	return uint16(c.Address)
}

// Register returns the high half of the address field (the ADO).
func (c Command) Register() uint16 {
	return uint16(c.Address >> 16)
}

func (c Command) String() string {
	if c.Code.IsLogical() {
		return fmt.Sprintf("%v(log 0x%08x)", c.Code, c.Address)
	}
	return fmt.Sprintf("%v(dev 0x%04x, reg 0x%04x)", c.Code, c.Device(), c.Register())
}
