package sii

import (
	"bytes"
)

// Identity is the fixed identity block at SII words 0x0008..0x000F.
type Identity struct {
	VendorID     uint32
	ProductCode  uint32
	Revision     uint32
	SerialNumber uint32
}

func (e *Eeprom) Identity() (Identity, error) {
	var id Identity
	var err error

	if id.VendorID, err = e.ReadU32(WordVendorID); err != nil {
		return id, err
	}
	if id.ProductCode, err = e.ReadU32(WordProductCode); err != nil {
		return id, err
	}
	if id.Revision, err = e.ReadU32(WordRevision); err != nil {
		return id, err
	}
	if id.SerialNumber, err = e.ReadU32(WordSerialNumber); err != nil {
		return id, err
	}
	return id, nil
}

// AliasAddress returns the configured station alias word. The alias is
// readable metadata only, it takes no part in addressing.
func (e *Eeprom) AliasAddress() (uint16, error) {
	return e.ReadWord(WordAliasAddress)
}

// String returns the 1 based index'th entry of the strings category by
// walking the length prefixed string list.
func (e *Eeprom) String(index uint8) (string, error) {
	if index == 0 {
		return "", ErrStringNotFound
	}

	section, err := e.Section(CategoryStrings)
	if err != nil {
		return "", err
	}
	if section == nil {
		return "", ErrStringNotFound
	}

	count, err := section.ReadU8()
	if err != nil {
		return "", err
	}
	if index > count {
		return "", ErrStringNotFound
	}

	for i := uint8(1); i <= count; i++ {
		length, err := section.ReadU8()
		if err != nil {
			return "", err
		}
		if i == index {
			buf := make([]byte, length)
			if err := section.TakeInto(buf); err != nil {
				return "", err
			}
			return string(bytes.TrimRight(buf, "\x00")), nil
		}
		if err := section.Skip(int(length)); err != nil {
			return "", err
		}
	}
	return "", ErrStringNotFound
}

// DeviceName resolves the name index word through the strings category.
// Devices without a name entry yield an empty string.
func (e *Eeprom) DeviceName() (string, error) {
	nameIdx, err := e.ReadWord(WordNameIndex)
	if err != nil {
		return "", err
	}
	if nameIdx == 0 || nameIdx > 0xFF {
		return "", nil
	}
	name, err := e.String(uint8(nameIdx))
	if err == ErrStringNotFound {
		return "", nil
	}
	return name, err
}

// MailboxConfig is the standard mailbox layout read from SII words
// 0x0018..0x001C. Offsets and lengths describe the SubDevice's physical
// memory; "receive" is the mailbox the MainDevice writes (SM0), "send" the
// one it reads (SM1).
type MailboxConfig struct {
	ReceiveOffset uint16
	ReceiveLength uint16
	SendOffset    uint16
	SendLength    uint16
	Protocols     MailboxProtocols
}

// SupportsCoe reports whether the device speaks CANopen over EtherCAT.
func (c MailboxConfig) SupportsCoe() bool {
	return c.Protocols&ProtocolCoe != 0
}

// HasMailbox reports whether the device has a usable mailbox at all.
func (c MailboxConfig) HasMailbox() bool {
	return c.ReceiveLength > 0 && c.SendLength > 0
}

func (e *Eeprom) MailboxConfig() (MailboxConfig, error) {
	var cfg MailboxConfig
	var err error

	if cfg.ReceiveOffset, err = e.ReadWord(WordMailboxRecvOff); err != nil {
		return cfg, err
	}
	if cfg.ReceiveLength, err = e.ReadWord(WordMailboxRecvLen); err != nil {
		return cfg, err
	}
	if cfg.SendOffset, err = e.ReadWord(WordMailboxSendOff); err != nil {
		return cfg, err
	}
	if cfg.SendLength, err = e.ReadWord(WordMailboxSendLen); err != nil {
		return cfg, err
	}
	proto, err := e.ReadWord(WordMailboxProto)
	if err != nil {
		return cfg, err
	}
	cfg.Protocols = MailboxProtocols(proto)
	return cfg, nil
}
