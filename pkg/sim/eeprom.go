package sim

import (
	"github.com/samsamfire/goethercat/internal/wire"
)

// SII category identifiers used by the image builder.
const (
	catStrings     uint16 = 10
	catSyncManager uint16 = 41
	catTxPdo       uint16 = 50
	catRxPdo       uint16 = 51
	catEnd         uint16 = 0xFFFF
)

// buildEeprom assembles a device's SII image from its configuration: the
// fixed identity words, the mailbox layout, then the category chain with
// strings, sync managers and PDO definitions.
func buildEeprom(cfg Config) []byte {
	img := make([]byte, 0x40*2)

	mbxLen := uint16(mailboxLen)
	if cfg.MailboxLength > 0 {
		mbxLen = cfg.MailboxLength
	}

	word := func(addr uint16, v uint16) {
		wire.PutUint16At(img, int(addr)*2, v)
	}
	dword := func(addr uint16, v uint32) {
		wire.PutUint32At(img, int(addr)*2, v)
	}

	if cfg.Name != "" {
		word(0x0003, 1) // name is the first string
	}
	word(0x0004, cfg.Alias)
	dword(0x0008, cfg.VendorID)
	dword(0x000A, cfg.ProductCode)
	dword(0x000C, cfg.Revision)
	dword(0x000E, cfg.SerialNumber)

	if cfg.Mailbox {
		word(0x0018, mailboxRecvStart)
		word(0x0019, mbxLen)
		word(0x001A, mailboxSendStart)
		word(0x001B, mbxLen)
		word(0x001C, 1<<2) // CoE
	}

	// Category chain.
	category := func(kind uint16, payload []byte) {
		// Pad payload to a whole number of words.
		if len(payload)%2 != 0 {
			payload = append(payload, 0)
		}
		header := make([]byte, 4)
		wire.PutUint16At(header, 0, kind)
		wire.PutUint16At(header, 2, uint16(len(payload)/2))
		img = append(img, header...)
		img = append(img, payload...)
	}

	if cfg.Name != "" {
		payload := []byte{1, byte(len(cfg.Name))}
		payload = append(payload, cfg.Name...)
		category(catStrings, payload)
	}

	category(catSyncManager, syncManagerCategory(cfg))

	if len(cfg.Inputs) > 0 {
		category(catTxPdo, pdoCategory(0x1A00, 3, cfg.Inputs))
	}
	if cfg.OutputsLen > 0 {
		category(catRxPdo, pdoCategory(0x1600, 2, make([]byte, cfg.OutputsLen)))
	}

	end := make([]byte, 4)
	wire.PutUint16At(end, 0, catEnd)
	img = append(img, end...)

	// Room so chunked 8 byte reads past the end stay in bounds.
	img = append(img, make([]byte, 8)...)
	return img
}

// syncManagerCategory emits the SM definitions: the mailbox pair when
// enabled, then the cyclic output and input channels.
func syncManagerCategory(cfg Config) []byte {
	var out []byte

	sm := func(start, length uint16, control, usage uint8) {
		entry := make([]byte, 8)
		wire.PutUint16At(entry, 0, start)
		wire.PutUint16At(entry, 2, length)
		entry[4] = control
		entry[6] = 1 // enable
		entry[7] = usage
		out = append(out, entry...)
	}

	if cfg.Mailbox {
		mbxLen := uint16(mailboxLen)
		if cfg.MailboxLength > 0 {
			mbxLen = cfg.MailboxLength
		}
		sm(mailboxRecvStart, mbxLen, 0x26, 1) // mailbox out
		sm(mailboxSendStart, mbxLen, 0x22, 2) // mailbox in
	} else {
		// Placeholders keep the channel indexes stable.
		sm(0, 0, 0, 0)
		sm(0, 0, 0, 0)
	}
	sm(processOutStart, uint16(cfg.OutputsLen), 0x64, 3)
	sm(processInStart, uint16(len(cfg.Inputs)), 0x20, 4)

	return out
}

// pdoCategory emits one PDO assigned to the given sync manager with one
// byte sized entry per data byte.
func pdoCategory(index uint16, syncManager uint8, data []byte) []byte {
	header := make([]byte, 8)
	wire.PutUint16At(header, 0, index)
	header[2] = uint8(len(data))
	header[3] = syncManager

	out := header
	for i := range data {
		entry := make([]byte, 8)
		wire.PutUint16At(entry, 0, index)
		entry[2] = uint8(i + 1)
		entry[5] = 8 // bit length
		out = append(out, entry...)
	}
	return out
}
