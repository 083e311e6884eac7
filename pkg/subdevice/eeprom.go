package subdevice

import (
	"github.com/samsamfire/goethercat/pkg/sii"
)

// SmUsage classifies a sync manager, SII SyncManager category / CoE object
// 0x1C00.
type SmUsage uint8

const (
	SmUnused       SmUsage = 0x00
	SmMailboxOut   SmUsage = 0x01 // MainDevice writes
	SmMailboxIn    SmUsage = 0x02 // MainDevice reads
	SmProcessWrite SmUsage = 0x03 // cyclic outputs from MainDevice
	SmProcessRead  SmUsage = 0x04 // cyclic inputs to MainDevice
)

// SmDefinition is one entry of the SII SyncManager category: the physical
// layout and role of a sync manager channel.
type SmDefinition struct {
	StartAddress uint16
	Length       uint16
	Control      uint8
	Enable       bool
	Usage        SmUsage
}

// readSyncManagers parses the SII SyncManager category, 8 bytes per
// channel.
func readSyncManagers(eeprom *sii.Eeprom) ([]SmDefinition, error) {
	section, err := eeprom.Section(sii.CategorySyncManager)
	if err != nil {
		return nil, err
	}
	if section == nil {
		return nil, nil
	}

	var sms []SmDefinition
	for section.Remaining() >= 8 {
		var sm SmDefinition
		if sm.StartAddress, err = section.ReadU16(); err != nil {
			return nil, err
		}
		if sm.Length, err = section.ReadU16(); err != nil {
			return nil, err
		}
		if sm.Control, err = section.ReadU8(); err != nil {
			return nil, err
		}
		if err = section.Skip(1); err != nil { // status, unused
			return nil, err
		}
		enable, err := section.ReadU8()
		if err != nil {
			return nil, err
		}
		sm.Enable = enable&0x01 != 0
		usage, err := section.ReadU8()
		if err != nil {
			return nil, err
		}
		sm.Usage = SmUsage(usage)

		sms = append(sms, sm)
	}
	return sms, nil
}

// PdoEntry is one {index, subindex, bit length} mapping entry.
type PdoEntry struct {
	Index     uint16
	Subindex  uint8
	BitLength uint8
}

// Pdo is one PDO definition with its sync manager assignment.
type Pdo struct {
	Index       uint16
	SyncManager uint8
	Entries     []PdoEntry
}

// BitLength sums the entry bit lengths.
func (p Pdo) BitLength() int {
	total := 0
	for _, e := range p.Entries {
		total += int(e.BitLength)
	}
	return total
}

// readPdos parses a TXPDO or RXPDO category: an 8 byte PDO header followed
// by 8 bytes per entry, repeated until the category is exhausted.
func readPdos(eeprom *sii.Eeprom, category sii.CategoryType) ([]Pdo, error) {
	section, err := eeprom.Section(category)
	if err != nil {
		return nil, err
	}
	if section == nil {
		return nil, nil
	}

	var pdos []Pdo
	for section.Remaining() >= 8 {
		var p Pdo
		if p.Index, err = section.ReadU16(); err != nil {
			return nil, err
		}
		numEntries, err := section.ReadU8()
		if err != nil {
			return nil, err
		}
		if p.SyncManager, err = section.ReadU8(); err != nil {
			return nil, err
		}
		// dc sync, name string index, flags
		if err = section.Skip(4); err != nil {
			return nil, err
		}

		for i := 0; i < int(numEntries); i++ {
			var e PdoEntry
			if e.Index, err = section.ReadU16(); err != nil {
				return nil, err
			}
			if e.Subindex, err = section.ReadU8(); err != nil {
				return nil, err
			}
			// name string index, data type
			if err = section.Skip(2); err != nil {
				return nil, err
			}
			if e.BitLength, err = section.ReadU8(); err != nil {
				return nil, err
			}
			if err = section.Skip(2); err != nil { // flags
				return nil, err
			}
			p.Entries = append(p.Entries, e)
		}
		pdos = append(pdos, p)
	}
	return pdos, nil
}
