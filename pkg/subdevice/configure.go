package subdevice

import (
	"fmt"

	"github.com/samsamfire/goethercat/pkg/coe"
	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/samsamfire/goethercat/pkg/sii"
	log "github.com/sirupsen/logrus"
)

// CoE communication area objects, ETG1000.6 Table 67.
const (
	smCommTypeIndex uint16 = 0x1C00
	smAssignBase    uint16 = 0x1C10
)

// PDO index ranges: RxPDOs carry outputs from the MainDevice, TxPDOs carry
// inputs to it.
const (
	rxPdoFirst uint16 = 0x1600
	rxPdoLast  uint16 = 0x17FF
	txPdoFirst uint16 = 0x1A00
	txPdoLast  uint16 = 0x1BFF
)

// PdoDirection selects which half of the process data is being configured.
type PdoDirection uint8

const (
	PdoOutput PdoDirection = iota // MainDevice -> SubDevice
	PdoInput                      // SubDevice -> MainDevice
)

func (d PdoDirection) smUsage() SmUsage {
	if d == PdoOutput {
		return SmProcessWrite
	}
	return SmProcessRead
}

// ConfigureMailboxes runs the PRE-OP part of device configuration: clear a
// latched AL error, read identity and name from the SII, program the
// mailbox sync managers when the device has them and request PRE-OP.
func (sd *SubDevice) ConfigureMailboxes() error {
	// Acknowledge whatever error state a previous run left behind.
	ack := register.AlControl{State: register.StateInit, AckError: true}
	if err := sd.m.FpwrU16(sd.ConfiguredAddress, register.AlControlReg, ack.Encode(), "clear AL error"); err != nil {
		return err
	}

	eeprom := sd.Eeprom()

	var err error
	if sd.Identity, err = eeprom.Identity(); err != nil {
		return err
	}
	if sd.AliasAddress, err = eeprom.AliasAddress(); err != nil {
		return err
	}
	if sd.Name, err = eeprom.DeviceName(); err != nil {
		return err
	}
	if sd.MailboxConfig, err = eeprom.MailboxConfig(); err != nil {
		return err
	}

	log.Infof("[SUBDEVICE][x%x] %q vendor x%08x product x%08x", sd.ConfiguredAddress, sd.Name, sd.Identity.VendorID, sd.Identity.ProductCode)

	if sd.MailboxConfig.HasMailbox() {
		// SM0: mailbox write (MainDevice -> SubDevice)
		sm0 := register.SyncManagerChannel{
			PhysicalStartAddress: sd.MailboxConfig.ReceiveOffset,
			Length:               sd.MailboxConfig.ReceiveLength,
			Mode:                 register.SmModeMailbox,
			Direction:            register.SmDirectionWrite,
			Enable:               true,
		}
		if err := sd.writeSmConfig(0, sm0); err != nil {
			return err
		}

		// SM1: mailbox read (SubDevice -> MainDevice)
		sm1 := register.SyncManagerChannel{
			PhysicalStartAddress: sd.MailboxConfig.SendOffset,
			Length:               sd.MailboxConfig.SendLength,
			Mode:                 register.SmModeMailbox,
			Direction:            register.SmDirectionRead,
			Enable:               true,
		}
		if err := sd.writeSmConfig(1, sm1); err != nil {
			return err
		}

		if sd.MailboxConfig.SupportsCoe() {
			sd.Coe = coe.NewClient(sd.m, sd.ConfiguredAddress, coe.Mailbox{
				WriteOffset: sd.MailboxConfig.ReceiveOffset,
				WriteLength: sd.MailboxConfig.ReceiveLength,
				ReadOffset:  sd.MailboxConfig.SendOffset,
				ReadLength:  sd.MailboxConfig.SendLength,
			})
		}
	}

	return sd.TransitionTo(register.StatePreOp)
}

func (sd *SubDevice) writeSmConfig(index uint8, sm register.SyncManagerChannel) error {
	encoded := sm.Encode()
	if err := sd.m.FpwrBytes(sd.ConfiguredAddress, register.SyncManager(index), encoded[:], "write SM config"); err != nil {
		return err
	}
	log.Debugf("[SUBDEVICE][x%x] SM%d start x%04x len %d", sd.ConfiguredAddress, index, sm.PhysicalStartAddress, sm.Length)
	return nil
}

// pdoSmLengths resolves the byte length of each cyclic sync manager for the
// given direction, preferring the device's CoE objects and falling back to
// the SII PDO categories.
func (sd *SubDevice) pdoSmLengths(direction PdoDirection) (map[uint8]int, error) {
	if sd.Coe != nil {
		lengths, err := sd.pdoSmLengthsCoe(direction)
		if err == nil {
			return lengths, nil
		}
		log.Debugf("[SUBDEVICE][x%x] CoE PDO read failed (%v), falling back to SII", sd.ConfiguredAddress, err)
	}
	return sd.pdoSmLengthsSii(direction)
}

// pdoSmLengthsCoe walks the sync manager communication type object 0x1C00:
// each sub index classifies one SM; for cyclic SMs the assignment object
// 0x1C1x lists PDOs, and each PDO object lists {index, subindex, bit
// length} entries.
func (sd *SubDevice) pdoSmLengthsCoe(direction PdoDirection) (map[uint8]int, error) {
	want := direction.smUsage()
	lengths := make(map[uint8]int)

	count, err := sd.Coe.UploadU8(smCommTypeIndex, 0)
	if err != nil {
		return nil, err
	}

	for sm := uint8(0); sm < count; sm++ {
		usage, err := sd.Coe.UploadU8(smCommTypeIndex, sm+1)
		if err != nil {
			return nil, err
		}
		if SmUsage(usage) != want {
			continue
		}

		assign := smAssignBase + uint16(sm)
		numPdos, err := sd.Coe.UploadU8(assign, 0)
		if err != nil {
			return nil, err
		}

		bits := 0
		for i := uint8(1); i <= numPdos; i++ {
			pdoIndex, err := sd.Coe.UploadU16(assign, i)
			if err != nil {
				return nil, err
			}
			if err := checkPdoRange(pdoIndex, direction); err != nil {
				return nil, err
			}

			numEntries, err := sd.Coe.UploadU8(pdoIndex, 0)
			if err != nil {
				return nil, err
			}
			for j := uint8(1); j <= numEntries; j++ {
				raw, err := sd.Coe.UploadU32(pdoIndex, j)
				if err != nil {
					return nil, err
				}
				// Mapping entry: bits 0..7 length, 8..15 subindex,
				// 16..31 object index.
				bits += int(raw & 0xFF)
			}
		}
		lengths[sm] = (bits + 7) / 8
	}
	return lengths, nil
}

func checkPdoRange(index uint16, direction PdoDirection) error {
	if direction == PdoOutput && (index < rxPdoFirst || index > rxPdoLast) {
		return fmt.Errorf("RxPDO index x%04x out of range", index)
	}
	if direction == PdoInput && (index < txPdoFirst || index > txPdoLast) {
		return fmt.Errorf("TxPDO index x%04x out of range", index)
	}
	return nil
}

// pdoSmLengthsSii derives the SM byte lengths from the TXPDO/RXPDO
// categories of the SII.
func (sd *SubDevice) pdoSmLengthsSii(direction PdoDirection) (map[uint8]int, error) {
	category := sii.CategoryRxPdo
	if direction == PdoInput {
		category = sii.CategoryTxPdo
	}

	pdos, err := readPdos(sd.Eeprom(), category)
	if err != nil {
		return nil, err
	}

	bitsPerSm := make(map[uint8]int)
	for _, pdo := range pdos {
		bitsPerSm[pdo.SyncManager] += pdo.BitLength()
	}

	lengths := make(map[uint8]int)
	for sm, bits := range bitsPerSm {
		lengths[sm] = (bits + 7) / 8
	}
	return lengths, nil
}

// ConfigureIo programs the cyclic sync managers and an FMMU for one
// direction, mapping the device's process data at *logicalOffset in the
// group's address space. The offset advances by the mapped byte count,
// keeping each device byte aligned.
func (sd *SubDevice) ConfigureIo(direction PdoDirection, logicalOffset *uint32) error {
	lengths, err := sd.pdoSmLengths(direction)
	if err != nil {
		return err
	}

	smDefs, err := readSyncManagers(sd.Eeprom())
	if err != nil {
		return err
	}

	totalBytes := 0
	start := *logicalOffset

	for _, smIndex := range sortedSmIndexes(lengths) {
		byteLen := lengths[smIndex]
		if byteLen == 0 {
			continue
		}

		def, ok := smDefinition(smDefs, smIndex, direction.smUsage())
		if !ok {
			return fmt.Errorf("SubDevice %v : no SII definition for SM%d", sd, smIndex)
		}

		smDirection := register.SmDirectionWrite
		if direction == PdoInput {
			smDirection = register.SmDirectionRead
		}
		sm := register.SyncManagerChannel{
			PhysicalStartAddress: def.StartAddress,
			Length:               uint16(byteLen),
			Mode:                 register.SmModeBuffered,
			Direction:            smDirection,
			WatchdogEnable:       direction == PdoOutput,
			Enable:               true,
		}
		if err := sd.writeSmConfig(smIndex, sm); err != nil {
			return err
		}

		if err := sd.writeFmmuConfig(direction, def.StartAddress, uint16(byteLen), *logicalOffset+uint32(totalBytes)); err != nil {
			return err
		}
		totalBytes += byteLen
	}

	window := PdiRange{Start: int(start), Length: totalBytes}
	if direction == PdoOutput {
		sd.Output = window
	} else {
		sd.Input = window
	}
	*logicalOffset += uint32(totalBytes)

	log.Debugf("[SUBDEVICE][x%x] %s window logical x%08x, %d bytes", sd.ConfiguredAddress, directionName(direction), start, totalBytes)
	return nil
}

// writeFmmuConfig programs the direction's FMMU: entity 0 maps outputs,
// entity 1 maps inputs. An already enabled entity grows to cover an
// additional sync manager instead of being reprogrammed.
func (sd *SubDevice) writeFmmuConfig(direction PdoDirection, physicalStart uint16, length uint16, logicalStart uint32) error {
	fmmuIndex := uint8(0)
	if direction == PdoInput {
		fmmuIndex = 1
	}

	current, err := sd.m.FprdBytes(sd.ConfiguredAddress, register.FmmuAddress(fmmuIndex), register.FmmuLength, "read FMMU")
	if err != nil {
		return err
	}
	existing, err := register.DecodeFmmu(current)
	if err != nil {
		return err
	}

	var fmmu register.Fmmu
	if existing.Enable {
		fmmu = existing
		fmmu.Length += length
	} else {
		fmmu = register.Fmmu{
			LogicalStartAddress:  logicalStart,
			Length:               length,
			PhysicalStartAddress: physicalStart,
			ReadEnable:           direction == PdoInput,
			WriteEnable:          direction == PdoOutput,
			Enable:               true,
		}
	}

	encoded := fmmu.Encode()
	if err := sd.m.FpwrBytes(sd.ConfiguredAddress, register.FmmuAddress(fmmuIndex), encoded[:], "write FMMU"); err != nil {
		return err
	}
	log.Debugf("[SUBDEVICE][x%x] FMMU%d %v", sd.ConfiguredAddress, fmmuIndex, fmmu)
	return nil
}

func smDefinition(defs []SmDefinition, index uint8, usage SmUsage) (SmDefinition, bool) {
	if int(index) < len(defs) {
		def := defs[int(index)]
		if def.Usage == usage || def.Usage == SmUnused {
			return def, true
		}
	}
	// Some devices omit usage types; fall back to the first definition
	// with the wanted usage.
	for _, def := range defs {
		if def.Usage == usage {
			return def, true
		}
	}
	return SmDefinition{}, false
}

func sortedSmIndexes(lengths map[uint8]int) []uint8 {
	out := make([]uint8, 0, len(lengths))
	for sm := range lengths {
		out = append(out, sm)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func directionName(d PdoDirection) string {
	if d == PdoOutput {
		return "output"
	}
	return "input"
}
