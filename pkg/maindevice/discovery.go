package maindevice

import (
	"github.com/samsamfire/goethercat/pkg/register"
	log "github.com/sirupsen/logrus"
)

// CountSubDevices broadcasts a read of the Type register; the working
// counter of the reflected frame is the number of devices on the segment.
func (m *MainDevice) CountSubDevices() (int, error) {
	_, wkc, err := m.BrdU8(register.Type)
	if err != nil {
		return 0, err
	}
	return int(wkc), nil
}

// blankMemory broadcasts zeros over a register range.
func (m *MainDevice) blankMemory(start uint16, length int) error {
	_, err := m.BwrBytes(start, make([]byte, length))
	return err
}

// ResetSubDevices puts every device on the segment back into a known blank
// state: FMMUs cleared, sync managers cleared, DC corrections cleared and a
// transition to INIT requested with any latched error acknowledged.
func (m *MainDevice) ResetSubDevices() error {
	log.Debugf("[MAINDEVICE] resetting all SubDevices")

	// Request INIT and acknowledge outstanding errors first so devices
	// accept the reconfiguration that follows.
	control := register.AlControl{State: register.StateInit, AckError: true}
	if _, err := m.BwrU16(register.AlControlReg, control.Encode()); err != nil {
		return err
	}

	if err := m.blankMemory(register.FmmuBase, 16*register.FmmuLength); err != nil {
		return err
	}
	if err := m.blankMemory(register.SyncManagerBase, 16*register.SyncManagerChannelLength); err != nil {
		return err
	}
	if err := m.blankMemory(register.DcSystemTimeOffset, 8); err != nil {
		return err
	}
	if err := m.blankMemory(register.DcSystemTimeTransmissionDelay, 4); err != nil {
		return err
	}
	// Disable any SYNC0/SYNC1 generation left over from a previous run.
	if err := m.blankMemory(register.DcSyncActive, 1); err != nil {
		return err
	}

	return nil
}

// AssignStationAddresses walks the segment in auto increment order and
// writes each device its configured station address,
// BaseStationAddress + position.
func (m *MainDevice) AssignStationAddresses(count int) error {
	for i := 0; i < count; i++ {
		address := BaseStationAddress + uint16(i)
		// Auto increment addressing: position i is transmitted as 0 - i,
		// each device increments the field as the frame passes.
		position := uint16(-(int16(i)))
		if err := m.ApwrU16(position, register.ConfiguredStationAddress, address, "assign station address"); err != nil {
			return err
		}
		log.Debugf("[MAINDEVICE] SubDevice %d assigned station address x%x", i, address)
	}
	m.SetSubDeviceCount(count)
	return nil
}
