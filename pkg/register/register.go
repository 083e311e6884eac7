// Package register names the physical memory map of an EtherCAT SubDevice
// controller (ESC) and provides codecs for the structured registers the
// MainDevice reads and writes during configuration: DL status, AL control
// and status, sync manager channels and FMMUs.
//
// Addresses follow ETG1000.4 Table 31 and friends.
package register

// ESC register addresses.
const (
	Type                     uint16 = 0x0000
	Revision                 uint16 = 0x0001
	Build                    uint16 = 0x0002
	FmmuCount                uint16 = 0x0004
	SyncManagerChannels      uint16 = 0x0005
	RamSize                  uint16 = 0x0006
	PortDescriptors          uint16 = 0x0007
	SupportFlagsReg          uint16 = 0x0008
	ConfiguredStationAddress uint16 = 0x0010
	ConfiguredStationAlias   uint16 = 0x0012

	DlControl   uint16 = 0x0100
	DlStatusReg uint16 = 0x0110

	AlControlReg    uint16 = 0x0120
	AlStatusReg     uint16 = 0x0130
	AlStatusCodeReg uint16 = 0x0134

	WatchdogDivider           uint16 = 0x0400
	PdiWatchdog               uint16 = 0x0410
	SyncManagerWatchdog       uint16 = 0x0420
	SyncManagerWatchdogStatus uint16 = 0x0440

	SiiConfig  uint16 = 0x0500
	SiiControl uint16 = 0x0502
	SiiAddress uint16 = 0x0504
	SiiData    uint16 = 0x0508

	FmmuBase uint16 = 0x0600
	FmmuLen  uint16 = 0x10

	SyncManagerBase uint16 = 0x0800
	SyncManagerLen  uint16 = 0x08

	DcTimePort0   uint16 = 0x0900
	DcTimePort1   uint16 = 0x0904
	DcTimePort2   uint16 = 0x0908
	DcTimePort3   uint16 = 0x090C
	DcSystemTime  uint16 = 0x0910
	DcReceiveTime uint16 = 0x0918

	DcSystemTimeOffset            uint16 = 0x0920
	DcSystemTimeTransmissionDelay uint16 = 0x0928
	DcSystemTimeDifference        uint16 = 0x092C

	DcSyncActive     uint16 = 0x0981
	DcSyncStartTime  uint16 = 0x0990
	DcSync0CycleTime uint16 = 0x09A0
	DcSync1CycleTime uint16 = 0x09A4
)

// FmmuAddress returns the register address of FMMU entity index (0..15).
func FmmuAddress(index uint8) uint16 {
	return FmmuBase + uint16(index)*FmmuLen
}

// SyncManager returns the register address of sync manager channel index
// (0..15).
func SyncManager(index uint8) uint16 {
	return SyncManagerBase + uint16(index)*SyncManagerLen
}

// SyncManagerStatus returns the address of the status byte of a sync
// manager channel, at byte offset 5 of the entity.
func SyncManagerStatus(index uint8) uint16 {
	return SyncManager(index) + 5
}

// DC sync activation bits written to DcSyncActive.
const (
	DcCyclicOpEnable uint8 = 1 << 0
	DcSync0Activate  uint8 = 1 << 1
	DcSync1Activate  uint8 = 1 << 2
)
