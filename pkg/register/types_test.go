package register

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlControlEncode(t *testing.T) {
	c := AlControl{State: StateSafeOp, AckError: true}
	assert.Equal(t, uint16(0x14), c.Encode())

	s := DecodeAlStatus(0x0012)
	assert.Equal(t, StatePreOp, s.State)
	assert.True(t, s.Error)
}

func TestSupportFlags(t *testing.T) {
	f := DecodeSupportFlags(0x0004)
	assert.True(t, f.DcSupported)
	assert.False(t, f.Has64BitDc)

	f = DecodeSupportFlags(0x020C)
	assert.True(t, f.DcSupported)
	assert.True(t, f.Has64BitDc)
	assert.True(t, f.LrwSupported)
}

func TestDlStatusPorts(t *testing.T) {
	// Ports 0 and 1 linked with signal, no loopback
	v := uint16(1<<4 | 1<<5 | 1<<9 | 1<<11)
	s := DecodeDlStatus(v)
	assert.True(t, s.PortOpen(0))
	assert.True(t, s.PortOpen(1))
	assert.False(t, s.PortOpen(2))

	// Port 1 looping back
	v |= 1 << 10
	s = DecodeDlStatus(v)
	assert.False(t, s.PortOpen(1))
}

func TestSyncManagerChannelRoundTrip(t *testing.T) {
	sm := SyncManagerChannel{
		PhysicalStartAddress: 0x1000,
		Length:               128,
		Mode:                 SmModeMailbox,
		Direction:            SmDirectionWrite,
		WatchdogEnable:       true,
		Enable:               true,
	}
	b := sm.Encode()

	got, err := DecodeSyncManagerChannel(b[:])
	assert.Nil(t, err)
	assert.Equal(t, sm, got)
}

func TestMailboxFullBit(t *testing.T) {
	sm := SyncManagerChannel{Status: 1 << 3}
	assert.True(t, sm.MailboxFull())
	sm.Status = 0
	assert.False(t, sm.MailboxFull())
}

func TestFmmuRoundTrip(t *testing.T) {
	f := Fmmu{
		LogicalStartAddress:  0x00010040,
		Length:               6,
		PhysicalStartAddress: 0x1100,
		ReadEnable:           true,
		Enable:               true,
	}
	b := f.Encode()
	assert.Equal(t, FmmuLength, len(b))

	got, err := DecodeFmmu(b[:])
	assert.Nil(t, err)
	assert.Equal(t, f, got)
}

func TestFmmuDefaultEncodesToZero(t *testing.T) {
	var f Fmmu
	b := f.Encode()
	assert.Equal(t, [FmmuLength]byte{}, b)
}

func TestAlStatusCodeDescriptions(t *testing.T) {
	assert.Equal(t, "Sync manager watchdog", SyncManagerWatchdogExpired.String())
	assert.Contains(t, AlStatusCode(0x7777).String(), "0x7777")

	err := &AlStatusCodeError{Address: 0x1002, Code: NeedsPreOp}
	assert.Contains(t, err.Error(), "x1002")
	assert.Contains(t, err.Error(), "PRE-OP")
}

func TestDeviceStateNames(t *testing.T) {
	assert.Equal(t, "OP", StateOp.String())
	assert.Equal(t, "SAFE-OP", StateSafeOp.String())
	assert.Contains(t, DeviceState(0x0F).String(), "0x0f")
}
