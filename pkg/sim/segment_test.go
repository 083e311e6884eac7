package sim

import (
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/stretchr/testify/assert"
)

func newMaster(t *testing.T, devices ...*Device) *maindevice.MainDevice {
	t.Helper()
	cfg := config.Default()
	cfg.Timeouts.Pdu = 500 * time.Millisecond
	cfg.DcStaticSyncIterations = 16

	m, err := maindevice.New(cfg, 16, 256)
	assert.Nil(t, err)
	m.Connect(NewSegment(devices...))
	t.Cleanup(m.Disconnect)
	return m
}

func TestBroadcastCountsDevices(t *testing.T) {
	m := newMaster(t, NewDevice(Config{}), NewDevice(Config{}), NewDevice(Config{}))

	count, err := m.CountSubDevices()
	assert.Nil(t, err)
	assert.Equal(t, 3, count)
}

func TestAutoIncrementAddressing(t *testing.T) {
	m := newMaster(t, NewDevice(Config{}), NewDevice(Config{}))

	assert.Nil(t, m.AssignStationAddresses(2))

	// Each device answers on its own configured address now.
	v, err := m.FprdU16(0x1000, register.ConfiguredStationAddress, "readback")
	assert.Nil(t, err)
	assert.Equal(t, uint16(0x1000), v)

	v, err = m.FprdU16(0x1001, register.ConfiguredStationAddress, "readback")
	assert.Nil(t, err)
	assert.Equal(t, uint16(0x1001), v)

	// Nobody answers on an unassigned address.
	_, err = m.FprdU16(0x2000, register.ConfiguredStationAddress, "readback")
	assert.NotNil(t, err)
}

func TestAlStateMachine(t *testing.T) {
	d := NewDevice(Config{})
	m := newMaster(t, d)
	assert.Nil(t, m.AssignStationAddresses(1))

	assert.Equal(t, register.StateInit, d.AlState())

	control := register.AlControl{State: register.StatePreOp}
	assert.Nil(t, m.FpwrU16(0x1000, register.AlControlReg, control.Encode(), "request PRE-OP"))
	assert.Equal(t, register.StatePreOp, d.AlState())
}

func TestDroppedFramesTimeOut(t *testing.T) {
	cfg := config.Default()
	cfg.Timeouts.Pdu = 10 * time.Millisecond

	m, err := maindevice.New(cfg, 4, 64)
	assert.Nil(t, err)
	seg := NewSegment(NewDevice(Config{}))
	m.Connect(seg)
	t.Cleanup(m.Disconnect)

	seg.DropFrames(1)
	_, err = m.CountSubDevices()
	assert.NotNil(t, err)

	// Next frame goes through again.
	count, err := m.CountSubDevices()
	assert.Nil(t, err)
	assert.Equal(t, 1, count)
}
