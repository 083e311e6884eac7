package group_test

import (
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/dc"
	"github.com/samsamfire/goethercat/pkg/group"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/samsamfire/goethercat/pkg/sim"
	"github.com/stretchr/testify/assert"
)

// testSegment models a small rack: a coupler followed by an output
// terminal and an input terminal, all DC capable.
func testSegment() []*sim.Device {
	coupler := sim.NewDevice(sim.Config{
		VendorID:    0x00000002,
		ProductCode: 0x044C2C52,
		Name:        "EK1100",
		DcSupported: true,
		PortTimes:   [4]uint32{1000, 1200, 0, 0},
		SystemTime:  123_456_789,
	})
	outputs := sim.NewDevice(sim.Config{
		VendorID:    0x00000002,
		ProductCode: 0x0B0C3052,
		Name:        "EL2828",
		Mailbox:     true,
		DcSupported: true,
		PortTimes:   [4]uint32{1050, 1150, 0, 0},
		OutputsLen:  2,
	})
	inputs := sim.NewDevice(sim.Config{
		VendorID:    0x00000002,
		ProductCode: 0x03F03052,
		Name:        "EL1008",
		Mailbox:     true,
		DcSupported: true,
		PortTimes:   [4]uint32{1100, 0, 0, 0},
		Inputs:      []byte{0xAA, 0xBB},
	})
	return []*sim.Device{coupler, outputs, inputs}
}

func newMaster(t *testing.T, devices []*sim.Device) *maindevice.MainDevice {
	t.Helper()

	cfg := config.Default()
	cfg.Timeouts.Pdu = 500 * time.Millisecond
	cfg.DcStaticSyncIterations = 16

	m, err := maindevice.New(cfg, 16, 256)
	assert.Nil(t, err)
	m.Connect(sim.NewSegment(devices...))
	t.Cleanup(m.Disconnect)
	return m
}

func TestInitializeToPreOp(t *testing.T) {
	devices := testSegment()
	m := newMaster(t, devices)

	g, err := group.Initialize(m, group.DefaultOptions())
	assert.Nil(t, err)
	assert.Len(t, g.Devices(), 3)

	// Every device sits in PRE-OP with its identity read.
	for i, sd := range g.Devices() {
		assert.Equal(t, register.StatePreOp, devices[i].AlState())
		assert.Equal(t, uint32(0x00000002), sd.Identity.VendorID)
	}
	sd, err := g.Device(0)
	assert.Nil(t, err)
	assert.Equal(t, "EK1100", sd.Name)
	assert.Equal(t, uint16(0x1000), sd.ConfiguredAddress)

	// The coupler is the first DC capable device, hence the reference.
	ref, ok := m.DcReference()
	assert.True(t, ok)
	assert.Equal(t, uint16(0x1000), ref)

	// Topology: linear chain, delays accumulate down the line.
	assert.Equal(t, -1, g.Devices()[0].ParentIndex)
	assert.Equal(t, 0, g.Devices()[1].ParentIndex)
	assert.Equal(t, 1, g.Devices()[2].ParentIndex)
	assert.Equal(t, uint32(500), g.Devices()[0].PropagationDelay)
	assert.Equal(t, uint32(550), g.Devices()[1].PropagationDelay)
	assert.Equal(t, uint32(600), g.Devices()[2].PropagationDelay)
}

func TestFullLifecycleAndExchange(t *testing.T) {
	devices := testSegment()
	m := newMaster(t, devices)

	preOp, err := group.Initialize(m, group.DefaultOptions())
	assert.Nil(t, err)

	withPdi, err := preOp.ConfigurePdi()
	assert.Nil(t, err)

	// Inputs first, then outputs, each device byte aligned.
	inDev, _ := withPdi.Device(2)
	assert.Equal(t, 2, inDev.Input.Length)
	outDev, _ := withPdi.Device(1)
	assert.Equal(t, 2, outDev.Output.Length)

	op, err := withPdi.IntoOp()
	assert.Nil(t, err)

	for _, d := range devices {
		assert.Equal(t, register.StateOp, d.AlState())
	}

	allOp, err := op.AllOp()
	assert.Nil(t, err)
	assert.True(t, allOp)

	// Drive outputs and read inputs through one cycle.
	_, outputs, err := op.Io(1)
	assert.Nil(t, err)
	assert.Len(t, outputs, 2)
	outputs[0] = 0x12
	outputs[1] = 0x34

	wkc, err := op.TxRx()
	assert.Nil(t, err)
	// One device reads (1), one writes (2).
	assert.Equal(t, uint16(3), wkc)

	assert.Equal(t, []byte{0x12, 0x34}, devices[1].Outputs())

	in, _, err := op.Io(2)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, in)

	// DC cycle returns the reference clock's time.
	cycle, err := op.TxRxDc()
	assert.Nil(t, err)
	assert.Equal(t, uint64(123_456_789), cycle.Time)
	assert.Equal(t, uint16(3), cycle.WorkingCounter)

	// Shutdown path back to INIT.
	safeOp, err := op.IntoSafeOp()
	assert.Nil(t, err)
	backPreOp, err := safeOp.IntoPreOp()
	assert.Nil(t, err)
	_, err = backPreOp.IntoInit()
	assert.Nil(t, err)
	assert.Equal(t, register.StateInit, devices[0].AlState())
}

func TestTransitionFailureRollsBack(t *testing.T) {
	devices := testSegment()
	// The output terminal refuses SAFE-OP.
	devices[1] = sim.NewDevice(sim.Config{
		Name:          "EL2828",
		Mailbox:       true,
		DcSupported:   true,
		PortTimes:     [4]uint32{1050, 1150, 0, 0},
		OutputsLen:    2,
		FailStateCode: register.InvalidSyncManagerConfig,
	})
	m := newMaster(t, devices)

	preOp, err := group.Initialize(m, group.DefaultOptions())
	assert.Nil(t, err)
	withPdi, err := preOp.ConfigurePdi()
	assert.Nil(t, err)

	_, err = withPdi.IntoSafeOp()
	assert.NotNil(t, err)

	alErr, ok := err.(*register.AlStatusCodeError)
	assert.True(t, ok)
	assert.Equal(t, register.InvalidSyncManagerConfig, alErr.Code)
	assert.Equal(t, uint16(0x1001), alErr.Address)

	// The group was rolled back to PRE-OP.
	assert.Equal(t, register.StatePreOp, devices[0].AlState())
	assert.Equal(t, register.StatePreOp, devices[2].AlState())
}

func TestConfigureDcSync(t *testing.T) {
	devices := testSegment()
	m := newMaster(t, devices)

	preOp, err := group.Initialize(m, group.DefaultOptions())
	assert.Nil(t, err)
	withPdi, err := preOp.ConfigurePdi()
	assert.Nil(t, err)

	// The output terminal runs on SYNC0.
	sd, err := withPdi.Device(1)
	assert.Nil(t, err)
	sd.DcSync.Sync0 = true

	cfg := dc.SyncConfig{
		StartDelay:  100 * time.Millisecond,
		Sync0Period: time.Millisecond,
		Sync0Shift:  20 * time.Microsecond,
	}
	assert.Nil(t, withPdi.ConfigureDcSync(cfg))

	period, err := m.FprdU32(0x1001, register.DcSync0CycleTime, "readback")
	assert.Nil(t, err)
	assert.Equal(t, uint32(time.Millisecond.Nanoseconds()), period)

	active, err := m.FprdU8(0x1001, register.DcSyncActive, "readback")
	assert.Nil(t, err)
	assert.Equal(t, register.DcSync0Activate|register.DcCyclicOpEnable, active)

	// The start time is rounded to a whole number of periods.
	start, err := m.FprdU64(0x1001, register.DcSyncStartTime, "readback")
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), start%uint64(time.Millisecond.Nanoseconds()))

	// With DC armed, the cycle reports when to schedule the next one.
	op, err := withPdi.IntoOp()
	assert.Nil(t, err)
	cycle, err := op.TxRxDc()
	assert.Nil(t, err)
	assert.Greater(t, cycle.NextCycleWait, time.Duration(0))
}

func TestRequestIntoOp(t *testing.T) {
	devices := testSegment()
	m := newMaster(t, devices)

	preOp, err := group.Initialize(m, group.DefaultOptions())
	assert.Nil(t, err)
	withPdi, err := preOp.ConfigurePdi()
	assert.Nil(t, err)
	safeOp, err := withPdi.IntoSafeOp()
	assert.Nil(t, err)

	op, err := safeOp.RequestIntoOp()
	assert.Nil(t, err)

	// The cyclic loop keeps running; the devices reach OP on their own.
	_, err = op.TxRx()
	assert.Nil(t, err)

	allOp, err := op.AllOp()
	assert.Nil(t, err)
	assert.True(t, allOp)
}
