package dc

import (
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/samsamfire/goethercat/pkg/subdevice"
	"github.com/stretchr/testify/assert"
)

func device(index int, name string, ports subdevice.Ports) *subdevice.SubDevice {
	return &subdevice.SubDevice{
		Index:             index,
		ConfiguredAddress: 0x1000 + uint16(index),
		Name:              name,
		Ports:             ports,
		ParentIndex:       -1,
		Flags:             register.SupportFlags{DcSupported: true},
	}
}

func TestFindParentBehindFork(t *testing.T) {
	// A coupler (fork) carries a terminal branch; the device after the
	// branch's line end must attach to the coupler, not to the line end.
	passthrough := subdevice.NewPorts(true, true, false, false)
	fork := subdevice.NewPorts(true, true, true, false)
	lineEnd := subdevice.NewPorts(true, false, false, false)

	parents := []*subdevice.SubDevice{
		device(0, "LAN9252", passthrough),
		device(1, "EK1100", fork),
		device(2, "EL2004", passthrough),
		device(3, "EL3004", lineEnd),
	}
	me := device(4, "LAN9252", lineEnd)

	parent, err := findParent(parents, me)
	assert.Nil(t, err)
	assert.Equal(t, 1, parent)
}

func TestFindParentLinear(t *testing.T) {
	passthrough := subdevice.NewPorts(true, true, false, false)

	first := device(0, "EK1100", passthrough)
	parent, err := findParent(nil, first)
	assert.Nil(t, err)
	assert.Equal(t, -1, parent)

	second := device(1, "EL2828", passthrough)
	parent, err = findParent([]*subdevice.SubDevice{first}, second)
	assert.Nil(t, err)
	assert.Equal(t, 0, parent)
}

// Tree: master -> A (fork) with B on one branch and C -> D on the other.
func s4Devices() []*subdevice.SubDevice {
	aPorts := subdevice.NewPorts(true, false, true, true)
	aPorts.SetReceiveTimes(100, 300, 200, 0)

	bPorts := subdevice.NewPorts(true, false, false, false)
	bPorts.SetReceiveTimes(150, 0, 0, 0)

	cPorts := subdevice.NewPorts(true, false, true, false)
	cPorts.SetReceiveTimes(230, 270, 0, 0)

	dPorts := subdevice.NewPorts(true, false, false, false)
	dPorts.SetReceiveTimes(250, 0, 0, 0)

	return []*subdevice.SubDevice{
		device(0, "A", aPorts),
		device(1, "B", bPorts),
		device(2, "C", cPorts),
		device(3, "D", dPorts),
	}
}

func TestPropagationDelays(t *testing.T) {
	devices := s4Devices()
	assert.Nil(t, AssignParentRelationships(devices))

	assert.Equal(t, -1, devices[0].ParentIndex)
	assert.Equal(t, 0, devices[1].ParentIndex)
	assert.Equal(t, 0, devices[2].ParentIndex)
	assert.Equal(t, 2, devices[3].ParentIndex)

	assert.Equal(t, uint32(50), devices[0].PropagationDelay)
	assert.Equal(t, uint32(25), devices[1].PropagationDelay)
	assert.Equal(t, uint32(65), devices[2].PropagationDelay)
	assert.Equal(t, uint32(85), devices[3].PropagationDelay)
}

func TestDownstreamPortAssignment(t *testing.T) {
	devices := s4Devices()
	assert.Nil(t, AssignParentRelationships(devices))

	// B hangs off A's port 1, C off A's port 2, D off C's port 1.
	port, ok := devices[0].Ports.PortAssignedTo(1)
	assert.True(t, ok)
	assert.Equal(t, uint8(1), port.Number)

	port, ok = devices[0].Ports.PortAssignedTo(2)
	assert.True(t, ok)
	assert.Equal(t, uint8(2), port.Number)

	port, ok = devices[2].Ports.PortAssignedTo(3)
	assert.True(t, ok)
	assert.Equal(t, uint8(1), port.Number)
}

func TestDelaysMonotonicPerBranch(t *testing.T) {
	devices := s4Devices()
	assert.Nil(t, AssignParentRelationships(devices))

	// Walking down any branch from its junction, delays never decrease.
	assert.GreaterOrEqual(t, devices[3].PropagationDelay, devices[2].PropagationDelay)
}

func TestFindReference(t *testing.T) {
	devices := s4Devices()
	devices[0].Flags.DcSupported = false

	ref, err := FindReference(devices)
	assert.Nil(t, err)
	assert.Equal(t, 1, ref.Index)

	for _, sd := range devices {
		sd.Flags.DcSupported = false
	}
	_, err = FindReference(devices)
	assert.Equal(t, ErrNoReference, err)
}

func TestNextCycleWait(t *testing.T) {
	period := time.Millisecond
	shift := 10 * time.Microsecond

	// 300ns into the cycle: sleep the rest of the period plus shift.
	wait := NextCycleWait(2_000_000_300, period, shift)
	assert.Equal(t, time.Duration(999_700)+shift, wait)

	// Exactly on the boundary: a full period plus shift.
	wait = NextCycleWait(5_000_000_000, period, shift)
	assert.Equal(t, period+shift, wait)

	assert.Equal(t, time.Duration(0), NextCycleWait(123, 0, shift))
}
