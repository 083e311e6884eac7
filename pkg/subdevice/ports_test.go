package subdevice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const entryReceive = 1234

func makePorts(active0, active3, active1, active2 bool) Ports {
	p := NewPorts(active0, active3, active1, active2)
	p[0].DcReceiveTime = entryReceive
	p[1].DcReceiveTime = entryReceive + 100
	p[2].DcReceiveTime = entryReceive + 200
	p[3].DcReceiveTime = entryReceive + 300
	return p
}

func TestTopologyClassification(t *testing.T) {
	fork := makePorts(true, true, true, false)
	passthrough := makePorts(true, true, false, false)
	lineEnd := makePorts(true, false, false, false)
	cross := makePorts(true, true, true, true)

	assert.Equal(t, TopologyFork, fork.Topology())
	assert.Equal(t, TopologyPassthrough, passthrough.Topology())
	assert.Equal(t, TopologyLineEnd, lineEnd.Topology())
	assert.Equal(t, TopologyCross, cross.Topology())
	assert.True(t, fork.Topology().IsJunction())
	assert.False(t, passthrough.Topology().IsJunction())
}

func TestEntryPort(t *testing.T) {
	p := makePorts(true, true, true, false)
	assert.Equal(t, uint8(0), p.EntryPort().Number)

	// Entry port is the one with the earliest receive time, not port 0.
	p[0].DcReceiveTime = 9999
	assert.Equal(t, uint8(3), p.EntryPort().Number)
}

func TestAssignDownstreamPorts(t *testing.T) {
	p := makePorts(true, true, true, false)

	number, ok := p.AssignNextDownstreamPort(1)
	assert.True(t, ok)
	assert.Equal(t, uint8(3), number)

	number, ok = p.AssignNextDownstreamPort(2)
	assert.True(t, ok)
	assert.Equal(t, uint8(1), number)

	// Only the entry port is left
	_, ok = p.AssignNextDownstreamPort(3)
	assert.False(t, ok)

	port, ok := p.PortAssignedTo(2)
	assert.True(t, ok)
	assert.Equal(t, uint8(1), port.Number)

	_, ok = p.PortAssignedTo(7)
	assert.False(t, ok)
}

func TestTotalPropagationTime(t *testing.T) {
	passthrough := makePorts(true, true, false, false)
	assert.Equal(t, uint32(100), passthrough.TotalPropagationTime())

	fork := makePorts(true, true, true, false)
	assert.Equal(t, uint32(200), fork.TotalPropagationTime())

	single := makePorts(true, false, false, false)
	assert.Equal(t, uint32(0), single.TotalPropagationTime())
}

func TestSetReceiveTimesOrder(t *testing.T) {
	var p Ports = NewPorts(true, true, true, true)
	// Register order is 0,1,2,3; storage order is 0,3,1,2.
	p.SetReceiveTimes(100, 300, 400, 200)
	assert.Equal(t, uint32(100), p[0].DcReceiveTime)
	assert.Equal(t, uint32(200), p[1].DcReceiveTime) // port 3
	assert.Equal(t, uint32(300), p[2].DcReceiveTime) // port 1
	assert.Equal(t, uint32(400), p[3].DcReceiveTime) // port 2
}

func TestPdiRange(t *testing.T) {
	r := PdiRange{Start: 4, Length: 6}
	assert.Equal(t, 10, r.End())
	assert.False(t, r.Empty())
	assert.True(t, PdiRange{}.Empty())
}
