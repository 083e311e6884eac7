package subdevice

import "fmt"

// Port is one of the four EtherCAT ports of a SubDevice. Frames traverse
// the open ports of a device in the fixed order 0 -> 3 -> 1 -> 2, which is
// why the Ports array is stored in that order rather than numerically.
type Port struct {
	Active        bool
	DcReceiveTime uint32
	// Number is the EtherCAT port number.
	Number uint8
	// DownstreamTo holds the index of the SubDevice attached behind this
	// port, or -1.
	DownstreamTo int
}

// Topology classifies a SubDevice by its number of open ports.
type Topology uint8

const (
	// TopologyPassthrough has an upstream and one downstream port.
	TopologyPassthrough Topology = iota
	// TopologyLineEnd closes its branch of the tree.
	TopologyLineEnd
	// TopologyFork has one upstream and two downstream branches.
	TopologyFork
	// TopologyCross has one upstream and three downstream branches.
	TopologyCross
)

func (t Topology) String() string {
	switch t {
	case TopologyPassthrough:
		return "passthrough"
	case TopologyLineEnd:
		return "line end"
	case TopologyFork:
		return "fork"
	case TopologyCross:
		return "cross"
	}
	return fmt.Sprintf("Topology(%d)", uint8(t))
}

// IsJunction reports whether the device splits the tree.
func (t Topology) IsJunction() bool {
	return t == TopologyFork || t == TopologyCross
}

// Ports holds the four ports in traversal order 0, 3, 1, 2.
type Ports [4]Port

// NewPorts builds a Ports value from the per port open flags, given in
// traversal order.
func NewPorts(active0, active3, active1, active2 bool) Ports {
	return Ports{
		{Active: active0, Number: 0, DownstreamTo: -1},
		{Active: active3, Number: 3, DownstreamTo: -1},
		{Active: active1, Number: 1, DownstreamTo: -1},
		{Active: active2, Number: 2, DownstreamTo: -1},
	}
}

// SetReceiveTimes stores the latched port receive times, given in register
// order (port 0, 1, 2, 3).
func (p *Ports) SetReceiveTimes(t0, t1, t2, t3 uint32) {
	p[0].DcReceiveTime = t0
	p[1].DcReceiveTime = t3
	p[2].DcReceiveTime = t1
	p[3].DcReceiveTime = t2
}

func (p *Ports) openPorts() int {
	n := 0
	for _, port := range p {
		if port.Active {
			n++
		}
	}
	return n
}

// Topology returns the device classification from its open port count.
func (p *Ports) Topology() Topology {
	switch p.openPorts() {
	case 1:
		return TopologyLineEnd
	case 3:
		return TopologyFork
	case 4:
		return TopologyCross
	default:
		return TopologyPassthrough
	}
}

// EntryPort returns the open port that sees traffic first, i.e. the one
// with the earliest receive time.
func (p *Ports) EntryPort() Port {
	best := -1
	for i, port := range p {
		if !port.Active {
			continue
		}
		if best < 0 || port.DcReceiveTime < p[best].DcReceiveTime {
			best = i
		}
	}
	if best < 0 {
		return Port{DownstreamTo: -1}
	}
	return p[best]
}

func portIndex(number uint8) int {
	switch number {
	case 0:
		return 0
	case 3:
		return 1
	case 1:
		return 2
	default:
		return 3
	}
}

// AssignNextDownstreamPort links a downstream device to the next open port
// after the entry port that has no assignment yet. It returns the assigned
// port number, or false when every open port is taken.
func (p *Ports) AssignNextDownstreamPort(downstreamIndex int) (uint8, bool) {
	entry := portIndex(p.EntryPort().Number)

	for i := 1; i < len(p); i++ {
		port := &p[(entry+i)%len(p)]
		if !port.Active || port.DownstreamTo >= 0 {
			continue
		}
		port.DownstreamTo = downstreamIndex
		return port.Number, true
	}
	return 0, false
}

// PortAssignedTo returns the port linked to the given SubDevice index.
func (p *Ports) PortAssignedTo(index int) (Port, bool) {
	for _, port := range p {
		if port.Active && port.DownstreamTo == index {
			return port, true
		}
	}
	return Port{DownstreamTo: -1}, false
}

// TotalPropagationTime is the time for a frame to traverse every open port
// of the device, i.e. the spread between the earliest and latest receive
// time. Zero when the device cannot tell (single port or missing times).
func (p *Ports) TotalPropagationTime() uint32 {
	var min, max uint32
	seen := false
	for _, port := range p {
		if !port.Active {
			continue
		}
		t := port.DcReceiveTime
		if !seen {
			min, max = t, t
			seen = true
			continue
		}
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return max - min
}

// IntermediatePropagationTimeTo sums the receive time deltas of adjacent
// open port pairs before the given port, the accumulated child subtree
// delay of a fork or cross.
func (p *Ports) IntermediatePropagationTimeTo(target Port) uint32 {
	sum := uint32(0)
	targetIdx := portIndex(target.Number)
	for i := 0; i+1 < len(p); i++ {
		if i >= targetIdx {
			break
		}
		a, b := p[i], p[i+1]
		if a.Active && b.Active && b.DcReceiveTime > a.DcReceiveTime {
			sum += b.DcReceiveTime - a.DcReceiveTime
		}
	}
	return sum
}

// PropagationTimeTo is the traversal time from the entry port up to the
// given port.
func (p *Ports) PropagationTimeTo(target Port) uint32 {
	entryIdx := portIndex(p.EntryPort().Number)
	targetIdx := portIndex(target.Number)

	var min, max uint32
	seen := false
	for i, port := range p {
		if !port.Active || i < entryIdx || i > targetIdx {
			continue
		}
		t := port.DcReceiveTime
		if !seen {
			min, max = t, t
			seen = true
			continue
		}
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return max - min
}
