// Package ethercat holds the constants and conventions shared by every layer
// of the EtherCAT MainDevice implementation: the EtherType, the MAC address
// scheme used on the segment, and the Ethernet framing limits.
//
// The actual machinery lives in the subpackages:
//   - pkg/pdu: frame pool, PDU loop, TX/RX workers
//   - pkg/maindevice: the MainDevice handle and typed command layer
//   - pkg/group: SubDevice groups, lifecycle and cyclic process data
//   - pkg/link: raw Layer 2 transports
package ethercat

// EtherType of every EtherCAT frame on the wire.
const EtherType uint16 = 0x88A4

// Ethernet II framing limits. EtherCAT runs on a dedicated segment without
// VLAN tags, so the classic 14 byte header and 60 byte minimum apply.
const (
	EthernetHeaderLength = 14
	MinFrameLength       = 60
	MaxFrameLength       = 1514
)

// BroadcastMAC is the destination of every frame the MainDevice emits. The
// first SubDevice on the wire consumes frames regardless of destination, so
// broadcast is the convention.
var BroadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// MasterMAC is the default source address for outgoing frames. The value is
// arbitrary but must have the locally administered bit clear, see
// IsReflected.
var MasterMAC = [6]byte{0x10, 0x10, 0x10, 0x10, 0x10, 0x10}

// IsReflected reports whether a received frame is one of our own frames
// looped back through the segment. The first SubDevice sets the locally
// administered bit (0x02 in the second nibble of the first octet) of the
// source MAC when it forwards a frame, which is how the MainDevice tells
// reflected frames apart from its own transmissions picked up by the
// interface.
func IsReflected(srcMAC []byte) bool {
	return len(srcMAC) >= 1 && srcMAC[0]&0x02 != 0
}
