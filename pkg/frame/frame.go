// Package frame encodes and decodes the on-wire layout of EtherCAT frames:
// the Ethernet II header, the 2 byte EtherCAT header and the 10 byte PDU
// datagram headers with their working counter trailers.
//
// The codec operates in place on caller provided buffers. The PDU loop owns
// one buffer per frame slot and uses this package to fill it on the way out
// and to walk the reflected image on the way back in.
package frame

import (
	"errors"
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/command"
)

const (
	// HeaderLength is the size of the EtherCAT header that follows the
	// Ethernet header.
	HeaderLength = 2

	// PduHeaderLength is the fixed part of every PDU datagram.
	PduHeaderLength = 10

	// PduOverhead is the cost of one PDU beyond its payload: header plus
	// the 2 byte working counter trailer.
	PduOverhead = PduHeaderLength + 2

	// frameType is the EtherCAT header type nibble for PDU transport.
	frameType = 0x01

	lengthMask = 0x07FF

	circulatingBit = 14
	moreFollowsBit = 15
)

var (
	ErrNotEtherCAT  = errors.New("frame is not an EtherCAT PDU frame")
	ErrInvalidFrame = errors.New("invalid EtherCAT frame")
)

// WriteEthernetHeader fills the 14 byte Ethernet II header at the start of
// buf: broadcast destination, the given source and the EtherCAT EtherType.
// The EtherType is the one big endian field in the whole protocol.
func WriteEthernetHeader(buf []byte, src [6]byte) error {
	if len(buf) < ethercat.EthernetHeaderLength {
		return wire.ErrBufferTooShort
	}
	copy(buf[0:6], ethercat.BroadcastMAC[:])
	copy(buf[6:12], src[:])
	etherType := ethercat.EtherType
	buf[12] = byte(etherType >> 8)
	buf[13] = byte(etherType)
	return nil
}

// CheckEthernetHeader validates the EtherType of a received frame and returns
// its source MAC.
func CheckEthernetHeader(buf []byte) (src []byte, err error) {
	if len(buf) < ethercat.EthernetHeaderLength {
		return nil, wire.ErrBufferTooShort
	}
	if uint16(buf[12])<<8|uint16(buf[13]) != ethercat.EtherType {
		return nil, ErrNotEtherCAT
	}
	return buf[6:12], nil
}

// WriteHeader fills the 2 byte EtherCAT header with the given datagrams
// region length. buf points at the header itself, i.e. just past the
// Ethernet header.
func WriteHeader(buf []byte, datagramsLen int) error {
	if len(buf) < HeaderLength {
		return wire.ErrBufferTooShort
	}
	if datagramsLen > lengthMask {
		return ErrInvalidFrame
	}
	word := uint16(datagramsLen)&lengthMask | frameType<<12
	wire.PutUint16At(buf, 0, word)
	return nil
}

// ReadHeader parses the 2 byte EtherCAT header and returns the length of the
// datagrams region. Frames with a type nibble other than PDU transport are
// rejected.
func ReadHeader(buf []byte) (datagramsLen int, err error) {
	if len(buf) < HeaderLength {
		return 0, wire.ErrBufferTooShort
	}
	word := wire.Uint16At(buf, 0)
	if word>>12&0x0F != frameType {
		return 0, ErrNotEtherCAT
	}
	return int(word & lengthMask), nil
}

// PduHeader is the decoded form of the 10 byte datagram header.
type PduHeader struct {
	Command     command.Code
	Index       uint8
	Address     uint32
	Length      uint16
	Circulating bool
	MoreFollows bool
	Irq         uint16
}

// WritePdu writes a complete datagram at the start of buf: header, payload
// (zero filled up to length when the payload is shorter, as for read
// services) and a zeroed working counter. It returns the number of bytes
// written.
func WritePdu(buf []byte, cmd command.Command, index uint8, payload []byte, length uint16, moreFollows bool) (int, error) {
	if int(length) > int(lengthMask) {
		return 0, ErrInvalidFrame
	}
	total := PduHeaderLength + int(length) + 2
	if len(buf) < total {
		return 0, wire.ErrBufferTooShort
	}

	w := wire.NewWriter(buf)
	w.Uint8(uint8(cmd.Code))
	w.Uint8(index)
	w.Uint32(cmd.Address)

	lenWord := length & lengthMask
	if moreFollows {
		lenWord |= 1 << moreFollowsBit
	}
	w.Uint16(lenWord)
	w.Uint16(0) // irq

	w.Bytes(payload)
	// Zero fill the remainder of the data area plus the working counter.
	if err := w.Skip(int(length) - len(payload) + 2); err != nil {
		return 0, err
	}

	return total, nil
}

// SetMoreFollows flips the more-follows bit of the datagram header starting
// at buf. Used when a further PDU is appended behind an existing one.
func SetMoreFollows(buf []byte) {
	word := wire.Uint16At(buf, 6)
	word |= 1 << moreFollowsBit
	wire.PutUint16At(buf, 6, word)
}

// ReadPduHeader decodes the datagram header at the start of buf.
func ReadPduHeader(buf []byte) (PduHeader, error) {
	var h PduHeader
	r := wire.NewReader(buf)

	cmd, err := r.Uint8()
	if err != nil {
		return h, err
	}
	h.Command = command.Code(cmd)
	if h.Index, err = r.Uint8(); err != nil {
		return h, err
	}
	if h.Address, err = r.Uint32(); err != nil {
		return h, err
	}
	lenWord, err := r.Uint16()
	if err != nil {
		return h, err
	}
	h.Length = lenWord & lengthMask
	h.Circulating = lenWord&(1<<circulatingBit) != 0
	h.MoreFollows = lenWord&(1<<moreFollowsBit) != 0
	if h.Irq, err = r.Uint16(); err != nil {
		return h, err
	}
	return h, nil
}

// Pdu is one decoded datagram of a received frame. Data aliases the frame
// buffer, it is not a copy.
type Pdu struct {
	PduHeader
	Data           []byte
	WorkingCounter uint16
}

// ReadPdus walks the datagrams region of a received frame and returns every
// PDU in order. The region length must come from ReadHeader.
func ReadPdus(buf []byte) ([]Pdu, error) {
	var pdus []Pdu

	for {
		h, err := ReadPduHeader(buf)
		if err != nil {
			return nil, err
		}
		total := PduHeaderLength + int(h.Length) + 2
		if len(buf) < total {
			return nil, fmt.Errorf("%w: datagram needs %d bytes, have %d", ErrInvalidFrame, total, len(buf))
		}

		pdus = append(pdus, Pdu{
			PduHeader:      h,
			Data:           buf[PduHeaderLength : PduHeaderLength+int(h.Length)],
			WorkingCounter: wire.Uint16At(buf, PduHeaderLength+int(h.Length)),
		})

		if !h.MoreFollows {
			return pdus, nil
		}
		buf = buf[total:]
	}
}

// PadLength returns the on-wire size of a frame whose content ends at
// contentLen, accounting for the 60 byte Ethernet minimum.
func PadLength(contentLen int) int {
	if contentLen < ethercat.MinFrameLength {
		return ethercat.MinFrameLength
	}
	return contentLen
}
