package coe

import (
	"github.com/samsamfire/goethercat/internal/wire"
)

// mailboxHeader is the decoded 6 byte mailbox envelope.
type mailboxHeader struct {
	Length  uint16
	Address uint16
	Type    uint8
	Counter uint8
}

func parseMailboxHeader(buf []byte) (mailboxHeader, error) {
	if len(buf) < mailboxHeaderLength {
		return mailboxHeader{}, wire.ErrBufferTooShort
	}
	return mailboxHeader{
		Length:  wire.Uint16At(buf, 0),
		Address: wire.Uint16At(buf, 2),
		Type:    buf[5] & 0x0F,
		Counter: buf[5] >> 4 & 0x07,
	}, nil
}

// initResponse is a decoded normal (non segmented) SDO response.
type initResponse struct {
	mailbox   mailboxHeader
	spec      uint8
	expedited bool
	sizeSet   bool
	freeSize  uint8
	Index     uint16
	Subindex  uint8
	data      []byte
}

func parseInitResponse(buf []byte) (initResponse, error) {
	var r initResponse
	var err error
	if r.mailbox, err = parseMailboxHeader(buf); err != nil {
		return r, err
	}
	if len(buf) < normalHeadersLength {
		return r, wire.ErrBufferTooShort
	}

	sdo := buf[mailboxHeaderLength+coeHeaderLength:]
	flags := sdo[0]
	r.spec = flags >> 5
	r.expedited = flags&(1<<1) != 0
	r.sizeSet = flags&(1<<0) != 0
	r.freeSize = flags >> 2 & 0x03
	r.Index = wire.Uint16At(sdo, 1)
	r.Subindex = sdo[3]
	r.data = sdo[4:]
	return r, nil
}

func (r initResponse) abort() error {
	if r.spec != specAbort {
		return nil
	}
	code := AbortGeneral
	if len(r.data) >= 4 {
		code = AbortCode(wire.Uint32At(r.data, 0))
	}
	return &SdoAbort{Index: r.Index, Subindex: r.Subindex, Code: code}
}

// expeditedData returns the inline data of an expedited response.
func (r initResponse) expeditedData() []byte {
	n := 4
	if r.sizeSet {
		n = 4 - int(r.freeSize)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	return r.data[:n]
}

// segmentResponse is a decoded upload segment response.
type segmentResponse struct {
	mailbox     mailboxHeader
	spec        uint8
	toggle      bool
	lastSegment bool
	unusedBytes uint8
	data        []byte
}

func parseSegmentResponse(buf []byte) (segmentResponse, error) {
	var r segmentResponse
	var err error
	if r.mailbox, err = parseMailboxHeader(buf); err != nil {
		return r, err
	}
	if len(buf) < segmentedHeadersLength {
		return r, wire.ErrBufferTooShort
	}

	seg := buf[mailboxHeaderLength+coeHeaderLength]
	r.spec = seg >> 5
	r.toggle = seg&(1<<4) != 0
	r.lastSegment = seg&(1<<0) != 0
	r.unusedBytes = seg >> 1 & 0x07
	r.data = buf[segmentedHeadersLength:]
	return r, nil
}

// chunk returns the valid payload of a segment response: the mailbox
// length minus the CoE and segment headers, with the minimum 7 byte
// payload trimmed by the declared unused byte count (ETG1000.6 5.6.2.3).
func (r segmentResponse) chunk() []byte {
	n := int(r.mailbox.Length) - coeHeaderLength - segmentHeaderLength
	if n == 7 {
		n -= int(r.unusedBytes)
	}
	if n < 0 {
		n = 0
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	return r.data[:n]
}
