package coe

import (
	"github.com/samsamfire/goethercat/internal/wire"
)

// writeMailboxHeader fills the 6 byte mailbox header. length is the CoE
// payload length behind the header.
func writeMailboxHeader(buf []byte, length uint16, counter uint8) {
	wire.PutUint16At(buf, 0, length)
	wire.PutUint16At(buf, 2, 0) // station address, unused for CoE
	buf[4] = 0                  // channel and priority
	buf[5] = mailboxTypeCoe | (counter&0x07)<<4
}

func writeCoeHeader(buf []byte, service uint8) {
	// Number field zero, service in the top nibble.
	wire.PutUint16At(buf, 0, uint16(service&0x0F)<<12)
}

// uploadRequest builds an SDO upload (read) initiate request.
func uploadRequest(counter uint8, index uint16, subindex uint8) []byte {
	buf := make([]byte, normalHeadersLength+4)
	writeMailboxHeader(buf, coeHeaderLength+initHeaderLength+4, counter)
	writeCoeHeader(buf[mailboxHeaderLength:], serviceSdoRequest)

	sdo := buf[mailboxHeaderLength+coeHeaderLength:]
	sdo[0] = specUpload << 5
	wire.PutUint16At(sdo, 1, index)
	sdo[3] = subindex
	return buf
}

// uploadSegmentRequest builds an "upload segment" follow up request with
// the given toggle state.
func uploadSegmentRequest(counter uint8, toggle bool) []byte {
	buf := make([]byte, segmentedHeadersLength+7)
	writeMailboxHeader(buf, coeHeaderLength+segmentHeaderLength+7, counter)
	writeCoeHeader(buf[mailboxHeaderLength:], serviceSdoRequest)

	seg := specUploadSegment << 5
	if toggle {
		seg |= 1 << 4
	}
	buf[mailboxHeaderLength+coeHeaderLength] = seg
	return buf
}

// expeditedDownloadRequest builds an SDO download initiate request with up
// to 4 data bytes carried inline.
func expeditedDownloadRequest(counter uint8, index uint16, subindex uint8, data []byte) []byte {
	buf := make([]byte, normalHeadersLength+4)
	writeMailboxHeader(buf, coeHeaderLength+initHeaderLength+4, counter)
	writeCoeHeader(buf[mailboxHeaderLength:], serviceSdoRequest)

	sdo := buf[mailboxHeaderLength+coeHeaderLength:]
	// size indicator + expedited + free byte count in bits 2..3
	sdo[0] = specDownload<<5 | 1<<1 | 1<<0 | uint8(4-len(data))<<2
	wire.PutUint16At(sdo, 1, index)
	sdo[3] = subindex
	copy(sdo[4:], data)
	return buf
}

// normalDownloadRequest builds a download initiate request announcing
// completeSize and carrying the first chunk of data.
func normalDownloadRequest(counter uint8, index uint16, subindex uint8, completeSize uint32, chunk []byte) []byte {
	buf := make([]byte, normalHeadersLength+4+len(chunk))
	writeMailboxHeader(buf, uint16(coeHeaderLength+initHeaderLength+4+len(chunk)), counter)
	writeCoeHeader(buf[mailboxHeaderLength:], serviceSdoRequest)

	sdo := buf[mailboxHeaderLength+coeHeaderLength:]
	sdo[0] = specDownload<<5 | 1<<0 // size indicator, not expedited
	wire.PutUint16At(sdo, 1, index)
	sdo[3] = subindex
	wire.PutUint32At(sdo, 4, completeSize)
	copy(sdo[8:], chunk)
	return buf
}

// downloadSegmentRequest builds a follow up download segment.
func downloadSegmentRequest(counter uint8, toggle bool, last bool, chunk []byte) []byte {
	// Minimum segment payload is 7 bytes; unused bytes are declared in
	// the size field.
	payload := len(chunk)
	if payload < 7 {
		payload = 7
	}
	buf := make([]byte, segmentedHeadersLength+payload)
	writeMailboxHeader(buf, uint16(coeHeaderLength+segmentHeaderLength+payload), counter)
	writeCoeHeader(buf[mailboxHeaderLength:], serviceSdoRequest)

	seg := specDownloadSegment << 5
	if toggle {
		seg |= 1 << 4
	}
	if last {
		seg |= 1 << 0
	}
	if len(chunk) < 7 {
		seg |= uint8(7-len(chunk)) << 1
	}
	buf[mailboxHeaderLength+coeHeaderLength] = seg
	copy(buf[segmentedHeadersLength:], chunk)
	return buf
}
