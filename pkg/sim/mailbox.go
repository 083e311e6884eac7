package sim

import (
	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/register"
)

// SDO command specifiers (requests).
const (
	reqDownloadSegment uint8 = 0x00
	reqDownload        uint8 = 0x01
	reqUpload          uint8 = 0x02
	reqUploadSegment   uint8 = 0x03
	respAbort          uint8 = 0x04
)

const (
	abortNotExist   uint32 = 0x06020000
	abortSubUnknown uint32 = 0x06090011
)

// seedPdoObjects populates the communication area objects that describe
// the device's PDO layout, so the CoE mapping path finds the same picture
// as the SII categories.
func (d *Device) seedPdoObjects() {
	u8 := func(v uint8) []byte { return []byte{v} }
	u16 := func(v uint16) []byte {
		b := make([]byte, 2)
		wire.PutUint16At(b, 0, v)
		return b
	}
	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		wire.PutUint32At(b, 0, v)
		return b
	}

	// Sync manager communication types.
	d.objects[0x1C00] = map[uint8][]byte{
		0: u8(4),
		1: u8(1), // mailbox out
		2: u8(2), // mailbox in
		3: u8(3), // process data out
		4: u8(4), // process data in
	}

	// SM2 assignment: outputs.
	sm2 := map[uint8][]byte{0: u8(0)}
	if d.cfg.OutputsLen > 0 {
		sm2[0] = u8(1)
		sm2[1] = u16(0x1600)

		mapping := map[uint8][]byte{0: u8(uint8(d.cfg.OutputsLen))}
		for i := 0; i < d.cfg.OutputsLen; i++ {
			mapping[uint8(i+1)] = u32(uint32(0x7000)<<16 | uint32(i+1)<<8 | 8)
		}
		d.objects[0x1600] = mapping
	}
	d.objects[0x1C12] = sm2

	// SM3 assignment: inputs.
	sm3 := map[uint8][]byte{0: u8(0)}
	if len(d.cfg.Inputs) > 0 {
		sm3[0] = u8(1)
		sm3[1] = u16(0x1A00)

		mapping := map[uint8][]byte{0: u8(uint8(len(d.cfg.Inputs)))}
		for i := 0; i < len(d.cfg.Inputs); i++ {
			mapping[uint8(i+1)] = u32(uint32(0x6000)<<16 | uint32(i+1)<<8 | 8)
		}
		d.objects[0x1A00] = mapping
	}
	d.objects[0x1C13] = sm3

	// Identity object.
	d.objects[0x1018] = map[uint8][]byte{
		0: u8(4),
		1: u32(d.cfg.VendorID),
		2: u32(d.cfg.ProductCode),
		3: u32(d.cfg.Revision),
		4: u32(d.cfg.SerialNumber),
	}

	// Device name as a visible string.
	if d.cfg.Name != "" {
		d.objects[0x1008] = map[uint8][]byte{0: []byte(d.cfg.Name)}
	}
}

func (d *Device) object(index uint16, sub uint8) ([]byte, uint32) {
	subs, ok := d.objects[index]
	if !ok {
		return nil, abortNotExist
	}
	data, ok := subs[sub]
	if !ok {
		return nil, abortSubUnknown
	}
	return data, 0
}

func (d *Device) setObject(index uint16, sub uint8, data []byte) {
	if _, ok := d.objects[index]; !ok {
		d.objects[index] = map[uint8][]byte{}
	}
	d.objects[index][sub] = append([]byte(nil), data...)
}

// handleMailboxRequest processes the request latched into the receive
// mailbox and posts a response to the send mailbox.
func (d *Device) handleMailboxRequest(buf []byte) {
	if !d.cfg.Mailbox || len(buf) < 12 {
		return
	}

	mbxType := buf[5] & 0x0F
	counter := buf[5] >> 4 & 0x07
	if mbxType != 0x03 { // CoE only
		return
	}

	sdo := buf[8:]
	flags := sdo[0]
	spec := flags >> 5

	switch spec {
	case reqUpload:
		index := wire.Uint16At(sdo, 1)
		sub := sdo[3]
		d.respondUpload(counter, index, sub)

	case reqUploadSegment:
		toggle := flags&(1<<4) != 0
		d.respondUploadSegment(counter, toggle)

	case reqDownload:
		index := wire.Uint16At(sdo, 1)
		sub := sdo[3]
		if flags&(1<<1) != 0 {
			// Expedited: inline data with free byte count.
			n := 4 - int(flags>>2&0x03)
			d.setObject(index, sub, sdo[4:4+n])
		} else {
			// Normal: complete size announced, first chunk inline.
			mbxLen := wire.Uint16At(buf, 0)
			chunk := int(mbxLen) - 10
			if chunk < 0 {
				chunk = 0
			}
			total := int(wire.Uint32At(sdo, 4))
			d.segData = append([]byte(nil), sdo[8:8+chunk]...)
			d.dlIndex = index
			d.dlSub = sub
			d.dlTotal = total
			if len(d.segData) >= total {
				d.setObject(index, sub, d.segData[:total])
			}
		}
		d.respondDownloadAck(counter, index, sub)

	case reqDownloadSegment:
		mbxLen := wire.Uint16At(buf, 0)
		chunk := int(mbxLen) - 3
		if chunk == 7 {
			chunk -= int(flags >> 1 & 0x07)
		}
		if chunk < 0 {
			chunk = 0
		}
		d.segData = append(d.segData, buf[9:9+chunk]...)
		last := flags&(1<<0) != 0
		if last {
			total := d.dlTotal
			if total > len(d.segData) {
				total = len(d.segData)
			}
			d.setObject(d.dlIndex, d.dlSub, d.segData[:total])
		}
		d.respondSegmentAck(counter, flags&(1<<4) != 0)
	}
}

func (d *Device) respondUpload(counter uint8, index uint16, sub uint8) {
	data, abort := d.object(index, sub)
	if abort != 0 {
		d.respondAbort(counter, index, sub, abort)
		return
	}

	if len(data) <= 4 {
		resp := make([]byte, 16)
		writeResponseHeaders(resp, 10, counter)
		resp[8] = reqUpload<<5 | 1<<1 | 1<<0 | uint8(4-len(data))<<2
		wire.PutUint16At(resp, 9, index)
		resp[11] = sub
		copy(resp[12:], data)
		d.postResponse(resp)
		return
	}

	// Fits the mailbox: normal upload with inline payload.
	capacity := d.mbxLen - 16
	if len(data) <= capacity {
		resp := make([]byte, 16+len(data))
		writeResponseHeaders(resp, uint16(10+len(data)), counter)
		resp[8] = reqUpload<<5 | 1<<0
		wire.PutUint16At(resp, 9, index)
		resp[11] = sub
		wire.PutUint32At(resp, 12, uint32(len(data)))
		copy(resp[16:], data)
		d.postResponse(resp)
		return
	}

	// Segmented: announce the size only, the data follows in segments.
	d.segData = append([]byte(nil), data...)

	resp := make([]byte, 16)
	writeResponseHeaders(resp, 10, counter)
	resp[8] = reqUpload<<5 | 1<<0
	wire.PutUint16At(resp, 9, index)
	resp[11] = sub
	wire.PutUint32At(resp, 12, uint32(len(data)))
	d.postResponse(resp)
}

func (d *Device) respondUploadSegment(counter uint8, toggle bool) {
	capacity := d.mbxLen - 9
	chunk := d.segData
	if len(chunk) > capacity {
		chunk = chunk[:capacity]
	}
	d.segData = d.segData[len(chunk):]
	last := len(d.segData) == 0

	payload := len(chunk)
	if payload < 7 {
		payload = 7
	}

	resp := make([]byte, 9+payload)
	writeResponseHeaders(resp, uint16(3+payload), counter)

	var seg uint8
	if toggle {
		seg |= 1 << 4
	}
	if last {
		seg |= 1 << 0
	}
	if len(chunk) < 7 {
		seg |= uint8(7-len(chunk)) << 1
	}
	resp[8] = seg
	copy(resp[9:], chunk)
	d.postResponse(resp)
}

func (d *Device) respondDownloadAck(counter uint8, index uint16, sub uint8) {
	resp := make([]byte, 16)
	writeResponseHeaders(resp, 10, counter)
	resp[8] = 0x03 << 5 // download response
	wire.PutUint16At(resp, 9, index)
	resp[11] = sub
	d.postResponse(resp)
}

func (d *Device) respondSegmentAck(counter uint8, toggle bool) {
	resp := make([]byte, 9+7)
	writeResponseHeaders(resp, 3+7, counter)
	var seg uint8 = 0x01 << 5 // download segment response
	if toggle {
		seg |= 1 << 4
	}
	resp[8] = seg
	d.postResponse(resp)
}

func (d *Device) respondAbort(counter uint8, index uint16, sub uint8, code uint32) {
	resp := make([]byte, 16)
	writeResponseHeaders(resp, 10, counter)
	resp[8] = respAbort << 5
	wire.PutUint16At(resp, 9, index)
	resp[11] = sub
	wire.PutUint32At(resp, 12, code)
	d.postResponse(resp)
}

// writeResponseHeaders fills the mailbox and CoE headers of a response.
// length is the CoE payload length behind the mailbox header.
func writeResponseHeaders(resp []byte, length uint16, counter uint8) {
	wire.PutUint16At(resp, 0, length)
	resp[5] = 0x03 | counter<<4              // CoE, mirrored counter
	wire.PutUint16At(resp, 6, uint16(3)<<12) // SDO response service
}

// postResponse places a response into the send mailbox and raises the
// sync manager full flag.
func (d *Device) postResponse(resp []byte) {
	for i := mailboxSendStart; i < mailboxSendStart+d.mbxLen; i++ {
		d.mem[i] = 0
	}
	copy(d.mem[mailboxSendStart:], resp)
	d.mem[register.SyncManagerStatus(1)] |= 1 << 3
}
