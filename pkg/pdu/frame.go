package pdu

import (
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/command"
	"github.com/samsamfire/goethercat/pkg/frame"
)

// Handle identifies one PDU inside a frame. It stays valid for the received
// frame because the reflected image has exactly the layout of the request.
type Handle struct {
	Index uint8

	pos       int
	headerOff int
	dataOff   int
	dataLen   int
	slotSeq   uint32
}

// DataLength returns the payload length allocated for this PDU.
func (h Handle) DataLength() int {
	return h.dataLen
}

// CreatedFrame is a claimed slot being filled with PDUs. It must end in
// either MarkSendable or Drop, otherwise the slot leaks until process exit.
type CreatedFrame struct {
	loop      *Loop
	slot      *frameElement
	slotIndex uint16
}

// PushPdu appends one PDU carrying payload. lenOverride allocates a larger
// zero filled data area than the payload, which is how read services
// reserve space for the data SubDevices will place into the frame.
func (c *CreatedFrame) PushPdu(cmd command.Command, payload []byte, lenOverride int) (Handle, error) {
	slot := c.slot

	alloc := len(payload)
	if lenOverride > alloc {
		alloc = lenOverride
	}

	if alloc > c.loop.maxPduData {
		return Handle{}, ErrPduTooLong
	}
	if slot.pduCount >= MaxPdusPerFrame {
		return Handle{}, ErrTooManyPdus
	}
	if slot.cursor+frame.PduOverhead+alloc > len(slot.buf) {
		return Handle{}, ErrFrameFull
	}

	index, err := c.loop.reserveIndex(c.slotIndex)
	if err != nil {
		return Handle{}, err
	}

	if slot.prevHeader >= 0 {
		frame.SetMoreFollows(slot.buf[slot.prevHeader:])
	}

	n, err := frame.WritePdu(slot.buf[slot.cursor:], cmd, index, payload, uint16(alloc), false)
	if err != nil {
		// Cannot happen after the space check above, but never leak the
		// index if it does.
		c.loop.reservations[index].CompareAndSwap(uint32(c.slotIndex), sentinel)
		return Handle{}, err
	}

	h := Handle{
		Index:     index,
		pos:       slot.pduCount,
		headerOff: slot.cursor,
		dataOff:   slot.cursor + frame.PduHeaderLength,
		dataLen:   alloc,
		slotSeq:   slot.seq,
	}

	slot.pduIndexes[slot.pduCount] = index
	if slot.pduCount == 0 {
		slot.firstPduIndex = index
	}
	slot.pduCount++
	slot.prevHeader = slot.cursor
	slot.cursor += n

	return h, nil
}

// PduCount returns the number of PDUs pushed so far.
func (c *CreatedFrame) PduCount() int {
	return c.slot.pduCount
}

// FreePayload returns how many payload bytes another PDU could still carry
// in this frame.
func (c *CreatedFrame) FreePayload() int {
	free := len(c.slot.buf) - c.slot.cursor - frame.PduOverhead
	if free < 0 {
		return 0
	}
	if free > c.loop.maxPduData {
		free = c.loop.maxPduData
	}
	return free
}

// MarkSendable finalises the frame, hands it to the TX worker and returns
// the future that resolves when the reflected frame has been received.
// timeout is the per attempt round trip limit and retries the number of
// resubmissions of the same frame after a timeout.
func (c *CreatedFrame) MarkSendable(timeout time.Duration, retries int) *Future {
	slot := c.slot

	frame.WriteHeader(slot.buf[ethercat.EthernetHeaderLength:], slot.cursor-headersLength)

	// Zero stale bytes in the padding region from a previous use of the
	// slot buffer.
	padded := frame.PadLength(slot.cursor)
	for i := slot.cursor; i < padded; i++ {
		slot.buf[i] = 0
	}
	slot.rxLen = padded

	slot.state.CompareAndSwap(stateCreated, stateSendable)
	c.loop.notifyTx()

	return &Future{
		loop:      c.loop,
		slot:      slot,
		slotIndex: c.slotIndex,
		timeout:   timeout,
		retries:   retries,
	}
}

// Drop abandons a frame before it was marked sendable, returning the slot
// and all reserved PDU indices to the pool.
func (c *CreatedFrame) Drop() {
	c.loop.release(c.slot, c.slotIndex)
}

// ReceivedFrame gives access to the PDUs of a completed round trip. The
// data slices alias the slot buffer: they are valid until Close, which
// returns the slot to the pool.
type ReceivedFrame struct {
	loop      *Loop
	slot      *frameElement
	slotIndex uint16
	taken     uint32
}

// Pdu extracts one PDU's response data and working counter. Each handle may
// be taken at most once.
func (r *ReceivedFrame) Pdu(h Handle) ([]byte, uint16, error) {
	slot := r.slot

	if h.slotSeq != slot.seq || h.pos >= slot.pduCount || slot.pduIndexes[h.pos] != h.Index {
		return nil, 0, ErrInvalidIndex
	}
	if r.taken&(1<<h.pos) != 0 {
		return nil, 0, ErrInvalidIndex
	}
	if h.dataOff+h.dataLen+2 > len(slot.buf) {
		return nil, 0, ErrInvalidFrame
	}
	// The reflected image must still carry this PDU's index at the
	// recorded offset.
	if slot.buf[h.headerOff+1] != h.Index {
		return nil, 0, ErrInvalidIndex
	}

	r.taken |= 1 << h.pos

	data := slot.buf[h.dataOff : h.dataOff+h.dataLen]
	wkc := wire.Uint16At(slot.buf, h.dataOff+h.dataLen)
	return data, wkc, nil
}

// Close returns the slot to the pool and frees its PDU indices. Data slices
// obtained from Pdu must not be used afterwards.
func (r *ReceivedFrame) Close() {
	r.loop.release(r.slot, r.slotIndex)
}
