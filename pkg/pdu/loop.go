// Package pdu implements the PDU loop: a fixed pool of Ethernet frame slots
// coordinated entirely through per slot atomic state machines, a 256 cell
// PDU index reservation table, a single TX worker and a single RX worker.
//
// Application goroutines allocate a frame, push PDUs into it, mark it
// sendable and wait for the response. The TX worker drains sendable slots
// onto the link; the RX worker matches inbound frames back to their slot by
// the index of their first PDU and wakes the waiting goroutine. No locks are
// involved, only compare and swap transitions on the slot state.
package pdu

import (
	"fmt"
	"runtime"
	"sync/atomic"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/frame"
)

// Slot lifecycle. A slot is owned by exactly one party in every state:
// the allocating goroutine in Created/Sendable/Sent/RxDone/RxProcessing,
// the TX worker in Sending and the RX worker in RxBusy. Re-entering None
// resets all slot fields.
const (
	stateNone uint32 = iota
	stateCreated
	stateSendable
	stateSending
	stateSent
	stateRxBusy
	stateRxDone
	stateRxProcessing
)

const (
	// MaxPdusPerFrame bounds the PDU index list of one slot.
	MaxPdusPerFrame = 16

	// sentinel marks a free cell in the PDU index reservation table.
	sentinel uint32 = 0xFFFF

	headersLength = ethercat.EthernetHeaderLength + frame.HeaderLength
)

type frameElement struct {
	state atomic.Uint32

	// buf holds a complete Ethernet frame image, headers included. The
	// RX worker overwrites it with the reflected frame.
	buf []byte

	// cursor is the current append offset into buf.
	cursor int

	firstPduIndex uint8
	pduIndexes    [MaxPdusPerFrame]uint8
	pduCount      int

	// prevHeader is the buf offset of the last written PDU header, used
	// to set its more-follows bit when another PDU is appended.
	prevHeader int

	// seq tags each claim cycle of this slot.
	seq uint32

	// done is the slot's waker: created on claim, closed exactly once by
	// the RX worker when the response is ready.
	done chan struct{}

	rxLen int
}

// Loop is the frame pool and its reservation table. One Loop serves the
// whole MainDevice and is shared by all groups.
type Loop struct {
	frames     []frameElement
	maxPduData int

	// reservations maps a 1 byte PDU index to the slot that owns it, or
	// sentinel. Coordination is by compare and swap only.
	reservations [256]atomic.Uint32

	allocHint atomic.Uint32
	indexHint atomic.Uint32

	srcMAC [6]byte

	// txNotify wakes the TX worker, capacity 1 so notifications collapse.
	txNotify chan struct{}
}

// NewLoop creates a loop with numFrames slots, each able to carry
// maxPduData bytes of payload in a single PDU. numFrames must be a power of
// two no larger than 256.
func NewLoop(numFrames int, maxPduData int) (*Loop, error) {
	if numFrames <= 0 || numFrames > 256 || numFrames&(numFrames-1) != 0 {
		return nil, fmt.Errorf("frame count %d must be a power of two <= 256", numFrames)
	}
	bufLen := headersLength + frame.PduOverhead + maxPduData
	if bufLen < ethercat.MinFrameLength {
		bufLen = ethercat.MinFrameLength
	}
	if bufLen > ethercat.MaxFrameLength {
		return nil, fmt.Errorf("max PDU data %d exceeds an Ethernet frame", maxPduData)
	}

	l := &Loop{
		frames:     make([]frameElement, numFrames),
		maxPduData: maxPduData,
		srcMAC:     ethercat.MasterMAC,
		txNotify:   make(chan struct{}, 1),
	}
	for i := range l.frames {
		l.frames[i].buf = make([]byte, bufLen)
	}
	for i := range l.reservations {
		l.reservations[i].Store(sentinel)
	}
	return l, nil
}

// MaxPduData returns the payload capacity of a single PDU, the chunk limit
// used by the PDI manager.
func (l *Loop) MaxPduData() int {
	return l.maxPduData
}

// AllocFrame claims a free slot and prepares it for PDU appends. The scan
// starts from a rolling hint so consecutive allocations spread over the pool
// instead of convoying on slot zero.
func (l *Loop) AllocFrame() (*CreatedFrame, error) {
	n := len(l.frames)
	start := int(l.allocHint.Add(1)-1) % n

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		slot := &l.frames[idx]
		if !slot.state.CompareAndSwap(stateNone, stateCreated) {
			continue
		}

		slot.cursor = headersLength
		slot.pduCount = 0
		slot.prevHeader = -1
		slot.rxLen = 0
		slot.seq++
		slot.done = make(chan struct{})

		// Outer headers are written once; the EtherCAT header length is
		// patched in MarkSendable.
		frame.WriteEthernetHeader(slot.buf, l.srcMAC)
		frame.WriteHeader(slot.buf[ethercat.EthernetHeaderLength:], 0)

		return &CreatedFrame{loop: l, slot: slot, slotIndex: uint16(idx)}, nil
	}

	return nil, ErrCreateFrame
}

// reserveIndex claims a free PDU index for the given slot, scanning from a
// rolling hint.
func (l *Loop) reserveIndex(slotIndex uint16) (uint8, error) {
	start := l.indexHint.Add(1) - 1
	for i := uint32(0); i < 256; i++ {
		idx := uint8(start + i)
		if l.reservations[idx].CompareAndSwap(sentinel, uint32(slotIndex)) {
			return idx, nil
		}
	}
	return 0, ErrSwarmedPduIndices
}

// release returns a slot to the pool: it quarantines the slot so the RX
// worker can no longer claim it, frees every PDU index cell the slot owns
// and only then re-enters None. If the RX worker holds the slot the release
// waits for it to finish.
func (l *Loop) release(slot *frameElement, slotIndex uint16) {
	for {
		switch s := slot.state.Load(); s {
		case stateNone:
			return
		case stateRxBusy, stateSending:
			// A worker holds the buffer, let it finish.
			runtime.Gosched()
		default:
			if !slot.state.CompareAndSwap(s, stateRxProcessing) {
				continue
			}
			for i := 0; i < slot.pduCount; i++ {
				l.reservations[slot.pduIndexes[i]].CompareAndSwap(uint32(slotIndex), sentinel)
			}
			slot.state.Store(stateNone)
			return
		}
	}
}

func (l *Loop) notifyTx() {
	select {
	case l.txNotify <- struct{}{}:
	default:
	}
}

// reservedSlot returns the slot index owning a PDU index, or false.
func (l *Loop) reservedSlot(index uint8) (uint16, bool) {
	v := l.reservations[index].Load()
	if v == sentinel {
		return 0, false
	}
	return uint16(v), true
}

// LiveIndexCount reports how many PDU indices are currently reserved.
// Diagnostics only.
func (l *Loop) LiveIndexCount() int {
	n := 0
	for i := range l.reservations {
		if l.reservations[i].Load() != sentinel {
			n++
		}
	}
	return n
}
