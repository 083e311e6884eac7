package pdu

import (
	"errors"
	"io"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/frame"
	"github.com/samsamfire/goethercat/pkg/link"
	log "github.com/sirupsen/logrus"
)

// RunTx is the single TX worker: it blocks on the sendable notification and
// drains every sendable slot onto the link. Call it in its own goroutine;
// it returns when stop is closed.
func (l *Loop) RunTx(lnk link.Link, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-l.txNotify:
		}
		l.sendSendable(lnk)
	}
}

func (l *Loop) sendSendable(lnk link.Link) {
	for i := range l.frames {
		slot := &l.frames[i]
		if !slot.state.CompareAndSwap(stateSendable, stateSending) {
			continue
		}

		if err := lnk.Send(slot.buf[:frame.PadLength(slot.cursor)]); err != nil {
			// The frame is lost; the owner's timeout and retry policy
			// recovers.
			log.Errorf("[PDU] link send failed on slot %d : %v", i, err)
		}

		// A cancelling owner waits in release while the slot is in
		// Sending, so the slot cannot be reclaimed before this transition.
		slot.state.CompareAndSwap(stateSending, stateSent)
	}
}

// RunRx is the single RX worker: it receives frames from the link, matches
// them back to their slot and wakes the waiting future. It returns when a
// receive fails after stop is closed or when the link reports io.EOF; other
// receive errors are logged and receiving continues.
func (l *Loop) RunRx(lnk link.Link, stop <-chan struct{}) {
	buf := make([]byte, ethercat.MaxFrameLength)

	for {
		n, err := lnk.Recv(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				return
			}
			log.Errorf("[PDU] link receive failed : %v", err)
			continue
		}
		l.ProcessReceived(buf[:n])
	}
}

// ProcessReceived handles one inbound Ethernet frame. Frames that are not
// reflected EtherCAT traffic are dropped silently; frames whose EtherCAT or
// PDU header does not parse or that do not match a reserved PDU index are
// logged at debug level and dropped. The owning slot (if any) stays in Sent
// and recovers through its timeout.
func (l *Loop) ProcessReceived(pkt []byte) {
	src, err := frame.CheckEthernetHeader(pkt)
	if err != nil {
		return
	}
	// Our own transmission picked up by the interface; only frames with
	// the locally administered bit set have been through the segment.
	if !ethercat.IsReflected(src) {
		return
	}

	body := pkt[ethercat.EthernetHeaderLength:]
	dgLen, err := frame.ReadHeader(body)
	if err != nil {
		log.Debugf("[PDU] dropping frame with bad EtherCAT header : %v", err)
		return
	}
	if dgLen+frame.HeaderLength > len(body) {
		log.Debugf("[PDU] dropping truncated frame : %d byte datagrams in %d byte frame", dgLen, len(body))
		return
	}

	first, err := frame.ReadPduHeader(body[frame.HeaderLength:])
	if err != nil {
		log.Debugf("[PDU] dropping frame with bad PDU header : %v", err)
		return
	}

	slotIndex, ok := l.reservedSlot(first.Index)
	if !ok || int(slotIndex) >= len(l.frames) {
		log.Debugf("[PDU] dropping frame with unreserved index %d", first.Index)
		return
	}

	slot := &l.frames[slotIndex]
	if !slot.state.CompareAndSwap(stateSent, stateRxBusy) {
		// Duplicate response or a slot that already timed out and was
		// reclaimed. Either way this frame has no owner any more.
		log.Debugf("[PDU] dropping response for slot %d in state %d", slotIndex, slot.state.Load())
		return
	}

	// The reservation table may have been cleared and re-populated between
	// the lookup and the claim; the slot's own index list is authoritative.
	if slot.firstPduIndex != first.Index {
		slot.state.CompareAndSwap(stateRxBusy, stateSent)
		log.Debugf("[PDU] index %d does not open frame owned by slot %d", first.Index, slotIndex)
		return
	}

	n := copy(slot.buf, pkt)
	slot.rxLen = n

	slot.state.Store(stateRxDone)
	close(slot.done)
}
