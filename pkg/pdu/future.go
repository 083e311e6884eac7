package pdu

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryForever can be passed as the retry count to resubmit a timed out
// frame indefinitely.
const RetryForever = int(^uint(0) >> 1)

// Future resolves when the frame marked sendable has completed its round
// trip. A frame has exactly one future and one waker; every PDU in the
// frame becomes available at the same moment.
type Future struct {
	loop      *Loop
	slot      *frameElement
	slotIndex uint16
	timeout   time.Duration
	retries   int
}

// Wait blocks until the response arrives, resubmitting the same frame (same
// slot, same PDU indices) after each timeout up to the configured retry
// count. On success it returns the received frame, which the caller must
// Close. On timeout exhaustion the slot and its indices are released before
// ErrTimeout is returned, so no reservation outlives the call.
func (f *Future) Wait() (*ReceivedFrame, error) {
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	for attempt := 0; ; {
		select {
		case <-f.slot.done:
			if f.slot.state.CompareAndSwap(stateRxDone, stateRxProcessing) {
				return &ReceivedFrame{loop: f.loop, slot: f.slot, slotIndex: f.slotIndex}, nil
			}
			// The waker fired but the slot is not in RxDone: the state
			// machine was violated, give the slot back and fail.
			log.Errorf("[PDU] frame slot %d woke in unexpected state %d", f.slotIndex, f.slot.state.Load())
			f.loop.release(f.slot, f.slotIndex)
			return nil, ErrInvalidFrame

		case <-timer.C:
			if attempt >= f.retries {
				f.loop.release(f.slot, f.slotIndex)
				return nil, ErrTimeout
			}
			attempt++

			// Resubmit the very same frame. Only a slot that was actually
			// sent can be requeued; if the response raced in between the
			// timer firing and this point the next loop iteration will
			// observe the closed waker.
			if f.slot.state.CompareAndSwap(stateSent, stateSendable) {
				log.Debugf("[PDU] timeout, resubmitting frame slot %d (attempt %d/%d)", f.slotIndex, attempt, f.retries)
				f.loop.notifyTx()
			}
			timer.Reset(f.timeout)
		}
	}
}

// Cancel abandons the round trip. Any in flight response that still matches
// is discarded by the release path; no PDU index stays reserved.
func (f *Future) Cancel() {
	f.loop.release(f.slot, f.slotIndex)
}
