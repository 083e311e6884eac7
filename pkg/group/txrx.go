package group

import (
	"time"

	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/command"
	"github.com/samsamfire/goethercat/pkg/dc"
	"github.com/samsamfire/goethercat/pkg/pdu"
	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/samsamfire/goethercat/pkg/subdevice"
	log "github.com/sirupsen/logrus"
)

// CycleData is the result of one DC synchronised process data cycle.
type CycleData struct {
	// WorkingCounter is the sum over all PDI chunks.
	WorkingCounter uint16
	// Time is the reference clock's system time read in this cycle, zero
	// when the group has no DC reference.
	Time uint64
	// NextCycleWait is how long the caller should sleep before the next
	// cycle so it lands on the SYNC0 boundary plus shift.
	NextCycleWait time.Duration
}

// pendingFrame tracks one in flight PDI frame until its response arrives.
type pendingFrame struct {
	future    *pdu.Future
	dcHandle  *pdu.Handle
	pduHandle pdu.Handle
	// chunkStart/chunkLen locate this chunk inside the PDI window.
	chunkStart int
	chunkLen   int
}

// pdiCommand picks the logical service for the group's layout: LRW when
// the image carries both directions, LRD or LWR when only one is mapped.
func (g *inner) pdiCommand(address uint32) command.Command {
	switch {
	case g.inputLen == 0 && g.outputLen > 0:
		return command.Lwr(address)
	case g.outputLen == 0 && g.inputLen > 0:
		return command.Lrd(address)
	default:
		return command.Lrw(address)
	}
}

// exchange runs one full PDI cycle: split the image into PDU sized chunks,
// send every chunk (prefixing the DC FRMW into the first frame when asked),
// then collect all responses and fold inputs back into the image.
func (g *inner) exchange(withDc bool) (uint16, uint64, error) {
	total := g.inputLen + g.outputLen
	timeouts := g.m.Timeouts()
	retries := g.m.Config().RetryBehaviour.Retries()

	var pending []pendingFrame
	var wkcTotal uint16
	var refTime uint64
	sent := 0
	needDc := withDc && g.dcReference != 0

	for sent < total || needDc {
		frame, err := g.m.Loop().AllocFrame()
		if err == pdu.ErrCreateFrame && len(pending) > 0 {
			// Pool exhausted: drain what is in flight, then keep going.
			wkc, t, drainErr := g.drain(pending)
			wkcTotal += wkc
			if t != 0 {
				refTime = t
			}
			if drainErr != nil {
				return wkcTotal, refTime, drainErr
			}
			pending = pending[:0]
			continue
		}
		if err != nil {
			g.drain(pending)
			return wkcTotal, refTime, err
		}

		p := pendingFrame{}

		// On a push failure the frames already in flight must still be
		// collected, their slots would leak otherwise.
		fail := func(err error) (uint16, uint64, error) {
			frame.Drop()
			g.drain(pending)
			return wkcTotal, refTime, err
		}

		if needDc {
			h, err := frame.PushPdu(command.Frmw(g.dcReference, register.DcSystemTime), nil, 8)
			if err != nil {
				return fail(err)
			}
			p.dcHandle = &h
			needDc = false
		}

		if chunk := total - sent; chunk > 0 && frame.FreePayload() > 0 {
			if free := frame.FreePayload(); chunk > free {
				chunk = free
			}

			address := g.pdiStart + uint32(sent)
			h, err := frame.PushPdu(g.pdiCommand(address), g.pdi[sent:sent+chunk], 0)
			if err != nil {
				return fail(err)
			}
			p.pduHandle = h
			p.chunkStart = sent
			p.chunkLen = chunk
			sent += chunk
		}

		p.future = frame.MarkSendable(timeouts.Pdu, retries)
		pending = append(pending, p)
	}

	wkc, t, err := g.drain(pending)
	wkcTotal += wkc
	if t != 0 {
		refTime = t
	}
	return wkcTotal, refTime, err
}

// drain awaits the given frames and processes their responses.
func (g *inner) drain(pending []pendingFrame) (uint16, uint64, error) {
	var wkcSum uint16
	var refTime uint64
	var firstErr error

	for _, p := range pending {
		received, err := p.future.Wait()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if p.dcHandle != nil {
			data, _, err := received.Pdu(*p.dcHandle)
			if err == nil && len(data) >= 8 {
				refTime = wire.Uint64At(data, 0)
			}
		}

		if p.chunkLen > 0 {
			data, wkc, err := received.Pdu(p.pduHandle)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				received.Close()
				continue
			}
			wkcSum += wkc

			// Fold the input part of the chunk back into the image. The
			// image is inputs first, so only the leading inputLen bytes
			// carry data written by the devices.
			if p.chunkStart < g.inputLen {
				n := g.inputLen - p.chunkStart
				if n > p.chunkLen {
					n = p.chunkLen
				}
				copy(g.pdi[p.chunkStart:p.chunkStart+n], data[:n])
			}
		}

		received.Close()
	}

	return wkcSum, refTime, firstErr
}

// TxRx drives one process data exchange.
func (g *Op) TxRx() (uint16, error) {
	wkc, _, err := g.exchange(false)
	return wkc, err
}

// TxRxDc drives one process data exchange with the DC reference clock
// FRMW prefixed into the first frame, and returns cycle timing.
func (g *Op) TxRxDc() (CycleData, error) {
	wkc, refTime, err := g.exchange(true)
	if err != nil {
		return CycleData{}, err
	}
	data := CycleData{WorkingCounter: wkc, Time: refTime}
	if g.hasDc {
		data.NextCycleWait = dc.NextCycleWait(refTime, g.sync.Sync0Period, g.sync.Sync0Shift)
	}
	return data, nil
}

// TxRx on a SAFE-OP group keeps inputs flowing while outputs stay safe.
// After RequestIntoOp the returned Op group's TxRx carries the cyclic
// traffic.
func (g *SafeOp) TxRx() (uint16, error) {
	wkc, _, err := g.exchange(false)
	return wkc, err
}

// TxRx on a freshly mapped group lets applications prime outputs before
// SAFE-OP.
func (g *PreOpPdi) TxRx() (uint16, error) {
	wkc, _, err := g.exchange(false)
	return wkc, err
}

// io returns the input and output windows of one device inside the image.
func (g *inner) io(index int) ([]byte, []byte, error) {
	sd, err := g.Device(index)
	if err != nil {
		return nil, nil, err
	}
	inputs := g.window(sd.Input)
	outputs := g.window(sd.Output)
	return inputs, outputs, nil
}

func (g *inner) window(r subdevice.PdiRange) []byte {
	if r.Empty() {
		return nil
	}
	start := r.Start - int(g.pdiStart)
	if start < 0 || start+r.Length > len(g.pdi) {
		log.Errorf("[GROUP] PDI window out of range : start %d len %d", start, r.Length)
		return nil
	}
	return g.pdi[start : start+r.Length]
}

// Io returns the live input and output slices of one device. Inputs are
// refreshed by every TxRx, outputs are sent on the next TxRx.
func (g *Op) Io(index int) (inputs []byte, outputs []byte, err error) {
	return g.io(index)
}

// Io on a SAFE-OP group: inputs are live, outputs are ignored by the
// devices until OP.
func (g *SafeOp) Io(index int) (inputs []byte, outputs []byte, err error) {
	return g.io(index)
}
