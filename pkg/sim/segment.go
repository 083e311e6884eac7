// Package sim is an in-memory EtherCAT segment. It implements link.Link
// and processes every frame the way a daisy chain of SubDevices would:
// each device reads and writes its slice on the fly, increments working
// counters, and the segment loops the frame back with the locally
// administered source MAC bit set.
//
// The simulator backs the package tests; it models register memory, the
// SII, the AL state machine, the CoE mailbox and the DC registers closely
// enough to drive the full MainDevice stack through INIT to OP.
package sim

import (
	"errors"
	"sync"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/command"
	"github.com/samsamfire/goethercat/pkg/frame"
)

var ErrClosed = errors.New("segment is closed")

// Segment is a simulated EtherCAT segment.
type Segment struct {
	mu       sync.Mutex
	devices  []*Device
	rx       chan []byte
	dropNext int
	closed   bool
}

func NewSegment(devices ...*Device) *Segment {
	return &Segment{
		devices: devices,
		rx:      make(chan []byte, 64),
	}
}

// DropFrames makes the segment swallow the next n frames, simulating a
// lossy link.
func (s *Segment) DropFrames(n int) {
	s.mu.Lock()
	s.dropNext = n
	s.mu.Unlock()
}

// Send processes one frame through every device and queues the reflected
// result.
func (s *Segment) Send(f []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.dropNext > 0 {
		s.dropNext--
		return nil
	}

	if _, err := frame.CheckEthernetHeader(f); err != nil {
		return nil
	}

	out := make([]byte, len(f))
	copy(out, f)
	// First SubDevice marks the frame as travelled.
	out[6] |= 0x02

	body := out[ethercat.EthernetHeaderLength:]
	dgLen, err := frame.ReadHeader(body)
	if err != nil || dgLen+frame.HeaderLength > len(body) {
		return nil
	}

	s.processDatagrams(body[frame.HeaderLength : frame.HeaderLength+dgLen])

	s.rx <- out
	return nil
}

// processDatagrams walks the PDUs and runs each one through the chain.
func (s *Segment) processDatagrams(buf []byte) {
	for {
		h, err := frame.ReadPduHeader(buf)
		if err != nil {
			return
		}
		total := frame.PduHeaderLength + int(h.Length) + 2
		if len(buf) < total {
			return
		}

		data := buf[frame.PduHeaderLength : frame.PduHeaderLength+int(h.Length)]
		wkc := wire.Uint16At(buf, frame.PduHeaderLength+int(h.Length))

		if h.Command == command.FRMW || h.Command == command.ARMW {
			// Read at the addressed device, write at every device the
			// value passes afterwards.
			seen := false
			for _, d := range s.devices {
				wkc = d.processReadMultipleWrite(h.Command, buf, data, wkc, &seen)
			}
		} else {
			for _, d := range s.devices {
				wkc = d.process(h.Command, buf, data, wkc)
			}
		}

		wire.PutUint16At(buf, frame.PduHeaderLength+int(h.Length), wkc)

		if !h.MoreFollows {
			return
		}
		buf = buf[total:]
	}
}

func (s *Segment) Recv(buf []byte) (int, error) {
	f, ok := <-s.rx
	if !ok {
		return 0, ErrClosed
	}
	return copy(buf, f), nil
}

func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.rx)
	}
	return nil
}

// Devices returns the simulated devices for white box assertions.
func (s *Segment) Devices() []*Device {
	return s.devices
}

// addressMatch decides whether a device addressed PDU targets this device
// and updates the auto increment position in place.
func addressMatch(cmd command.Code, header []byte, d *Device) bool {
	switch cmd {
	case command.APRD, command.APWR, command.APRW, command.ARMW:
		// Position addressing: the device at position zero acts, every
		// device increments the field.
		pos := wire.Uint16At(header, 2)
		wire.PutUint16At(header, 2, pos+1)
		return pos == 0
	case command.FPRD, command.FPWR, command.FPRW, command.FRMW:
		return wire.Uint16At(header, 2) == d.stationAddress()
	case command.BRD, command.BWR, command.BRW:
		return true
	}
	return false
}
