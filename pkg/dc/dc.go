// Package dc implements Distributed Clocks: propagation delay measurement
// across the discovered topology, static drift compensation, system time
// offset programming and SYNC0/SYNC1 pulse configuration.
package dc

import (
	"errors"
	"time"

	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/pdu"
	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/samsamfire/goethercat/pkg/subdevice"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoReference = errors.New("no DC capable SubDevice on segment")
	ErrTopology    = errors.New("cannot resolve topology")
)

// LatchReceiveTimes broadcasts a write to the port 0 receive time register,
// which makes every SubDevice latch the arrival time of that frame at each
// of its ports simultaneously, then reads the latched times back.
func LatchReceiveTimes(m *maindevice.MainDevice, devices []*subdevice.SubDevice) error {
	wkc, err := m.BwrBytes(register.DcTimePort0, make([]byte, 4))
	if err != nil {
		return err
	}
	if err := pdu.CheckWorkingCounter(wkc, uint16(len(devices)), "latch DC receive times"); err != nil {
		return err
	}

	for _, sd := range devices {
		if !sd.Flags.DcSupported {
			continue
		}

		receiveTime, err := m.FprdU64(sd.ConfiguredAddress, register.DcReceiveTime, "read DC receive time")
		if err != nil {
			return err
		}
		sd.DcReceiveTime = int64(receiveTime)

		raw, err := m.FprdBytes(sd.ConfiguredAddress, register.DcTimePort0, 16, "read port receive times")
		if err != nil {
			return err
		}
		sd.Ports.SetReceiveTimes(
			wire.Uint32At(raw, 0),
			wire.Uint32At(raw, 4),
			wire.Uint32At(raw, 8),
			wire.Uint32At(raw, 12),
		)
	}
	return nil
}

// findParent locates a device's parent among the devices before it in
// discovery order. The direct predecessor is the parent unless it closed
// its branch (line end), in which case the parent is the nearest junction
// walking backwards.
func findParent(parents []*subdevice.SubDevice, sd *subdevice.SubDevice) (int, error) {
	if len(parents) == 0 {
		return -1, nil
	}

	previous := parents[len(parents)-1]
	if previous.Ports.Topology() != subdevice.TopologyLineEnd {
		return previous.Index, nil
	}

	for i := len(parents) - 2; i >= 0; i-- {
		if parents[i].Ports.Topology().IsJunction() {
			return parents[i].Index, nil
		}
	}
	return -1, ErrTopology
}

// AssignParentRelationships links every device to its parent, assigns the
// parent's downstream ports and computes propagation delays.
//
// The delay of the first device is half its entry receive time, measured
// from the latch broadcast. A child hanging off a junction gets half the
// entry time difference to the junction; a child behind a passthrough
// device accumulates half the difference of the loop times, which accounts
// for forked siblings by construction since their subtree time is part of
// the parent's loop.
func AssignParentRelationships(devices []*subdevice.SubDevice) error {
	for i, sd := range devices {
		parentIndex, err := findParent(devices[:i], sd)
		if err != nil {
			return err
		}
		sd.ParentIndex = parentIndex

		if parentIndex >= 0 {
			parent := devices[parentIndex]
			if _, ok := parent.Ports.AssignNextDownstreamPort(sd.Index); !ok {
				return ErrTopology
			}
		}

		if !sd.Flags.DcSupported {
			log.Debugf("[DC][x%x] no DC support, skipping delay computation", sd.ConfiguredAddress)
			continue
		}

		entry := sd.Ports.EntryPort().DcReceiveTime

		switch {
		case parentIndex < 0:
			sd.PropagationDelay = entry / 2

		default:
			parent := devices[parentIndex]
			if parent.Ports.Topology().IsJunction() {
				sd.PropagationDelay = (entry - parent.Ports.EntryPort().DcReceiveTime) / 2
			} else {
				parentLoop := parent.Ports.TotalPropagationTime()
				thisLoop := sd.Ports.TotalPropagationTime()
				sd.PropagationDelay = parent.PropagationDelay + (parentLoop-thisLoop)/2
			}
		}

		log.Debugf("[DC][x%x] topology %v, propagation delay %d ns", sd.ConfiguredAddress, sd.Ports.Topology(), sd.PropagationDelay)
	}
	return nil
}

// WriteDeviceTimes programs each DC device's system time offset and
// transmission delay. The offset brings the device's free running clock
// onto the MainDevice epoch: offset = now - receive time.
func WriteDeviceTimes(m *maindevice.MainDevice, devices []*subdevice.SubDevice, nowNanos int64) error {
	for _, sd := range devices {
		if !sd.Flags.DcSupported {
			continue
		}

		offset := uint64(nowNanos - sd.DcReceiveTime)
		if err := m.FpwrU64(sd.ConfiguredAddress, register.DcSystemTimeOffset, offset, "write system time offset"); err != nil {
			return err
		}
		if err := m.FpwrU32(sd.ConfiguredAddress, register.DcSystemTimeTransmissionDelay, sd.PropagationDelay, "write transmission delay"); err != nil {
			return err
		}
	}
	return nil
}

// FindReference returns the first DC capable device, the segment's
// reference clock.
func FindReference(devices []*subdevice.SubDevice) (*subdevice.SubDevice, error) {
	for _, sd := range devices {
		if sd.Flags.DcSupported {
			return sd, nil
		}
	}
	return nil, ErrNoReference
}

// Configure runs the full DC setup: latch and read receive times, build
// the topology, compute delays, program offsets and select the reference.
// It returns nil, nil when no device supports DC.
func Configure(m *maindevice.MainDevice, devices []*subdevice.SubDevice) (*subdevice.SubDevice, error) {
	ref, err := FindReference(devices)
	if err == ErrNoReference {
		return nil, nil
	}

	if err := LatchReceiveTimes(m, devices); err != nil {
		return nil, err
	}
	if err := AssignParentRelationships(devices); err != nil {
		return nil, err
	}
	if err := WriteDeviceTimes(m, devices, 0); err != nil {
		return nil, err
	}

	m.SetDcReference(ref.ConfiguredAddress)
	log.Infof("[DC] reference clock is x%x %q", ref.ConfiguredAddress, ref.Name)
	return ref, nil
}

// StaticSync distributes the reference clock through the segment by
// issuing the FRMW repeatedly until device clocks settle. Iteration count
// comes from the configuration, 10000 by default.
func StaticSync(m *maindevice.MainDevice, reference uint16, iterations uint32) error {
	log.Debugf("[DC] static drift compensation, %d iterations against x%x", iterations, reference)
	for i := uint32(0); i < iterations; i++ {
		if _, _, err := m.FrmwU64(reference, register.DcSystemTime); err != nil {
			return err
		}
	}
	log.Debugf("[DC] static drift compensation complete")
	return nil
}

// SyncConfig parameterises SYNC0/SYNC1 generation for a group.
type SyncConfig struct {
	// StartDelay is how far in the future the first pulse is scheduled,
	// typically around 100ms so every device is programmed before it.
	StartDelay time.Duration
	// Sync0Period is the SYNC0 cycle time.
	Sync0Period time.Duration
	// Sync0Shift offsets the MainDevice cycle against the SYNC0 pulse.
	Sync0Shift time.Duration
}

// ConfigureSync0 activates cyclic SYNC generation on one device. The start
// time is read from the device's own system time and rounded down to a
// whole number of SYNC0 periods so every device pulses on the same
// boundary.
func ConfigureSync0(m *maindevice.MainDevice, sd *subdevice.SubDevice, cfg SyncConfig) error {
	deviceTime, err := m.FprdU64(sd.ConfiguredAddress, register.DcSystemTime, "read device system time")
	if err != nil {
		return err
	}

	period := uint64(cfg.Sync0Period.Nanoseconds())
	startTime := (deviceTime + uint64(cfg.StartDelay.Nanoseconds())) / period * period

	if err := m.FpwrU64(sd.ConfiguredAddress, register.DcSyncStartTime, startTime, "write sync start time"); err != nil {
		return err
	}
	if err := m.FpwrU32(sd.ConfiguredAddress, register.DcSync0CycleTime, uint32(period), "write SYNC0 period"); err != nil {
		return err
	}

	flags := register.DcSync0Activate | register.DcCyclicOpEnable
	if sd.DcSync.Sync1Period > 0 {
		if err := m.FpwrU32(sd.ConfiguredAddress, register.DcSync1CycleTime, uint32(sd.DcSync.Sync1Period.Nanoseconds()), "write SYNC1 period"); err != nil {
			return err
		}
		flags |= register.DcSync1Activate
	}

	if err := m.FpwrU8(sd.ConfiguredAddress, register.DcSyncActive, flags, "activate SYNC"); err != nil {
		return err
	}

	log.Debugf("[DC][x%x] SYNC0 start %d, period %v", sd.ConfiguredAddress, startTime, cfg.Sync0Period)
	return nil
}

// NextCycleWait computes how long to sleep after reading the reference
// time so the next cycle lands on the period boundary plus shift:
// t_next = t - (t mod p) + p + shift.
func NextCycleWait(referenceTime uint64, period, shift time.Duration) time.Duration {
	p := uint64(period.Nanoseconds())
	if p == 0 {
		return 0
	}
	intoCycle := referenceTime % p
	return time.Duration(p-intoCycle) + shift
}
