package group

import (
	"github.com/samsamfire/goethercat/pkg/dc"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/subdevice"
	log "github.com/sirupsen/logrus"
)

// Options tune group initialisation.
type Options struct {
	// PdiStartAddress is the logical address of the group's process data
	// window.
	PdiStartAddress uint32
	// MaxPdiLength is the size of the group's PDI buffer.
	MaxPdiLength int
}

// DefaultOptions places the PDI at logical 0x0001_0000 with room for 1KiB
// of process data.
func DefaultOptions() Options {
	return Options{
		PdiStartAddress: 0x0001_0000,
		MaxPdiLength:    1024,
	}
}

// Initialize discovers the segment and brings every SubDevice into PRE-OP:
// count devices, reset them, assign station addresses, read their identity
// and mailbox layout from the SII, program mailbox sync managers and
// configure Distributed Clocks including static drift compensation.
//
// The returned PreOp group is the entry point for SDO configuration hooks
// and PDI mapping.
func Initialize(m *maindevice.MainDevice, opts Options) (*PreOp, error) {
	count, err := m.CountSubDevices()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNoDevices
	}
	log.Infof("[GROUP] found %d SubDevices", count)

	if err := m.ResetSubDevices(); err != nil {
		return nil, err
	}
	if err := m.AssignStationAddresses(count); err != nil {
		return nil, err
	}

	devices := make([]*subdevice.SubDevice, 0, count)
	for i := 0; i < count; i++ {
		sd, err := subdevice.New(m, i, maindevice.BaseStationAddress+uint16(i))
		if err != nil {
			return nil, err
		}
		devices = append(devices, sd)
	}

	for _, sd := range devices {
		if err := sd.ConfigureMailboxes(); err != nil {
			return nil, err
		}
	}

	g := &inner{
		m:        m,
		devices:  devices,
		pdi:      make([]byte, opts.MaxPdiLength),
		pdiStart: opts.PdiStartAddress,
	}

	ref, err := dc.Configure(m, devices)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		g.dcReference = ref.ConfiguredAddress
		if iterations := m.Config().DcStaticSyncIterations; iterations > 0 {
			if err := dc.StaticSync(m, ref.ConfiguredAddress, iterations); err != nil {
				return nil, err
			}
		}
	}

	return &PreOp{g}, nil
}

// ConfigurePdi maps every device's process data into the group's logical
// window, inputs first then outputs, each device byte aligned. The two
// contiguous runs allow the whole image to be exchanged with LRW.
func (g *PreOp) ConfigurePdi() (*PreOpPdi, error) {
	offset := g.pdiStart

	for _, sd := range g.devices {
		if err := sd.ConfigureIo(subdevice.PdoInput, &offset); err != nil {
			return nil, err
		}
	}
	g.inputLen = int(offset - g.pdiStart)

	for _, sd := range g.devices {
		if err := sd.ConfigureIo(subdevice.PdoOutput, &offset); err != nil {
			return nil, err
		}
	}
	g.outputLen = int(offset-g.pdiStart) - g.inputLen

	if g.inputLen+g.outputLen > len(g.pdi) {
		return nil, ErrPdiTooBig
	}

	log.Infof("[GROUP] PDI mapped at x%08x : %d input bytes, %d output bytes", g.pdiStart, g.inputLen, g.outputLen)
	return &PreOpPdi{g.inner}, nil
}
