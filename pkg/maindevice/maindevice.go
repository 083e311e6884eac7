// Package maindevice implements the MainDevice handle: it owns the PDU
// loop, the link workers and the configuration, and offers the typed
// command layer every higher layer (SII, CoE, DC, groups) is built on.
package maindevice

import (
	"sync"
	"sync/atomic"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/pdu"
	log "github.com/sirupsen/logrus"
)

// BaseStationAddress is the configured station address handed to the first
// discovered SubDevice; device n gets BaseStationAddress + n. The value is
// an arbitrary convention, addresses are opaque to the network.
const BaseStationAddress uint16 = 0x1000

// MainDevice is the EtherCAT master handle. One MainDevice drives one
// segment; it may be shared read only between groups.
type MainDevice struct {
	loop *pdu.Loop
	cfg  config.Config

	lnk  link.Link
	stop chan struct{}
	wg   sync.WaitGroup

	// dcReference holds the configured address of the DC reference
	// SubDevice, zero while DC is unconfigured.
	dcReference atomic.Uint32

	subDeviceCount atomic.Uint32
}

// New creates a MainDevice with a frame pool of numFrames slots carrying up
// to maxPduData payload bytes each.
func New(cfg config.Config, numFrames, maxPduData int) (*MainDevice, error) {
	loop, err := pdu.NewLoop(numFrames, maxPduData)
	if err != nil {
		return nil, err
	}
	return &MainDevice{
		loop: loop,
		cfg:  cfg,
		stop: make(chan struct{}),
	}, nil
}

// Connect attaches the MainDevice to a link and starts the TX and RX
// workers. It must be called before any command is issued.
func (m *MainDevice) Connect(lnk link.Link) {
	m.lnk = lnk
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.loop.RunTx(lnk, m.stop)
	}()
	go func() {
		defer m.wg.Done()
		m.loop.RunRx(lnk, m.stop)
	}()
	log.Infof("[MAINDEVICE] connected, %d byte PDU capacity", m.loop.MaxPduData())
}

// Disconnect stops the workers and closes the link.
func (m *MainDevice) Disconnect() {
	close(m.stop)
	if m.lnk != nil {
		m.lnk.Close()
	}
	m.wg.Wait()
}

// Loop exposes the PDU loop for layers that build multi PDU frames
// themselves (the PDI manager).
func (m *MainDevice) Loop() *pdu.Loop {
	return m.loop
}

func (m *MainDevice) Config() config.Config {
	return m.cfg
}

func (m *MainDevice) Timeouts() config.Timeouts {
	return m.cfg.Timeouts
}

// SetDcReference records the configured address of the DC reference
// SubDevice, the target of the cyclic FRMW.
func (m *MainDevice) SetDcReference(address uint16) {
	m.dcReference.Store(uint32(address))
}

// DcReference returns the DC reference address, or false when no DC capable
// SubDevice was found.
func (m *MainDevice) DcReference() (uint16, bool) {
	v := m.dcReference.Load()
	return uint16(v), v != 0
}

// SetSubDeviceCount records the number of devices found during discovery.
func (m *MainDevice) SetSubDeviceCount(n int) {
	m.subDeviceCount.Store(uint32(n))
}

// SubDeviceCount returns the number of devices found during discovery.
func (m *MainDevice) SubDeviceCount() int {
	return int(m.subDeviceCount.Load())
}
