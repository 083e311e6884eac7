// Package subdevice models one node of the EtherCAT segment: its identity,
// ports, mailbox, process data ranges and AL state, plus the PRE-OP
// configuration flow that takes a freshly discovered device to the point
// where its process data can be mapped.
package subdevice

import (
	"fmt"
	"time"

	"github.com/samsamfire/goethercat/pkg/coe"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/samsamfire/goethercat/pkg/sii"
	log "github.com/sirupsen/logrus"
)

// DcSyncMode selects the SYNC pulse generation of a device. Set by the
// application hook before the group enters SAFE-OP.
type DcSyncMode struct {
	Sync0 bool
	// Sync1Period enables SYNC1 generation when nonzero.
	Sync1Period time.Duration
}

// PdiRange is a byte window inside the group's process data image.
type PdiRange struct {
	Start  int
	Length int
}

func (r PdiRange) Empty() bool {
	return r.Length == 0
}

func (r PdiRange) End() int {
	return r.Start + r.Length
}

// SubDevice is one discovered device. It is created during group
// initialisation and lives for the lifetime of the group.
type SubDevice struct {
	// Index is the position of the device on the wire.
	Index int
	// ConfiguredAddress is the station address assigned at discovery.
	ConfiguredAddress uint16
	// AliasAddress is the EEPROM configured alias, readable metadata
	// only; it takes no part in addressing.
	AliasAddress uint16

	Identity sii.Identity
	// Name is the device name from the SII strings category, at most 40
	// visible bytes.
	Name string

	Flags register.SupportFlags
	Ports Ports

	// DcReceiveTime is the device's local receive time latched at the
	// delay measurement broadcast.
	DcReceiveTime int64
	// PropagationDelay is the computed wire delay from the MainDevice in
	// nanoseconds.
	PropagationDelay uint32
	// ParentIndex is the index of the upstream device, -1 for the first
	// device on the segment.
	ParentIndex int

	MailboxConfig sii.MailboxConfig

	// Coe is the device's SDO client, nil when the device has no CoE
	// mailbox.
	Coe *coe.Client

	// Input and Output are the device's windows in the group PDI.
	Input  PdiRange
	Output PdiRange

	// State is the last AL state read back from the device.
	State register.DeviceState

	// DcSync is the requested SYNC configuration for this device.
	DcSync DcSyncMode

	m *maindevice.MainDevice
}

// New discovers the device at the given wire position, which must already
// have its configured station address assigned.
func New(m *maindevice.MainDevice, index int, configuredAddress uint16) (*SubDevice, error) {
	sd := &SubDevice{
		Index:             index,
		ConfiguredAddress: configuredAddress,
		ParentIndex:       -1,
		m:                 m,
	}

	flags, err := m.FprdU16(configuredAddress, register.SupportFlagsReg, "read support flags")
	if err != nil {
		return nil, err
	}
	sd.Flags = register.DecodeSupportFlags(flags)

	dl, err := m.FprdU16(configuredAddress, register.DlStatusReg, "read DL status")
	if err != nil {
		return nil, err
	}
	status := register.DecodeDlStatus(dl)
	sd.Ports = NewPorts(status.PortOpen(0), status.PortOpen(3), status.PortOpen(1), status.PortOpen(2))

	return sd, nil
}

// Eeprom returns the device's SII access point.
func (sd *SubDevice) Eeprom() *sii.Eeprom {
	return sii.NewEeprom(sd.m, sd.ConfiguredAddress)
}

func (sd *SubDevice) String() string {
	return fmt.Sprintf("x%x %q", sd.ConfiguredAddress, sd.Name)
}

// RequestState writes the AL control word without waiting for the device
// to reach the state.
func (sd *SubDevice) RequestState(state register.DeviceState) error {
	control := register.AlControl{State: state}
	return sd.m.FpwrU16(sd.ConfiguredAddress, register.AlControlReg, control.Encode(), "request AL state")
}

// Status reads the AL status word and, when the error flag is set, the
// latched AL status code.
func (sd *SubDevice) Status() (register.AlStatus, register.AlStatusCode, error) {
	word, err := sd.m.FprdU16(sd.ConfiguredAddress, register.AlStatusReg, "read AL status")
	if err != nil {
		return register.AlStatus{}, 0, err
	}
	status := register.DecodeAlStatus(word)
	sd.State = status.State

	var code register.AlStatusCode
	if status.Error {
		raw, err := sd.m.FprdU16(sd.ConfiguredAddress, register.AlStatusCodeReg, "read AL status code")
		if err != nil {
			return status, 0, err
		}
		code = register.AlStatusCode(raw)
	}
	return status, code, nil
}

// WaitForState polls the AL status until the device reaches the requested
// state, a latched error code surfaces, or the state transition timeout
// expires.
func (sd *SubDevice) WaitForState(state register.DeviceState) error {
	deadline := time.Now().Add(sd.m.Timeouts().StateTransition)
	for {
		status, code, err := sd.Status()
		if err != nil {
			return err
		}
		if status.State == state {
			return nil
		}
		if status.Error && code != register.NoError {
			return &register.AlStatusCodeError{Address: sd.ConfiguredAddress, Code: code}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("SubDevice %v : timeout waiting for %v, stuck in %v", sd, state, status.State)
		}
		if d := sd.m.Timeouts().WaitLoopDelay; d > 0 {
			time.Sleep(d)
		}
	}
}

// TransitionTo requests a state and waits for the device to reach it.
func (sd *SubDevice) TransitionTo(state register.DeviceState) error {
	if err := sd.RequestState(state); err != nil {
		return err
	}
	if err := sd.WaitForState(state); err != nil {
		return err
	}
	log.Debugf("[SUBDEVICE][x%x] reached %v", sd.ConfiguredAddress, state)
	return nil
}
