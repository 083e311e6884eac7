// Package group manages a set of SubDevices through their shared lifecycle
// and drives their cyclic process data exchange.
//
// Each lifecycle stage is a distinct type: transitions return the next
// stage's type and consume the previous one, so an illegal transition such
// as driving process data from INIT is not expressible. The stages are
//
//	Init -> PreOp -> PreOpPdi -> SafeOp <-> Op
//
// with teardown running back through PreOp to Init.
package group

import (
	"errors"
	"fmt"
	"time"

	"github.com/samsamfire/goethercat/pkg/dc"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/pdu"
	"github.com/samsamfire/goethercat/pkg/register"
	"github.com/samsamfire/goethercat/pkg/subdevice"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoDevices = errors.New("no SubDevices on segment")
	ErrPdiTooBig = errors.New("process data image exceeds group buffer")
)

// inner is the state shared by every lifecycle stage. Exactly one stage
// value owns it at any time.
type inner struct {
	m       *maindevice.MainDevice
	devices []*subdevice.SubDevice

	// pdi is the process data image, inputs first then outputs.
	pdi       []byte
	pdiStart  uint32
	inputLen  int
	outputLen int

	// dcReference is the configured address of the reference clock, zero
	// when the group runs without DC.
	dcReference uint16
	sync        dc.SyncConfig
	hasDc       bool
}

// Init is a group that has been shut down or not yet brought up.
type Init struct{ *inner }

// PreOp is a group whose devices are configured up to their mailboxes and
// sit in PRE-OP, ready for SDO traffic and PDI mapping.
type PreOp struct{ *inner }

// PreOpPdi is a PreOp group whose process data image has been mapped.
type PreOpPdi struct{ *inner }

// SafeOp is a group whose devices drive inputs but hold outputs safe.
type SafeOp struct{ *inner }

// Op is a fully operational group exchanging process data cyclically.
type Op struct{ *inner }

// Devices returns the group's SubDevices in wire order.
func (g *inner) Devices() []*subdevice.SubDevice {
	return g.devices
}

// Device returns one SubDevice by wire position.
func (g *inner) Device(index int) (*subdevice.SubDevice, error) {
	if index < 0 || index >= len(g.devices) {
		return nil, fmt.Errorf("no SubDevice at index %d", index)
	}
	return g.devices[index], nil
}

// requestStateAll writes the AL control word of every device without
// waiting.
func (g *inner) requestStateAll(state register.DeviceState) error {
	control := register.AlControl{State: state}
	wkc, err := g.m.BwrU16(register.AlControlReg, control.Encode())
	if err != nil {
		return err
	}
	return pdu.CheckWorkingCounter(wkc, uint16(len(g.devices)), "broadcast AL control")
}

// waitForStateAll polls every device until it reports the requested state.
// A latched AL status code aborts the wait with a typed error.
func (g *inner) waitForStateAll(state register.DeviceState) error {
	deadline := time.Now().Add(g.m.Timeouts().StateTransition)
	for {
		done := true
		for _, sd := range g.devices {
			status, code, err := sd.Status()
			if err != nil {
				return err
			}
			if status.Error && code != register.NoError {
				return &register.AlStatusCodeError{Address: sd.ConfiguredAddress, Code: code}
			}
			if status.State != state {
				done = false
			}
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for group state %v", state)
		}
		if d := g.m.Timeouts().WaitLoopDelay; d > 0 {
			time.Sleep(d)
		}
	}
}

// transitionTo requests and awaits a state on every device. On failure the
// group is rolled back to PRE-OP so the caller keeps a usable group.
func (g *inner) transitionTo(state register.DeviceState) error {
	if err := g.requestStateAll(state); err != nil {
		return err
	}
	if err := g.waitForStateAll(state); err != nil {
		if state != register.StateInit {
			log.Errorf("[GROUP] transition to %v failed (%v), rolling back to PRE-OP", state, err)
			if rbErr := g.requestStateAll(register.StatePreOp); rbErr != nil {
				log.Errorf("[GROUP] rollback request failed : %v", rbErr)
			}
		}
		return err
	}
	log.Infof("[GROUP] %d SubDevices reached %v", len(g.devices), state)
	return nil
}

// ConfigureDcSync activates SYNC0 (and optionally SYNC1) generation on
// every device that requested a DC mode through its DcSync field, and
// arms TxRxDc cycle pacing with the given configuration.
func (g *PreOpPdi) ConfigureDcSync(cfg dc.SyncConfig) error {
	if g.dcReference == 0 {
		return dc.ErrNoReference
	}
	for _, sd := range g.devices {
		if !sd.DcSync.Sync0 {
			continue
		}
		if err := dc.ConfigureSync0(g.m, sd, cfg); err != nil {
			return err
		}
	}
	g.sync = cfg
	g.hasDc = true
	return nil
}

// IntoSafeOp transitions the group from PRE-OP (with PDI) to SAFE-OP.
func (g *PreOpPdi) IntoSafeOp() (*SafeOp, error) {
	if err := g.transitionTo(register.StateSafeOp); err != nil {
		return nil, err
	}
	return &SafeOp{g.inner}, nil
}

// IntoOp transitions the group to SAFE-OP and then OP.
func (g *PreOpPdi) IntoOp() (*Op, error) {
	safeOp, err := g.IntoSafeOp()
	if err != nil {
		return nil, err
	}
	return safeOp.IntoOp()
}

// IntoPreOp drops the group back to PRE-OP, e.g. to remap the PDI.
func (g *PreOpPdi) IntoPreOp() (*PreOp, error) {
	if err := g.transitionTo(register.StatePreOp); err != nil {
		return nil, err
	}
	return &PreOp{g.inner}, nil
}

// IntoOp transitions the group from SAFE-OP to OP.
func (g *SafeOp) IntoOp() (*Op, error) {
	if err := g.transitionTo(register.StateOp); err != nil {
		return nil, err
	}
	return &Op{g.inner}, nil
}

// RequestIntoOp requests OP but returns immediately; the cyclic PDI loop
// must keep running for the devices to complete the transition. Use AllOp
// to detect completion.
func (g *SafeOp) RequestIntoOp() (*Op, error) {
	if err := g.requestStateAll(register.StateOp); err != nil {
		return nil, err
	}
	return &Op{g.inner}, nil
}

// IntoPreOp drops the group from SAFE-OP back to PRE-OP.
func (g *SafeOp) IntoPreOp() (*PreOp, error) {
	if err := g.transitionTo(register.StatePreOp); err != nil {
		return nil, err
	}
	return &PreOp{g.inner}, nil
}

// IntoSafeOp drops the group from OP back to SAFE-OP.
func (g *Op) IntoSafeOp() (*SafeOp, error) {
	if err := g.transitionTo(register.StateSafeOp); err != nil {
		return nil, err
	}
	return &SafeOp{g.inner}, nil
}

// IntoPreOp shuts the group down to PRE-OP via SAFE-OP.
func (g *Op) IntoPreOp() (*PreOp, error) {
	safeOp, err := g.IntoSafeOp()
	if err != nil {
		return nil, err
	}
	return safeOp.IntoPreOp()
}

// IntoInit drops the group to INIT. INIT is terminal on failure, there is
// no rollback.
func (g *PreOp) IntoInit() (*Init, error) {
	if err := g.transitionTo(register.StateInit); err != nil {
		return nil, err
	}
	return &Init{g.inner}, nil
}

// AllOp reads the AL status of the whole segment with one broadcast and
// reports whether every device is in OP.
func (g *Op) AllOp() (bool, error) {
	word, wkc, err := g.m.BrdU16(register.AlStatusReg)
	if err != nil {
		return false, err
	}
	if err := pdu.CheckWorkingCounter(wkc, uint16(len(g.devices)), "broadcast AL status"); err != nil {
		return false, err
	}
	return register.DecodeAlStatus(word).State == register.StateOp, nil
}
