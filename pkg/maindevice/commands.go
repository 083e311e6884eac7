package maindevice

import (
	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/command"
	"github.com/samsamfire/goethercat/pkg/pdu"
)

// SendReceive performs one single PDU round trip: allocate a frame, push
// the command with its payload (lenOverride reserves response space for
// read services), send, wait and extract. The returned data is a copy, the
// frame slot goes back to the pool before this returns.
func (m *MainDevice) SendReceive(cmd command.Command, payload []byte, lenOverride int) ([]byte, uint16, error) {
	f, err := m.loop.AllocFrame()
	if err != nil {
		return nil, 0, err
	}

	h, err := f.PushPdu(cmd, payload, lenOverride)
	if err != nil {
		f.Drop()
		return nil, 0, err
	}

	received, err := f.MarkSendable(m.cfg.Timeouts.Pdu, m.cfg.RetryBehaviour.Retries()).Wait()
	if err != nil {
		return nil, 0, err
	}
	defer received.Close()

	data, wkc, err := received.Pdu(h)
	if err != nil {
		return nil, 0, err
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, wkc, nil
}

// Read issues a read service expecting n response bytes and returns them
// together with the working counter.
func (m *MainDevice) Read(cmd command.Command, n int) ([]byte, uint16, error) {
	return m.SendReceive(cmd, nil, n)
}

// Write issues a write service carrying payload and returns the working
// counter.
func (m *MainDevice) Write(cmd command.Command, payload []byte) (uint16, error) {
	_, wkc, err := m.SendReceive(cmd, payload, 0)
	return wkc, err
}

// Device addressed reads. APRD/FPRD succeed with a working counter of
// exactly one; a mismatch surfaces immediately and is not retried.

func (m *MainDevice) readChecked(cmd command.Command, n int, context string) ([]byte, error) {
	data, wkc, err := m.Read(cmd, n)
	if err != nil {
		return nil, err
	}
	if err := pdu.CheckWorkingCounter(wkc, 1, context); err != nil {
		return nil, err
	}
	return data, nil
}

func (m *MainDevice) writeChecked(cmd command.Command, payload []byte, context string) error {
	wkc, err := m.Write(cmd, payload)
	if err != nil {
		return err
	}
	return pdu.CheckWorkingCounter(wkc, 1, context)
}

func (m *MainDevice) FprdBytes(address, register uint16, n int, context string) ([]byte, error) {
	return m.readChecked(command.Fprd(address, register), n, context)
}

func (m *MainDevice) FprdU8(address, register uint16, context string) (uint8, error) {
	b, err := m.FprdBytes(address, register, 1, context)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *MainDevice) FprdU16(address, register uint16, context string) (uint16, error) {
	b, err := m.FprdBytes(address, register, 2, context)
	if err != nil {
		return 0, err
	}
	return wire.Uint16At(b, 0), nil
}

func (m *MainDevice) FprdU32(address, register uint16, context string) (uint32, error) {
	b, err := m.FprdBytes(address, register, 4, context)
	if err != nil {
		return 0, err
	}
	return wire.Uint32At(b, 0), nil
}

func (m *MainDevice) FprdU64(address, register uint16, context string) (uint64, error) {
	b, err := m.FprdBytes(address, register, 8, context)
	if err != nil {
		return 0, err
	}
	return wire.Uint64At(b, 0), nil
}

func (m *MainDevice) FpwrBytes(address, register uint16, payload []byte, context string) error {
	return m.writeChecked(command.Fpwr(address, register), payload, context)
}

func (m *MainDevice) FpwrU8(address, register uint16, v uint8, context string) error {
	return m.FpwrBytes(address, register, []byte{v}, context)
}

func (m *MainDevice) FpwrU16(address, register uint16, v uint16, context string) error {
	b := make([]byte, 2)
	wire.PutUint16At(b, 0, v)
	return m.FpwrBytes(address, register, b, context)
}

func (m *MainDevice) FpwrU32(address, register uint16, v uint32, context string) error {
	b := make([]byte, 4)
	wire.PutUint32At(b, 0, v)
	return m.FpwrBytes(address, register, b, context)
}

func (m *MainDevice) FpwrU64(address, register uint16, v uint64, context string) error {
	b := make([]byte, 8)
	wire.PutUint64At(b, 0, v)
	return m.FpwrBytes(address, register, b, context)
}

// Auto increment addressed access, used before station addresses are
// assigned.

func (m *MainDevice) AprdBytes(position, register uint16, n int, context string) ([]byte, error) {
	return m.readChecked(command.Aprd(position, register), n, context)
}

func (m *MainDevice) AprdU16(position, register uint16, context string) (uint16, error) {
	b, err := m.AprdBytes(position, register, 2, context)
	if err != nil {
		return 0, err
	}
	return wire.Uint16At(b, 0), nil
}

func (m *MainDevice) ApwrU16(position, register uint16, v uint16, context string) error {
	b := make([]byte, 2)
	wire.PutUint16At(b, 0, v)
	return m.writeChecked(command.Apwr(position, register), b, context)
}

// Broadcasts. The working counter counts responding SubDevices, so it is
// returned to the caller instead of being checked here.

func (m *MainDevice) BrdBytes(register uint16, n int) ([]byte, uint16, error) {
	return m.Read(command.Brd(register), n)
}

func (m *MainDevice) BrdU8(register uint16) (uint8, uint16, error) {
	b, wkc, err := m.BrdBytes(register, 1)
	if err != nil {
		return 0, 0, err
	}
	return b[0], wkc, nil
}

func (m *MainDevice) BrdU16(register uint16) (uint16, uint16, error) {
	b, wkc, err := m.BrdBytes(register, 2)
	if err != nil {
		return 0, 0, err
	}
	return wire.Uint16At(b, 0), wkc, nil
}

func (m *MainDevice) BwrBytes(register uint16, payload []byte) (uint16, error) {
	return m.Write(command.Bwr(register), payload)
}

func (m *MainDevice) BwrU8(register uint16, v uint8) (uint16, error) {
	return m.BwrBytes(register, []byte{v})
}

func (m *MainDevice) BwrU16(register uint16, v uint16) (uint16, error) {
	b := make([]byte, 2)
	wire.PutUint16At(b, 0, v)
	return m.BwrBytes(register, b)
}

// FrmwU64 reads a 64 bit register from the addressed SubDevice while every
// following device takes the value on the fly, the DC redistribution
// primitive. The working counter is returned unchecked: how many devices
// consumed the value is timing dependent and not an error condition.
func (m *MainDevice) FrmwU64(address, register uint16) (uint64, uint16, error) {
	data, wkc, err := m.Read(command.Frmw(address, register), 8)
	if err != nil {
		return 0, 0, err
	}
	return wire.Uint64At(data, 0), wkc, nil
}
