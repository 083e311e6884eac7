package sii_test

import (
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/sii"
	"github.com/samsamfire/goethercat/pkg/sim"
	"github.com/stretchr/testify/assert"
)

func newEeprom(t *testing.T, devCfg sim.Config) *sii.Eeprom {
	t.Helper()

	cfg := config.Default()
	cfg.Timeouts.Pdu = 500 * time.Millisecond

	m, err := maindevice.New(cfg, 16, 256)
	assert.Nil(t, err)
	m.Connect(sim.NewSegment(sim.NewDevice(devCfg)))
	t.Cleanup(m.Disconnect)

	assert.Nil(t, m.AssignStationAddresses(1))
	return sii.NewEeprom(m, 0x1000)
}

func TestIdentity(t *testing.T) {
	e := newEeprom(t, sim.Config{
		VendorID:     0x00000002,
		ProductCode:  0x0B0C3052,
		Revision:     0x00100000,
		SerialNumber: 0x12345678,
	})

	id, err := e.Identity()
	assert.Nil(t, err)
	assert.Equal(t, uint32(0x00000002), id.VendorID)
	assert.Equal(t, uint32(0x0B0C3052), id.ProductCode)
	assert.Equal(t, uint32(0x00100000), id.Revision)
	assert.Equal(t, uint32(0x12345678), id.SerialNumber)
}

func TestAliasAddress(t *testing.T) {
	e := newEeprom(t, sim.Config{Alias: 0x0ABC})

	alias, err := e.AliasAddress()
	assert.Nil(t, err)
	assert.Equal(t, uint16(0x0ABC), alias)
}

func TestDeviceName(t *testing.T) {
	e := newEeprom(t, sim.Config{Name: "EK1100"})

	name, err := e.DeviceName()
	assert.Nil(t, err)
	assert.Equal(t, "EK1100", name)
}

func TestDeviceNameAbsent(t *testing.T) {
	e := newEeprom(t, sim.Config{})

	name, err := e.DeviceName()
	assert.Nil(t, err)
	assert.Equal(t, "", name)
}

func TestStringLookup(t *testing.T) {
	e := newEeprom(t, sim.Config{Name: "EL2889"})

	s, err := e.String(1)
	assert.Nil(t, err)
	assert.Equal(t, "EL2889", s)

	_, err = e.String(2)
	assert.Equal(t, sii.ErrStringNotFound, err)

	_, err = e.String(0)
	assert.Equal(t, sii.ErrStringNotFound, err)
}

func TestMailboxConfig(t *testing.T) {
	e := newEeprom(t, sim.Config{Mailbox: true})

	cfg, err := e.MailboxConfig()
	assert.Nil(t, err)
	assert.True(t, cfg.HasMailbox())
	assert.True(t, cfg.SupportsCoe())
	assert.Equal(t, uint16(0x1000), cfg.ReceiveOffset)
	assert.Equal(t, uint16(128), cfg.ReceiveLength)
	assert.Equal(t, uint16(0x1080), cfg.SendOffset)
}

func TestNoMailboxConfig(t *testing.T) {
	e := newEeprom(t, sim.Config{})

	cfg, err := e.MailboxConfig()
	assert.Nil(t, err)
	assert.False(t, cfg.HasMailbox())
	assert.False(t, cfg.SupportsCoe())
}

func TestSectionReaderSkipAndOverrun(t *testing.T) {
	e := newEeprom(t, sim.Config{VendorID: 0xAABBCCDD})

	// Start one byte into the vendor ID word and read across the odd
	// boundary.
	r := e.StartAt(0x0008, 4)
	assert.Nil(t, r.Skip(1))
	b, err := r.ReadU8()
	assert.Nil(t, err)
	assert.Equal(t, uint8(0xCC), b)
	assert.Equal(t, 2, r.Remaining())

	// Reading past the section end fails instead of spilling into the
	// next words.
	var buf [3]byte
	assert.Equal(t, sii.ErrSectionOverrun, r.TakeInto(buf[:]))
}
