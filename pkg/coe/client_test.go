package coe_test

import (
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/coe"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/sim"
	"github.com/stretchr/testify/assert"
)

func newClient(t *testing.T, devCfg sim.Config) *coe.Client {
	t.Helper()

	cfg := config.Default()
	cfg.Timeouts.Pdu = 500 * time.Millisecond

	m, err := maindevice.New(cfg, 16, 256)
	assert.Nil(t, err)
	m.Connect(sim.NewSegment(sim.NewDevice(devCfg)))
	t.Cleanup(m.Disconnect)

	assert.Nil(t, m.AssignStationAddresses(1))

	mbxLen := uint16(128)
	if devCfg.MailboxLength > 0 {
		mbxLen = devCfg.MailboxLength
	}
	return coe.NewClient(m, 0x1000, coe.Mailbox{
		WriteOffset: 0x1000,
		WriteLength: mbxLen,
		ReadOffset:  0x1080,
		ReadLength:  mbxLen,
	})
}

func TestExpeditedUpload(t *testing.T) {
	client := newClient(t, sim.Config{
		Mailbox:  true,
		VendorID: 0x00000002,
	})

	// Identity object, vendor ID subindex.
	v, err := client.UploadU16(0x1018, 1)
	assert.Nil(t, err)
	assert.Equal(t, uint16(0x0002), v)
	assert.Equal(t, uint8(1), client.Counter())

	// The device mailbox counter advances with every exchange.
	v32, err := client.UploadU32(0x1018, 1)
	assert.Nil(t, err)
	assert.Equal(t, uint32(0x00000002), v32)
	assert.Equal(t, uint8(2), client.Counter())
}

func TestSegmentedUpload(t *testing.T) {
	// An 18 byte name behind a 16 byte mailbox arrives in three segments
	// of 7, 7 and 4 bytes with the toggle running 0, 1, 0.
	name := append([]byte("EL2828 Segmented"), 0, 0)
	assert.Len(t, name, 18)

	client := newClient(t, sim.Config{
		Mailbox:       true,
		MailboxLength: 16,
		Objects: map[uint16]map[uint8][]byte{
			0x1008: {0: name},
		},
	})

	s, err := client.UploadString(0x1008, 0)
	assert.Nil(t, err)
	assert.Equal(t, "EL2828 Segmented", s)
}

func TestNormalUpload(t *testing.T) {
	// 20 bytes fit a 128 byte mailbox in one normal response.
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}

	client := newClient(t, sim.Config{
		Mailbox: true,
		Objects: map[uint16]map[uint8][]byte{
			0x2000: {1: data},
		},
	})

	got, err := client.Upload(0x2000, 1)
	assert.Nil(t, err)
	assert.Equal(t, data, got)
}

func TestUploadAbort(t *testing.T) {
	client := newClient(t, sim.Config{Mailbox: true})

	_, err := client.Upload(0x5555, 0)
	abort, ok := err.(*coe.SdoAbort)
	assert.True(t, ok)
	assert.Equal(t, coe.AbortNotExist, abort.Code)
	assert.Equal(t, uint16(0x5555), abort.Index)
}

func TestExpeditedDownload(t *testing.T) {
	client := newClient(t, sim.Config{Mailbox: true})

	assert.Nil(t, client.DownloadU32(0x2000, 2, 0xCAFEBABE))

	v, err := client.UploadU32(0x2000, 2)
	assert.Nil(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), v)
}

func TestSegmentedDownload(t *testing.T) {
	data := make([]byte, 30)
	for i := range data {
		data[i] = byte(0x30 + i)
	}

	client := newClient(t, sim.Config{
		Mailbox:       true,
		MailboxLength: 16,
	})

	assert.Nil(t, client.Download(0x2001, 0, data))

	got, err := client.Upload(0x2001, 0)
	assert.Nil(t, err)
	assert.Equal(t, data, got)
}

func TestNoMailbox(t *testing.T) {
	client := coe.NewClient(nil, 0x1000, coe.Mailbox{})
	_, err := client.Upload(0x1000, 0)
	assert.Equal(t, coe.ErrNoMailbox, err)
}
