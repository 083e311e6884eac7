package frame

import (
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/command"
	"github.com/stretchr/testify/assert"
)

func TestEthernetHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	assert.Nil(t, WriteEthernetHeader(buf, ethercat.MasterMAC))

	src, err := CheckEthernetHeader(buf)
	assert.Nil(t, err)
	assert.Equal(t, ethercat.MasterMAC[:], src)
	assert.False(t, ethercat.IsReflected(src))

	// First SubDevice sets the locally administered bit on reflection
	buf[6] |= 0x02
	src, _ = CheckEthernetHeader(buf)
	assert.True(t, ethercat.IsReflected(src))
}

func TestEtherCatHeader(t *testing.T) {
	buf := make([]byte, 2)
	assert.Nil(t, WriteHeader(buf, 0x123))

	n, err := ReadHeader(buf)
	assert.Nil(t, err)
	assert.Equal(t, 0x123, n)

	// Type nibble must be 1 (PDU transport)
	assert.Equal(t, byte(0x10), buf[1]&0xF0)

	buf[1] = 0x20
	_, err = ReadHeader(buf)
	assert.Equal(t, ErrNotEtherCAT, err)
}

func TestWritePduLayout(t *testing.T) {
	buf := make([]byte, 64)
	cmd := command.Fprd(0x1001, 0x0130)
	n, err := WritePdu(buf, cmd, 0x42, nil, 2, false)
	assert.Nil(t, err)
	assert.Equal(t, PduHeaderLength+2+2, n)

	assert.Equal(t, byte(command.FPRD), buf[0])
	assert.Equal(t, byte(0x42), buf[1])
	// Address little endian: device then register
	assert.Equal(t, []byte{0x01, 0x10, 0x30, 0x01}, buf[2:6])
	// Length word, no flags
	assert.Equal(t, []byte{0x02, 0x00}, buf[6:8])

	h, err := ReadPduHeader(buf)
	assert.Nil(t, err)
	assert.Equal(t, command.FPRD, h.Command)
	assert.Equal(t, uint8(0x42), h.Index)
	assert.Equal(t, uint16(2), h.Length)
	assert.False(t, h.MoreFollows)
}

func TestMultiPduWalk(t *testing.T) {
	buf := make([]byte, 128)

	n1, err := WritePdu(buf, command.Frmw(0x1000, 0x0910), 1, nil, 8, false)
	assert.Nil(t, err)
	SetMoreFollows(buf)

	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	n2, err := WritePdu(buf[n1:], command.Lrw(0x00010000), 2, payload, 16, false)
	assert.Nil(t, err)

	pdus, err := ReadPdus(buf[:n1+n2])
	assert.Nil(t, err)
	assert.Len(t, pdus, 2)
	assert.Equal(t, command.FRMW, pdus[0].Command)
	assert.True(t, pdus[0].MoreFollows)
	assert.Equal(t, command.LRW, pdus[1].Command)
	assert.False(t, pdus[1].MoreFollows)
	assert.Equal(t, payload, pdus[1].Data)
}

func TestReadPdusTruncated(t *testing.T) {
	buf := make([]byte, 64)
	n, _ := WritePdu(buf, command.Brd(0x0000), 0, nil, 2, false)
	_, err := ReadPdus(buf[:n-3])
	assert.NotNil(t, err)
}

func TestPadLength(t *testing.T) {
	assert.Equal(t, 60, PadLength(17))
	assert.Equal(t, 61, PadLength(61))
}
