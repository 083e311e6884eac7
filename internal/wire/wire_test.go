package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf)
	assert.Nil(t, w.Uint8(0xAB))
	assert.Nil(t, w.Uint16(0x1234))
	assert.Nil(t, w.Uint32(0xDEADBEEF))
	assert.Nil(t, w.Uint64(0x0102030405060708))
	assert.Nil(t, w.Bytes([]byte{1, 2, 3}))
	assert.Equal(t, 18, w.Pos())

	r := NewReader(buf)
	v8, _ := r.Uint8()
	assert.Equal(t, uint8(0xAB), v8)
	v16, _ := r.Uint16()
	assert.Equal(t, uint16(0x1234), v16)
	v32, _ := r.Uint32()
	assert.Equal(t, uint32(0xDEADBEEF), v32)
	v64, _ := r.Uint64()
	assert.Equal(t, uint64(0x0102030405060708), v64)
	b, _ := r.Bytes(3)
	assert.Equal(t, []byte{1, 2, 3}, b)
}

func TestLittleEndianLayout(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)
	assert.Nil(t, w.Uint32(0x11223344))
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, buf)
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.Uint16()
	assert.Equal(t, ErrBufferTooShort, err)
	// Position unchanged after a failed read
	v, err := r.Uint8()
	assert.Nil(t, err)
	assert.Equal(t, uint8(1), v)
}

func TestWriterShortBuffer(t *testing.T) {
	w := NewWriter(make([]byte, 3))
	assert.Equal(t, ErrBufferTooShort, w.Uint32(1))
	assert.Nil(t, w.Uint16(1))
}

func TestVisibleStringStripsNuls(t *testing.T) {
	r := NewReader([]byte{'E', 'K', '1', '1', '0', '0', 0, 0})
	s, err := r.VisibleString(8)
	assert.Nil(t, err)
	assert.Equal(t, "EK1100", s)
}

func TestIndexedAccessors(t *testing.T) {
	b := make([]byte, 16)
	PutUint64At(b, 4, 0x1122334455667788)
	assert.Equal(t, uint64(0x1122334455667788), Uint64At(b, 4))
	assert.Equal(t, uint32(0x55667788), Uint32At(b, 4))
	assert.Equal(t, uint16(0x7788), Uint16At(b, 4))
}
