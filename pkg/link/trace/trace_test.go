package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samsamfire/goethercat/pkg/sim"
	"github.com/stretchr/testify/assert"
)

func TestTraceRecordsTraffic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.pcap")

	seg := sim.NewSegment(sim.NewDevice(sim.Config{}))
	lnk, err := Wrap(seg, path)
	assert.Nil(t, err)

	// A valid minimal EtherCAT frame: the segment reflects it.
	frame := make([]byte, 60)
	for i := 0; i < 6; i++ {
		frame[i] = 0xFF
		frame[6+i] = 0x10
	}
	frame[12] = 0x88
	frame[13] = 0xA4
	frame[15] = 0x10 // EtherCAT header, type PDU
	frame[14] = 14   // one 2 byte BRD datagram
	frame[16] = 0x07 // BRD
	frame[22] = 2    // length

	assert.Nil(t, lnk.Send(frame))

	buf := make([]byte, 1514)
	n, err := lnk.Recv(buf)
	assert.Nil(t, err)
	assert.Equal(t, 60, n)

	assert.Nil(t, lnk.Close())

	// File header plus two packet records.
	info, err := os.Stat(path)
	assert.Nil(t, err)
	assert.Greater(t, info.Size(), int64(24+2*(16+60)-1))
}
