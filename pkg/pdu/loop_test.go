package pdu

import (
	"sync"
	"testing"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/command"
	"github.com/samsamfire/goethercat/pkg/frame"
	"github.com/stretchr/testify/assert"
)

// echoLink reflects every sent frame the way a looped segment would: it
// sets the locally administered bit on the source MAC and increments the
// working counter of every PDU.
type echoLink struct {
	mu     sync.Mutex
	rx     chan []byte
	drop   int
	closed bool
}

func newEchoLink() *echoLink {
	return &echoLink{rx: make(chan []byte, 16)}
}

func (e *echoLink) Send(f []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drop > 0 {
		e.drop--
		return nil
	}
	out := make([]byte, len(f))
	copy(out, f)
	out[6] |= 0x02

	// Bump every working counter in place.
	body := out[ethercat.EthernetHeaderLength+frame.HeaderLength:]
	for {
		h, err := frame.ReadPduHeader(body)
		if err != nil {
			break
		}
		wkcOff := frame.PduHeaderLength + int(h.Length)
		wire.PutUint16At(body, wkcOff, wire.Uint16At(body, wkcOff)+1)
		if !h.MoreFollows {
			break
		}
		body = body[wkcOff+2:]
	}

	e.rx <- out
	return nil
}

func (e *echoLink) Recv(buf []byte) (int, error) {
	f, ok := <-e.rx
	if !ok {
		return 0, assert.AnError
	}
	return copy(buf, f), nil
}

func (e *echoLink) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.rx)
	}
	return nil
}

func startLoop(t *testing.T, numFrames, maxPduData int) (*Loop, *echoLink, func()) {
	t.Helper()
	l, err := NewLoop(numFrames, maxPduData)
	assert.Nil(t, err)

	lnk := newEchoLink()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); l.RunTx(lnk, stop) }()
	go func() { defer wg.Done(); l.RunRx(lnk, stop) }()

	return l, lnk, func() {
		close(stop)
		lnk.Close()
		l.notifyTx()
		wg.Wait()
	}
}

func TestFrameSlotExhaustion(t *testing.T) {
	l, err := NewLoop(2, 128)
	assert.Nil(t, err)

	f1, err := l.AllocFrame()
	assert.Nil(t, err)
	f2, err := l.AllocFrame()
	assert.Nil(t, err)

	_, err = l.AllocFrame()
	assert.Equal(t, ErrCreateFrame, err)

	f1.Drop()
	f3, err := l.AllocFrame()
	assert.Nil(t, err)

	f2.Drop()
	f3.Drop()
}

func TestPduIndexExhaustion(t *testing.T) {
	// 16 frames x 16 PDUs each covers all 256 indices; the pool has
	// spare slots so index exhaustion is observed, not slot exhaustion.
	l, err := NewLoop(32, 1024)
	assert.Nil(t, err)

	frames := make([]*CreatedFrame, 0, 16)
	for i := 0; i < 16; i++ {
		f, err := l.AllocFrame()
		assert.Nil(t, err)
		for j := 0; j < MaxPdusPerFrame; j++ {
			_, err := f.PushPdu(command.Brd(0x0000), nil, 2)
			assert.Nil(t, err)
		}
		frames = append(frames, f)
	}
	assert.Equal(t, 256, l.LiveIndexCount())

	extra, err := l.AllocFrame()
	assert.Nil(t, err) // a slot is free, indices are not
	_, err = extra.PushPdu(command.Brd(0x0000), nil, 2)
	assert.Equal(t, ErrSwarmedPduIndices, err)
	extra.Drop()

	// Releasing one frame frees its 16 indices again.
	frames[3].Drop()
	assert.Equal(t, 240, l.LiveIndexCount())

	f, err := l.AllocFrame()
	assert.Nil(t, err)
	_, err = f.PushPdu(command.Brd(0x0000), nil, 2)
	assert.Nil(t, err)
	f.Drop()

	for i, f := range frames {
		if i != 3 {
			f.Drop()
		}
	}
	assert.Equal(t, 0, l.LiveIndexCount())
}

func TestRoundTrip(t *testing.T) {
	l, _, stop := startLoop(t, 8, 128)
	defer stop()

	f, err := l.AllocFrame()
	assert.Nil(t, err)

	h, err := f.PushPdu(command.Brd(0x0000), nil, 2)
	assert.Nil(t, err)

	received, err := f.MarkSendable(time.Second, 0).Wait()
	assert.Nil(t, err)

	data, wkc, err := received.Pdu(h)
	assert.Nil(t, err)
	assert.Len(t, data, 2)
	assert.Equal(t, uint16(1), wkc)

	// A handle is consumed on first take.
	_, _, err = received.Pdu(h)
	assert.Equal(t, ErrInvalidIndex, err)

	received.Close()
	assert.Equal(t, 0, l.LiveIndexCount())
}

func TestMultiPduFrame(t *testing.T) {
	l, _, stop := startLoop(t, 8, 256)
	defer stop()

	f, err := l.AllocFrame()
	assert.Nil(t, err)

	dcHandle, err := f.PushPdu(command.Frmw(0x1000, 0x0910), nil, 8)
	assert.Nil(t, err)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	lrwHandle, err := f.PushPdu(command.Lrw(0x00010000), payload, 0)
	assert.Nil(t, err)

	received, err := f.MarkSendable(time.Second, 0).Wait()
	assert.Nil(t, err)

	dcData, dcWkc, err := received.Pdu(dcHandle)
	assert.Nil(t, err)
	assert.Len(t, dcData, 8)
	assert.Equal(t, uint16(1), dcWkc)

	lrwData, lrwWkc, err := received.Pdu(lrwHandle)
	assert.Nil(t, err)
	assert.Equal(t, payload, lrwData)
	assert.Equal(t, uint16(1), lrwWkc)

	received.Close()
	assert.Equal(t, 0, l.LiveIndexCount())

	// The slot is back in the pool and fully reusable.
	for i := 0; i < 8; i++ {
		g, err := l.AllocFrame()
		assert.Nil(t, err)
		defer g.Drop()
	}
}

func TestRetryRecoversDroppedFrame(t *testing.T) {
	l, lnk, stop := startLoop(t, 4, 64)
	defer stop()

	lnk.mu.Lock()
	lnk.drop = 1
	lnk.mu.Unlock()

	f, err := l.AllocFrame()
	assert.Nil(t, err)
	h, err := f.PushPdu(command.Brd(0x0000), nil, 2)
	assert.Nil(t, err)

	received, err := f.MarkSendable(20*time.Millisecond, 2).Wait()
	assert.Nil(t, err)
	_, wkc, err := received.Pdu(h)
	assert.Nil(t, err)
	assert.Equal(t, uint16(1), wkc)
	received.Close()
}

func TestRetryExhaustion(t *testing.T) {
	l, lnk, stop := startLoop(t, 4, 64)
	defer stop()

	// Drop the original send and both retries.
	lnk.mu.Lock()
	lnk.drop = 3
	lnk.mu.Unlock()

	f, err := l.AllocFrame()
	assert.Nil(t, err)
	_, err = f.PushPdu(command.Brd(0x0000), nil, 2)
	assert.Nil(t, err)

	_, err = f.MarkSendable(10*time.Millisecond, 2).Wait()
	assert.Equal(t, ErrTimeout, err)

	// No reservation survives a failed round trip.
	assert.Equal(t, 0, l.LiveIndexCount())
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	l, err := NewLoop(4, 64)
	assert.Nil(t, err)

	// Craft a reflected frame carrying an index nobody reserved.
	buf := make([]byte, 60)
	frame.WriteEthernetHeader(buf, ethercat.MasterMAC)
	buf[6] |= 0x02
	n, _ := frame.WritePdu(buf[headersLength:], command.Brd(0x0000), 0x55, nil, 2, false)
	frame.WriteHeader(buf[ethercat.EthernetHeaderLength:], n)

	l.ProcessReceived(buf)
	assert.Equal(t, 0, l.LiveIndexCount())
}

func TestNonReflectedFrameIgnored(t *testing.T) {
	l, _ := NewLoop(4, 64)

	f, _ := l.AllocFrame()
	h, _ := f.PushPdu(command.Brd(0x0000), nil, 2)
	fut := f.MarkSendable(50*time.Millisecond, 0)

	// Mark the slot sent manually (no TX worker running) and feed back the
	// frame without the reflection bit: it must be ignored.
	slot := &l.frames[0]
	for i := range l.frames {
		if l.frames[i].state.CompareAndSwap(stateSendable, stateSent) {
			slot = &l.frames[i]
			break
		}
	}

	echo := make([]byte, slot.rxLen)
	copy(echo, slot.buf[:slot.rxLen])
	l.ProcessReceived(echo)

	_, err := fut.Wait()
	assert.Equal(t, ErrTimeout, err)
	_ = h
}
