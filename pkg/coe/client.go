package coe

import (
	"fmt"
	"time"

	"github.com/samsamfire/goethercat/internal/wire"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	"github.com/samsamfire/goethercat/pkg/register"
	log "github.com/sirupsen/logrus"
)

// Mailbox describes where a SubDevice's standard mailboxes live in its
// physical memory. Write is sync manager 0, read is sync manager 1.
type Mailbox struct {
	WriteOffset uint16
	WriteLength uint16
	ReadOffset  uint16
	ReadLength  uint16
}

// Client is the SDO access point of one SubDevice. It owns the device's
// mailbox counter; concurrent use against the same device must be
// serialized by the caller.
type Client struct {
	m       *maindevice.MainDevice
	address uint16
	mailbox Mailbox

	// counter is the last used mailbox counter. Valid values cycle
	// through 1..7, zero means "don't check" and is never sent.
	counter uint8
}

func NewClient(m *maindevice.MainDevice, stationAddress uint16, mailbox Mailbox) *Client {
	return &Client{m: m, address: stationAddress, mailbox: mailbox}
}

// Counter returns the last used mailbox counter, mainly for tests.
func (c *Client) Counter() uint8 {
	return c.counter
}

// nextCounter advances the device mailbox counter, wrapping 7 back to 1.
func (c *Client) nextCounter() uint8 {
	c.counter++
	if c.counter > 7 {
		c.counter = 1
	}
	return c.counter
}

// roundtrip writes one mailbox request into SM0 and returns the matching
// response read from SM1.
func (c *Client) roundtrip(request []byte, counter uint8) ([]byte, error) {
	if c.mailbox.WriteLength == 0 || c.mailbox.ReadLength == 0 {
		return nil, ErrNoMailbox
	}
	if len(request) > int(c.mailbox.WriteLength) {
		return nil, ErrOverfull
	}

	// Drain a stale response left in the read mailbox, e.g. from an
	// aborted previous exchange.
	status, err := c.m.FprdU8(c.address, register.SyncManagerStatus(1), "read mailbox status")
	if err != nil {
		return nil, err
	}
	if status&(1<<3) != 0 {
		log.Debugf("[COE][x%x] draining stale mailbox response", c.address)
		if _, err := c.m.FprdBytes(c.address, c.mailbox.ReadOffset, int(c.mailbox.ReadLength), "drain mailbox"); err != nil {
			return nil, err
		}
	}

	// The write must cover the whole mailbox buffer for the sync manager
	// to latch it.
	padded := make([]byte, c.mailbox.WriteLength)
	copy(padded, request)
	if err := c.m.FpwrBytes(c.address, c.mailbox.WriteOffset, padded, "mailbox request"); err != nil {
		return nil, err
	}

	// Wait for the device to post its response into SM1.
	deadline := time.Now().Add(c.m.Timeouts().MailboxResponse)
	for {
		status, err := c.m.FprdU8(c.address, register.SyncManagerStatus(1), "read mailbox status")
		if err != nil {
			return nil, err
		}
		if status&(1<<3) != 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		if d := c.m.Timeouts().WaitLoopDelay; d > 0 {
			time.Sleep(d)
		}
	}

	response, err := c.m.FprdBytes(c.address, c.mailbox.ReadOffset, int(c.mailbox.ReadLength), "mailbox response")
	if err != nil {
		return nil, err
	}

	header, err := parseMailboxHeader(response)
	if err != nil {
		return nil, err
	}
	if header.Type == mailboxTypeErr {
		return nil, fmt.Errorf("%w : mailbox error response", ErrResponse)
	}
	if header.Type != mailboxTypeCoe {
		return nil, fmt.Errorf("%w : mailbox type x%x", ErrResponse, header.Type)
	}
	if header.Counter != counter {
		return nil, fmt.Errorf("%w : sent %d, got %d", ErrInvalidCounter, counter, header.Counter)
	}

	return response, nil
}

// Upload reads the value of an object dictionary entry, transparently
// handling expedited, normal and segmented transfers.
func (c *Client) Upload(index uint16, subindex uint8) ([]byte, error) {
	counter := c.nextCounter()

	response, err := c.roundtrip(uploadRequest(counter, index, subindex), counter)
	if err != nil {
		return nil, err
	}

	init, err := parseInitResponse(response)
	if err != nil {
		return nil, err
	}
	if err := init.abort(); err != nil {
		return nil, err
	}
	if init.spec != specUpload {
		return nil, fmt.Errorf("%w : command specifier %d", ErrResponse, init.spec)
	}

	// Expedited: up to 4 bytes inline.
	if init.expedited {
		data := init.expeditedData()
		out := make([]byte, len(data))
		copy(out, data)
		log.Debugf("[COE][x%x] expedited upload x%04x:%d, %d bytes", c.address, index, subindex, len(out))
		return out, nil
	}

	// Normal: the response announces the complete size; the initial
	// mailbox may already carry everything.
	if len(init.data) < 4 {
		return nil, wire.ErrBufferTooShort
	}
	completeSize := int(wire.Uint32At(init.data, 0))

	// Payload capacity of the initial response, per spec mailbox length
	// minus CoE (2), SDO header (4) and complete size (4).
	normalCapacity := int(init.mailbox.Length) - coeHeaderLength - initHeaderLength - 4

	out := make([]byte, 0, completeSize)

	if completeSize <= normalCapacity {
		if len(init.data) < 4+completeSize {
			return nil, wire.ErrBufferTooShort
		}
		out = append(out, init.data[4:4+completeSize]...)
		log.Debugf("[COE][x%x] normal upload x%04x:%d, %d bytes", c.address, index, subindex, len(out))
		return out, nil
	}

	// Segmented: issue upload segment requests with an alternating toggle
	// until the device flags the last segment.
	toggle := false
	for {
		counter := c.nextCounter()
		response, err := c.roundtrip(uploadSegmentRequest(counter, toggle), counter)
		if err != nil {
			return nil, err
		}
		seg, err := parseSegmentResponse(response)
		if err != nil {
			return nil, err
		}
		if seg.spec == specAbort {
			init, err := parseInitResponse(response)
			if err != nil {
				return nil, err
			}
			return nil, init.abort()
		}
		if seg.toggle != toggle {
			return nil, &SdoAbort{Index: index, Subindex: subindex, Code: AbortToggleBit}
		}

		chunk := seg.chunk()
		if len(out)+len(chunk) > completeSize {
			chunk = chunk[:completeSize-len(out)]
		}
		out = append(out, chunk...)

		if seg.lastSegment {
			break
		}
		toggle = !toggle
	}

	if len(out) != completeSize {
		return nil, fmt.Errorf("%w : expected %d bytes, assembled %d", ErrResponse, completeSize, len(out))
	}
	log.Debugf("[COE][x%x] segmented upload x%04x:%d, %d bytes", c.address, index, subindex, len(out))
	return out, nil
}

// Download writes a value to an object dictionary entry: expedited when it
// fits 4 bytes, otherwise a normal transfer followed by download segments
// with the usual toggle discipline.
func (c *Client) Download(index uint16, subindex uint8, data []byte) error {
	if len(data) <= 4 {
		counter := c.nextCounter()
		response, err := c.roundtrip(expeditedDownloadRequest(counter, index, subindex, data), counter)
		if err != nil {
			return err
		}
		init, err := parseInitResponse(response)
		if err != nil {
			return err
		}
		if err := init.abort(); err != nil {
			return err
		}
		return nil
	}

	// Normal download: announce the complete size and ship the first
	// chunk inline.
	initCapacity := int(c.mailbox.WriteLength) - normalHeadersLength - 4
	if initCapacity < 0 {
		return ErrNoMailbox
	}
	first := data
	if len(first) > initCapacity {
		first = first[:initCapacity]
	}

	counter := c.nextCounter()
	response, err := c.roundtrip(normalDownloadRequest(counter, index, subindex, uint32(len(data)), first), counter)
	if err != nil {
		return err
	}
	init, err := parseInitResponse(response)
	if err != nil {
		return err
	}
	if err := init.abort(); err != nil {
		return err
	}

	remaining := data[len(first):]
	segCapacity := int(c.mailbox.WriteLength) - segmentedHeadersLength
	toggle := false

	for len(remaining) > 0 {
		chunk := remaining
		if len(chunk) > segCapacity {
			chunk = chunk[:segCapacity]
		}
		remaining = remaining[len(chunk):]
		last := len(remaining) == 0

		counter := c.nextCounter()
		response, err := c.roundtrip(downloadSegmentRequest(counter, toggle, last, chunk), counter)
		if err != nil {
			return err
		}
		seg, err := parseSegmentResponse(response)
		if err != nil {
			return err
		}
		if seg.spec == specAbort {
			init, err := parseInitResponse(response)
			if err != nil {
				return err
			}
			return init.abort()
		}
		if seg.toggle != toggle {
			return &SdoAbort{Index: index, Subindex: subindex, Code: AbortToggleBit}
		}

		toggle = !toggle
	}

	log.Debugf("[COE][x%x] download x%04x:%d, %d bytes", c.address, index, subindex, len(data))
	return nil
}

// Typed convenience accessors.

func (c *Client) UploadU8(index uint16, subindex uint8) (uint8, error) {
	data, err := c.Upload(index, subindex)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, wire.ErrBufferTooShort
	}
	return data[0], nil
}

func (c *Client) UploadU16(index uint16, subindex uint8) (uint16, error) {
	data, err := c.Upload(index, subindex)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, wire.ErrBufferTooShort
	}
	return wire.Uint16At(data, 0), nil
}

func (c *Client) UploadU32(index uint16, subindex uint8) (uint32, error) {
	data, err := c.Upload(index, subindex)
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, wire.ErrBufferTooShort
	}
	return wire.Uint32At(data, 0), nil
}

// UploadString reads a visible string object, trailing NULs stripped.
func (c *Client) UploadString(index uint16, subindex uint8) (string, error) {
	data, err := c.Upload(index, subindex)
	if err != nil {
		return "", err
	}
	for len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	return string(data), nil
}

func (c *Client) DownloadU8(index uint16, subindex uint8, v uint8) error {
	return c.Download(index, subindex, []byte{v})
}

func (c *Client) DownloadU16(index uint16, subindex uint8, v uint16) error {
	b := make([]byte, 2)
	wire.PutUint16At(b, 0, v)
	return c.Download(index, subindex, b)
}

func (c *Client) DownloadU32(index uint16, subindex uint8, v uint32) error {
	b := make([]byte, 4)
	wire.PutUint32At(b, 0, v)
	return c.Download(index, subindex, b)
}
