// Package trace wraps any link and mirrors every frame, sent and received,
// into a pcap file. The capture opens directly in Wireshark, which is how
// mapping or working counter problems on a live rack usually get
// diagnosed.
package trace

import (
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/samsamfire/goethercat/pkg/link"
)

// Link records all traffic of an inner link into a pcap file.
type Link struct {
	inner link.Link

	mu     sync.Mutex
	file   *os.File
	writer *pcapgo.Writer
}

// Wrap opens the capture file and returns the tracing link.
func Wrap(inner link.Link, path string) (*Link, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, err
	}

	return &Link{inner: inner, file: file, writer: writer}, nil
}

func (l *Link) record(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return
	}
	info := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	// Capture failures must never disturb bus traffic.
	_ = l.writer.WritePacket(info, data)
}

func (l *Link) Send(frame []byte) error {
	l.record(frame)
	return l.inner.Send(frame)
}

func (l *Link) Recv(buf []byte) (int, error) {
	n, err := l.inner.Recv(buf)
	if err != nil {
		return n, err
	}
	l.record(buf[:n])
	return n, nil
}

func (l *Link) Close() error {
	err := l.inner.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
		l.writer = nil
	}
	return err
}
