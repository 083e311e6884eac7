// Package pcaplink is the live raw Ethernet transport, built on libpcap.
// It binds to a network interface with a BPF filter for the EtherCAT
// EtherType, so the RX worker only ever sees segment traffic.
package pcaplink

import (
	"fmt"

	"github.com/google/gopacket/pcap"
	"github.com/samsamfire/goethercat/pkg/link"
)

func init() {
	link.RegisterInterface("pcap", NewPcapLink)
}

const snapLen = 65536

// Link is a pcap backed raw Ethernet endpoint.
type Link struct {
	handle *pcap.Handle
}

// NewPcapLink opens the named interface in promiscuous mode with immediate
// delivery. EtherCAT is latency sensitive, buffering receive batches would
// show up directly as cycle jitter.
func NewPcapLink(ifname string) (link.Link, error) {
	inactive, err := pcap.NewInactiveHandle(ifname)
	if err != nil {
		return nil, fmt.Errorf("opening %v : %w", ifname, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, err
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, err
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, err
	}
	if err := inactive.SetTimeout(pcap.BlockForever); err != nil {
		return nil, err
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activating %v : %w", ifname, err)
	}

	if err := handle.SetBPFFilter("ether proto 0x88a4"); err != nil {
		handle.Close()
		return nil, err
	}

	return &Link{handle: handle}, nil
}

func (l *Link) Send(frame []byte) error {
	return l.handle.WritePacketData(frame)
}

func (l *Link) Recv(buf []byte) (int, error) {
	data, _, err := l.handle.ReadPacketData()
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

func (l *Link) Close() error {
	l.handle.Close()
	return nil
}
