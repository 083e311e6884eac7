// Package config holds the MainDevice configuration: timeouts, retry policy
// and Distributed Clocks tuning. A configuration can be built in code or
// loaded from an INI file.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// RetryKind selects the PDU retry policy.
type RetryKind uint8

const (
	// RetryNone raises a timeout error on the first missed response.
	RetryNone RetryKind = iota
	// RetryCount resubmits the same frame up to Count times.
	RetryCount
	// RetryForever resubmits the same frame until it is answered. This can
	// soft lock the caller if the segment cable is pulled; prefer
	// RetryCount to bound the wait.
	RetryForever
)

// RetryBehaviour is the network retry policy applied to every PDU round
// trip. Retries reuse the same frame slot and the same PDU indices.
type RetryBehaviour struct {
	Kind  RetryKind
	Count int
}

// Retries returns the resubmission count to apply after the first attempt.
func (r RetryBehaviour) Retries() int {
	switch r.Kind {
	case RetryCount:
		return r.Count
	case RetryForever:
		return int(^uint(0) >> 1)
	default:
		return 0
	}
}

// Timeouts groups the per class time limits of the stack. All waits are
// measured on the monotonic clock.
type Timeouts struct {
	// Pdu bounds a single PDU round trip over the segment.
	Pdu time.Duration
	// StateTransition bounds an AL state change of a whole group.
	StateTransition time.Duration
	// MailboxResponse bounds one mailbox request/response exchange.
	MailboxResponse time.Duration
	// Eeprom bounds one SII busy wait.
	Eeprom time.Duration
	// WaitLoopDelay is the pause between iterations of polling loops.
	// Zero is correct on systems with high resolution timers; set a few
	// milliseconds on coarse timer systems to avoid spurious timeouts.
	WaitLoopDelay time.Duration
}

// Config is the complete MainDevice configuration.
type Config struct {
	// Interface is the network interface of the EtherCAT segment, used by
	// link implementations that bind to hardware.
	Interface string
	// LinkType selects the registered link implementation.
	LinkType string

	RetryBehaviour RetryBehaviour
	Timeouts       Timeouts

	// DcStaticSyncIterations is the number of FRMW frames sent during the
	// static drift compensation phase. Zero disables static sync.
	DcStaticSyncIterations uint32
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		LinkType:       "pcap",
		RetryBehaviour: RetryBehaviour{Kind: RetryNone},
		Timeouts: Timeouts{
			Pdu:             30 * time.Millisecond,
			StateTransition: 5 * time.Second,
			MailboxResponse: 1 * time.Second,
			Eeprom:          10 * time.Millisecond,
			WaitLoopDelay:   0,
		},
		DcStaticSyncIterations: 10_000,
	}
}

// Load reads a configuration file, overriding the defaults with the values
// present. Layout:
//
//	[master]
//	interface = eth0
//	link = pcap
//	dc_static_sync_iterations = 10000
//
//	[retry]
//	behaviour = count   ; none | count | forever
//	count = 3
//
//	[timeouts]
//	pdu_ms = 30
//	state_transition_ms = 5000
//	mailbox_response_ms = 1000
//	eeprom_ms = 10
//	wait_loop_delay_ms = 0
func Load(path string) (Config, error) {
	cfg := Default()

	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("loading config file : %w", err)
	}

	master := file.Section("master")
	cfg.Interface = master.Key("interface").MustString(cfg.Interface)
	cfg.LinkType = master.Key("link").MustString(cfg.LinkType)
	cfg.DcStaticSyncIterations = uint32(master.Key("dc_static_sync_iterations").MustUint(uint(cfg.DcStaticSyncIterations)))

	retry := file.Section("retry")
	switch retry.Key("behaviour").MustString("none") {
	case "none":
		cfg.RetryBehaviour = RetryBehaviour{Kind: RetryNone}
	case "count":
		cfg.RetryBehaviour = RetryBehaviour{Kind: RetryCount, Count: retry.Key("count").MustInt(3)}
	case "forever":
		cfg.RetryBehaviour = RetryBehaviour{Kind: RetryForever}
	default:
		return cfg, fmt.Errorf("unknown retry behaviour : %v", retry.Key("behaviour").String())
	}

	timeouts := file.Section("timeouts")
	ms := func(key string, def time.Duration) time.Duration {
		return time.Duration(timeouts.Key(key).MustInt64(def.Milliseconds())) * time.Millisecond
	}
	cfg.Timeouts.Pdu = ms("pdu_ms", cfg.Timeouts.Pdu)
	cfg.Timeouts.StateTransition = ms("state_transition_ms", cfg.Timeouts.StateTransition)
	cfg.Timeouts.MailboxResponse = ms("mailbox_response_ms", cfg.Timeouts.MailboxResponse)
	cfg.Timeouts.Eeprom = ms("eeprom_ms", cfg.Timeouts.Eeprom)
	cfg.Timeouts.WaitLoopDelay = ms("wait_loop_delay_ms", cfg.Timeouts.WaitLoopDelay)

	return cfg, nil
}
