// Command ethercat is a segment diagnostic tool: it scans the attached
// EtherCAT segment, prints every SubDevice's identity, and reads object
// dictionary entries over CoE.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/group"
	"github.com/samsamfire/goethercat/pkg/link"
	_ "github.com/samsamfire/goethercat/pkg/link/pcaplink"
	"github.com/samsamfire/goethercat/pkg/link/trace"
	"github.com/samsamfire/goethercat/pkg/maindevice"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagInterface string
	flagConfig    string
	flagVerbose   bool
	flagTrace     string
)

func main() {
	root := &cobra.Command{
		Use:   "ethercat",
		Short: "EtherCAT segment diagnostics",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&flagInterface, "interface", "i", "eth0", "network interface of the EtherCAT segment")
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "master configuration file (ini)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&flagTrace, "trace", "", "record bus traffic to a pcap file")

	root.AddCommand(scanCmd(), sdoCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func connect() (*maindevice.MainDevice, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
	}
	if flagInterface != "" {
		cfg.Interface = flagInterface
	}

	lnk, err := link.NewLink(cfg.LinkType, cfg.Interface)
	if err != nil {
		return nil, err
	}
	if flagTrace != "" {
		lnk, err = trace.Wrap(lnk, flagTrace)
		if err != nil {
			return nil, err
		}
	}

	m, err := maindevice.New(cfg, 16, 1100)
	if err != nil {
		return nil, err
	}
	m.Connect(lnk)
	return m, nil
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Discover the segment and print every SubDevice",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := connect()
			if err != nil {
				return err
			}
			defer m.Disconnect()

			g, err := group.Initialize(m, group.DefaultOptions())
			if err != nil {
				return err
			}

			fmt.Printf("%-6s %-8s %-24s %-10s %-10s %-6s %s\n",
				"index", "address", "name", "vendor", "product", "DC", "delay")
			for _, sd := range g.Devices() {
				dc := "-"
				if sd.Flags.DcSupported {
					dc = "yes"
				}
				fmt.Printf("%-6d x%-7x %-24s x%08x  x%08x %-6s %d ns\n",
					sd.Index, sd.ConfiguredAddress, sd.Name,
					sd.Identity.VendorID, sd.Identity.ProductCode,
					dc, sd.PropagationDelay)
			}
			return nil
		},
	}
}

func sdoCmd() *cobra.Command {
	sdo := &cobra.Command{
		Use:   "sdo",
		Short: "CoE object dictionary access",
	}

	read := &cobra.Command{
		Use:   "read <device index> <index:subindex>",
		Short: "Upload an object dictionary entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceIndex, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("bad device index %q", args[0])
			}
			index, subindex, err := parseObject(args[1])
			if err != nil {
				return err
			}

			m, err := connect()
			if err != nil {
				return err
			}
			defer m.Disconnect()

			g, err := group.Initialize(m, group.DefaultOptions())
			if err != nil {
				return err
			}
			sd, err := g.Device(deviceIndex)
			if err != nil {
				return err
			}
			if sd.Coe == nil {
				return fmt.Errorf("SubDevice %v has no CoE mailbox", sd)
			}

			data, err := sd.Coe.Upload(index, subindex)
			if err != nil {
				return err
			}
			fmt.Printf("x%04x:%d = % x\n", index, subindex, data)
			return nil
		},
	}

	sdo.AddCommand(read)
	return sdo
}

// parseObject splits "1018:1" style object references, accepting hex with
// or without an x prefix.
func parseObject(s string) (uint16, uint8, error) {
	parts := strings.SplitN(s, ":", 2)
	index, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad object index %q", parts[0])
	}
	sub := uint64(0)
	if len(parts) == 2 {
		sub, err = strconv.ParseUint(parts[1], 10, 8)
		if err != nil {
			return 0, 0, fmt.Errorf("bad subindex %q", parts[1])
		}
	}
	return uint16(index), uint8(sub), nil
}
