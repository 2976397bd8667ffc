package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eegkit/muselink/internal/transport/goble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby headbands",
	Long: `Scan for Bluetooth Low Energy devices and list them, flagging devices
that advertise the headband streaming service.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every BLE device, not only headbands")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "Scanning for %s...\n", scanDuration)

	tr := goble.New(logger)
	devices, err := tr.Scan(ctx, scanDuration)
	if err != nil {
		return err
	}

	entries := make([]goble.DeviceEntry, 0, len(devices))
	for _, e := range devices {
		if scanAll || e.Headband {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Headband != entries[j].Headband {
			return entries[i].Headband
		}
		return entries[i].RSSI > entries[j].RSSI
	})

	if len(entries) == 0 {
		if scanAll {
			fmt.Println("No devices discovered")
		} else {
			fmt.Println("No headbands discovered (use --all to list every BLE device)")
		}
		return nil
	}

	if scanFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}
	return displayScanTable(entries)
}

func displayScanTable(entries []goble.DeviceEntry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tHEADBAND\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 70))

	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		headband := ""
		if e.Headband {
			headband = "yes"
		}
		lastSeen := time.Since(e.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n", name, e.Address, e.RSSI, headband, lastSeen)
	}
	return w.Flush()
}
