package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/mdlble/discovery"
	"github.com/srg/mdlble/internal/device"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for devices advertising an mdoc service",
	Long: `Scan for BLE devices and list those advertising the given mdoc service, or every
connectable device when --service is omitted.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanService  string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVarP(&scanService, "service", "s", "", "Only list devices advertising this service UUID")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}
	if scanService != "" {
		if _, err := device.ValidateUUID(scanService); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	adapter, err := newAdapter(logger)
	if err != nil {
		return fmt.Errorf("failed to open BLE adapter: %w", err)
	}
	defer releaseAdapter(adapter, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peers, err := collectPeers(ctx, discovery.NewScanner(adapter, logger), scanService, scanDuration)
	if err != nil {
		return err
	}
	return displayPeers(cmd.OutOrStdout(), peers, scanFormat)
}

// collectPeers scans until the duration elapses or ctx ends and returns every peer seen
func collectPeers(ctx context.Context, sc *discovery.Scanner, service string, duration time.Duration) ([]discovery.Peer, error) {
	defer sc.Close()
	if err := sc.Start(ctx, discovery.ScanOptions{ServiceUUID: service, Timeout: duration}); err != nil {
		return nil, err
	}

	for {
		select {
		case ev := <-sc.Events():
			switch ev.Type {
			case discovery.Failed:
				return nil, ev.Err
			case discovery.TimedOut:
				return sc.Peers(), nil
			}
		case <-ctx.Done():
			sc.Stop()
			return sc.Peers(), nil
		}
	}
}

func displayPeers(out io.Writer, peers []discovery.Peer, format string) error {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].RSSI != peers[j].RSSI {
			return peers[i].RSSI > peers[j].RSSI
		}
		return peers[i].Address < peers[j].Address
	})

	if format == "json" {
		if peers == nil {
			peers = []discovery.Peer{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(peers)
	}

	if len(peers) == 0 {
		fmt.Fprintln(out, "No devices found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tSERVICES")
	for _, p := range peers {
		name := p.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Address, name, p.RSSI, strings.Join(p.Services, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n", color.New(color.Bold).Sprintf("%d device(s) found", len(peers)))
	return nil
}
