package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/mdlble/internal/transport"
)

var uuidsCmd = &cobra.Command{
	Use:   "uuids",
	Short: "List the ISO 18013-5 characteristic UUIDs",
	Long: `List the characteristic UUIDs of the mdoc service for mdoc central client mode
and mdoc peripheral server mode.`,
	Args: cobra.NoArgs,
	RunE: runUUIDs,
}

var (
	uuidsFormat string
	uuidsMode   string
)

func init() {
	uuidsCmd.Flags().StringVarP(&uuidsFormat, "format", "f", "text", "Output format (text, json)")
	uuidsCmd.Flags().StringVarP(&uuidsMode, "mode", "m", "", "Only list one mode: central-client or peripheral-server")
}

type characteristicsJSON struct {
	Mode          string `json:"mode"`
	State         string `json:"state"`
	Client2Server string `json:"client2server"`
	Server2Client string `json:"server2client"`
	Ident         string `json:"ident,omitempty"`
	L2CAP         string `json:"l2cap"`
}

func runUUIDs(cmd *cobra.Command, _ []string) error {
	var modes []transport.Mode
	switch uuidsMode {
	case "":
		modes = []transport.Mode{transport.CentralClientMode, transport.PeripheralServerMode}
	case transport.CentralClientMode.String():
		modes = []transport.Mode{transport.CentralClientMode}
	case transport.PeripheralServerMode.String():
		modes = []transport.Mode{transport.PeripheralServerMode}
	default:
		return fmt.Errorf("invalid mode '%s': must be central-client or peripheral-server", uuidsMode)
	}

	switch uuidsFormat {
	case "text":
		printCharacteristics(cmd.OutOrStdout(), modes)
		return nil
	case "json":
		var out []characteristicsJSON
		for _, mode := range modes {
			set := transport.CharacteristicsFor(mode)
			out = append(out, characteristicsJSON{
				Mode:          mode.String(),
				State:         set.State,
				Client2Server: set.Client2Server,
				Server2Client: set.Server2Client,
				Ident:         set.Ident,
				L2CAP:         set.L2CAP,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return fmt.Errorf("invalid format '%s': must be one of [text json]", uuidsFormat)
}

func printCharacteristics(out io.Writer, modes []transport.Mode) {
	for i, mode := range modes {
		if i > 0 {
			fmt.Fprintln(out)
		}
		set := transport.CharacteristicsFor(mode)
		fmt.Fprintln(out, mode)
		row := func(name, uuid string) {
			if uuid != "" {
				fmt.Fprintf(out, "  %-14s %s\n", name, uuid)
			}
		}
		row("State", set.State)
		row("Client2Server", set.Client2Server)
		row("Server2Client", set.Server2Client)
		row("Ident", set.Ident)
		row("L2CAP", set.L2CAP)
	}
}
