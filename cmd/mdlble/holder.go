package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/mdlble/presentment"
)

var holderCmd = &cobra.Command{
	Use:   "holder",
	Short: "Present as the mdoc holder",
	Long: `Run the holder (mdoc) side of a device retrieval.

With --option peripheral the holder advertises a fresh mdoc service (or --service) and
hosts the GATT service, serving --ident on the Ident characteristic. With --option
central the holder scans for the reader's --service and connects to it.

Every request received is printed as hex and answered with --response, when given.`,
	Example: `  mdlble holder --option peripheral --response @device-response.cbor
  mdlble holder --option central --service 4c0a1f6e-8a34-4b70-a7e2-2a5e3f3c9b11`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSessionCommand(cmd, presentment.Holder, "response")
	},
}

func init() {
	addSessionFlags(holderCmd)
	holderCmd.Flags().StringP("response", "r", "", "Response sent to each request, as hex or @file")
}
