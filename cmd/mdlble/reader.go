package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/mdlble/presentment"
)

var readerCmd = &cobra.Command{
	Use:   "reader",
	Short: "Retrieve from an mdoc holder",
	Long: `Run the reader side of a device retrieval.

With --option central the reader scans for the holder's --service, verifies --ident
when given, and connects. With --option peripheral the reader advertises a fresh mdoc
service (or --service) and waits for the holder.

Once connected the reader sends --request, prints the response and terminates.`,
	Example: `  mdlble reader --option central --service 4c0a1f6e-8a34-4b70-a7e2-2a5e3f3c9b11 --request @device-request.cbor`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSessionCommand(cmd, presentment.Reader, "request")
	},
}

func init() {
	addSessionFlags(readerCmd)
	readerCmd.Flags().StringP("request", "r", "", "Request sent once connected, as hex or @file")
}
