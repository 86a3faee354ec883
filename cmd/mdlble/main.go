package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mdlble",
	Short: "ISO 18013-5 mDL device retrieval over BLE",
	Long: `Mobile driving licence (ISO/IEC 18013-5) device retrieval over Bluetooth Low Energy:

- Act as the holder (mdoc) or the reader in either BLE option
- mdoc peripheral server mode: the holder advertises and hosts the GATT service
- mdoc central client mode: the reader advertises and hosts the GATT service
- Scan for nearby mdoc services and list the ISO 18013-5 characteristic UUIDs

Useful for interoperability testing of wallets and verifier terminals.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("mdlble {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(holderCmd)
	rootCmd.AddCommand(readerCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(uuidsCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
