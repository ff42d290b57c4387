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

// newRootCmd builds the command tree. Tests build a fresh tree per run so
// flag values do not leak between cases.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "brc1h",
		Short: "Daikin BRC1H remote controller client",
		Long: `Command-line client for the Daikin BRC1H (Madoka) wired remote controller
over Bluetooth Low Energy:

- Read the full controller state or single attributes
- Change power, operation mode, set points and fan speeds
- Send raw protocol frames for exploration
- Bridge the controller to an MQTT broker for home automation

Settings come from defaults, an optional YAML file (--config) and
BRC1H_* environment variables, in that order.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// main prints clean errors
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringP("address", "a", "", "Controller BLE address (overrides device.address)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(
		newStatusCmd(),
		newGetCmd(),
		newSetCmd(),
		newInfoCmd(),
		newSendCmd(),
		newBridgeCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
