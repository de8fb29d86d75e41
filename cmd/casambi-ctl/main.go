// Casambi-ctl is a command line tool for Casambi lighting networks.
//
// It connects to a network over a Bluetooth GATT proxy, pairs with a
// passphrase, monitors live unit state, sends lighting commands, and can
// bridge the network to an MQTT broker for home automation.
//
// Usage:
//
//	casambi-ctl [command] [flags]
//
// See 'casambi-ctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"casambi-go/internal/logging"
	"casambi-go/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "casambi-ctl",
	Short: "Casambi Network Control Utility",
	Long: `A standalone utility for Casambi lighting networks.

Provides Bluetooth proxy discovery, network pairing, a live monitoring
dashboard, direct lighting commands, and an MQTT bridge.`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitializeFromEnv()
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("casambi-ctl %s (commit: %s)\n", version.Version, version.Commit)
	},
}
